package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (initialization failure, command error).
	ExitCodeError = 1
)

// rootCmd is the base command for the mcphub application.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Aggregate MCP servers behind one endpoint",
	Long: `mcphub connects to multiple MCP servers over stdio, SSE or
streamable HTTP, groups their tools into named access scopes, and exposes
the aggregate through a single MCP endpoint plus a REST API with a
server-sent event stream.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with the
// build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}
