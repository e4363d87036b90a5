package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mcphub/internal/config"
	"mcphub/internal/hub"
	"mcphub/internal/server"
	"mcphub/pkg/logging"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath overrides the configuration directory. When empty the
// user-level directory is used.
var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub and serve the REST, SSE and MCP endpoints",
	Long: `Starts the hub: connects to every configured MCP server, loads API
tool definitions, and serves the REST API, the /events stream and the /mcp
endpoint until interrupted.

Configuration is read from config.yaml in the configuration directory
(default: ~/.config/mcphub, override with --config-path).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	configPath := serveConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(&cfg)
	if err := h.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize hub: %w", err)
	}

	srv := server.New(h, cfg.Hub)
	if err := srv.Start(ctx); err != nil {
		_ = h.Shutdown(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}

	logging.Info("Serve", "mcphub ready on %s:%d", cfg.Hub.Host, cfg.Hub.Port)

	<-ctx.Done()
	logging.Info("Serve", "Shutting down")

	shutdownCtx := context.Background()
	return errors.Join(srv.Stop(shutdownCtx), h.Shutdown(shutdownCtx))
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
}
