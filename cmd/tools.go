package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var toolsEndpoint string
var toolsGroup string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a running hub exposes",
	Long: `Queries a running hub's REST API and prints the tools available in a
group (default: the default group) as a table.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

// toolListResponse mirrors the REST envelope for the tools endpoints.
type toolListResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Tool struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tool"`
		ServerName string `json:"serverName"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func runTools(cmd *cobra.Command, args []string) error {
	url := toolsEndpoint + "/api/tools"
	if toolsGroup != "" {
		url = fmt.Sprintf("%s/api/groups/%s/tools", toolsEndpoint, toolsGroup)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("could not reach hub at %s: %w", toolsEndpoint, err)
	}
	defer resp.Body.Close()

	var parsed toolListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("unexpected response from hub: %w", err)
	}
	if !parsed.Success {
		if parsed.Error != nil {
			return fmt.Errorf("hub returned %s: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return fmt.Errorf("hub returned status %d", resp.StatusCode)
	}

	if len(parsed.Data) == 0 {
		fmt.Println("No tools available")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Tool", "Server", "Description"})
	for _, entry := range parsed.Data {
		t.AppendRow(table.Row{entry.Tool.Name, entry.ServerName, entry.Tool.Description})
	}
	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(toolsCmd)

	toolsCmd.Flags().StringVar(&toolsEndpoint, "endpoint", "http://localhost:8080", "Base URL of the running hub")
	toolsCmd.Flags().StringVar(&toolsGroup, "group", "", "Group to list tools for (default: the default group)")
}
