package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check daemon and engine health",
	Long:  `Query the daemon's health endpoint, which also reports engine and store reachability.`,
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

type healthResponse struct {
	Status  string  `json:"status"`
	Engine  string  `json:"engine"`
	Store   string  `json:"store"`
	CPUUsed float64 `json:"cpu_used_percent"`
	MemUsed float64 `json:"mem_used_percent"`
}

func runPing(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", GetServerURL())

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// 503 still carries a health body when the daemon is degraded
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result healthResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Component", "Status")
	table.Append("Daemon", result.Status)
	table.Append("Engine", result.Engine)
	table.Append("Store", result.Store)
	table.Append("CPU", fmt.Sprintf("%.1f%%", result.CPUUsed))
	table.Append("Memory", fmt.Sprintf("%.1f%%", result.MemUsed))
	table.Render()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("daemon reports degraded health")
	}
	return nil
}
