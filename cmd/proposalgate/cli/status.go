package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether a proposalgate server is ready",
		Long:  "Query the readiness endpoint of the configured server and report its store check.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	port := viper.GetInt("server.port")
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	readyAddr := fmt.Sprintf("http://%s:%d/readyz", host, port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s\n", readyAddr)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	fmt.Fprintf(out, "Server is %s (%d)\n", body.Status, resp.StatusCode)
	for name, result := range body.Checks {
		fmt.Fprintf(out, "  %-8s %s\n", name+":", result)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server not ready")
	}
	return nil
}
