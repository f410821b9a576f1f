package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codex-d/runner/internal/client"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the resolved runner's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			info, err := c.Info(cmd.Context())
			if err != nil {
				info = &client.InfoResponse{BaseURL: c.BaseURL}
			}
			printResult(map[string]any{
				"status":       health.Status,
				"codexRuntime": health.CodexRuntime,
				"baseUrl":      info.BaseURL,
				"runnerId":     info.RunnerID,
				"version":      info.Version,
			}, fmt.Sprintf("%s (codex runtime: %s)", info.BaseURL, health.CodexRuntime))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI's build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printResult(map[string]string{"version": cliVersion}, cliVersion)
			return nil
		},
	}
}

// cliVersion is set via -ldflags at build time, mirroring the daemon's own
// release-version marker.
var cliVersion = "dev"
