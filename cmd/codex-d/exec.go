package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codex-d/runner/internal/client"
)

func newExecCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "exec <prompt>",
		Short: "Create a run and, unless -d, attach its stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), args[0], detach)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "create the run without attaching")
	return cmd
}

func runExec(ctx context.Context, prompt string, detach bool) error {
	cwd, err := resolveCwd()
	if err != nil {
		return err
	}
	c, err := resolveClient(ctx)
	if err != nil {
		return err
	}

	resp, err := c.CreateRun(ctx, client.CreateRunRequest{Cwd: cwd, Prompt: prompt, Kind: "exec"})
	if err != nil {
		return err
	}

	if detach {
		printResult(resp, "run "+resp.RunID+" created ("+resp.Status+")")
		return nil
	}
	return attachRun(ctx, c, resp.RunID)
}
