package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codex-d/runner/internal/client"
)

func newReviewCmd() *cobra.Command {
	var uncommitted bool
	var commit string
	var base string
	var prompt string
	var detach bool
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Create a review run against uncommitted changes, a commit, or a base ref",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd.Context(), uncommitted, commit, base, prompt, detach)
		},
	}
	cmd.Flags().BoolVar(&uncommitted, "uncommitted", false, "review the working tree's uncommitted changes")
	cmd.Flags().StringVar(&commit, "commit", "", "review a single commit by sha")
	cmd.Flags().StringVar(&base, "base", "", "review the diff against a base ref")
	cmd.Flags().StringVar(&prompt, "prompt", "", "extra review instructions")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "create the run without attaching")
	return cmd
}

func runReview(ctx context.Context, uncommitted bool, commit, base, prompt string, detach bool) error {
	selected := 0
	for _, b := range []bool{uncommitted, commit != "", base != ""} {
		if b {
			selected++
		}
	}
	if selected > 1 {
		return usageErrorf("--uncommitted, --commit, and --base are mutually exclusive")
	}

	cwd, err := resolveCwd()
	if err != nil {
		return err
	}

	body := map[string]any{
		"uncommitted": uncommitted,
		"commitId":    commit,
		"baseRef":     base,
	}

	sandbox := ""
	// Combining --prompt with --uncommitted or --base forces app-server mode
	// with a read-only sandbox, since the agent needs live repo access to
	// answer follow-up instructions rather than a one-shot diff review.
	if prompt != "" && (uncommitted || base != "") {
		body["mode"] = "appserver"
		sandbox = "read-only"
	} else {
		body["mode"] = "exec"
	}

	c, err := resolveClient(ctx)
	if err != nil {
		return err
	}

	resp, err := c.CreateRun(ctx, client.CreateRunRequest{
		Cwd:     cwd,
		Prompt:  prompt,
		Kind:    "review",
		Review:  body,
		Sandbox: sandbox,
	})
	if err != nil {
		return err
	}

	if detach {
		printResult(resp, "review run "+resp.RunID+" created ("+resp.Status+")")
		return nil
	}
	return attachRun(ctx, c, resp.RunID)
}
