package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-d/runner/internal/client"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Operate on a single run",
	}
	cmd.AddCommand(
		newRunAttachCmd(),
		newRunInterruptCmd(),
		newRunStopCmd(),
		newRunResumeCmd(),
		newRunSteerCmd(),
		newRunMessagesCmd(),
		newRunThinkingCmd(),
	)
	return cmd
}

// resolveRunID returns args[0] if given, or the most recently created run
// scoped to the resolved cwd when last is set.
func resolveRunID(ctx context.Context, c *client.Client, args []string, last bool) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if !last {
		return "", usageErrorf("a run id is required, or pass --last")
	}
	cwd, err := resolveCwd()
	if err != nil {
		return "", err
	}
	runs, err := c.ListRuns(ctx, cwd, false)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs found for %s", cwd)
	}
	return runs[len(runs)-1].ID(), nil
}

func newRunAttachCmd() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "attach [id]",
		Short: "Stream a run's events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, args, last)
			if err != nil {
				return err
			}
			return attachRun(cmd.Context(), c, id)
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "attach to the most recently created run")
	return cmd
}

// attachRun streams a run's SSE events to stdout, formatted per
// --output-format, returning once the run reaches a terminal state.
func attachRun(ctx context.Context, c *client.Client, runID string) error {
	format := streamingFormat()
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	err := c.StreamEvents(ctx, runID, "replay=true&follow=true", func(ev client.SSEEvent) error {
		switch format {
		case "json", "jsonl":
			printJSONLine(map[string]string{"event": ev.Event, "data": ev.Data})
		default:
			fmt.Fprintf(w, "[%s] %s\n", ev.Event, ev.Data)
			w.Flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

func newRunInterruptCmd() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "interrupt [id]",
		Short: "Cooperatively interrupt a run's current turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, args, last)
			if err != nil {
				return err
			}
			if err := c.Interrupt(cmd.Context(), id); err != nil {
				return err
			}
			printResult(map[string]string{"runId": id, "status": "interrupted"}, "run "+id+" interrupted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	return cmd
}

func newRunStopCmd() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a run, transitioning it to paused",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, args, last)
			if err != nil {
				return err
			}
			if err := c.Stop(cmd.Context(), id); err != nil {
				return err
			}
			printResult(map[string]string{"runId": id, "status": "paused"}, "run "+id+" stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	return cmd
}

func newRunResumeCmd() *cobra.Command {
	var last bool
	var reasoning string
	cmd := &cobra.Command{
		Use:   "resume [prompt]",
		Short: "Resume a paused run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, nil, last)
			if err != nil {
				return err
			}
			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			}
			resp, err := c.Resume(cmd.Context(), id, prompt, reasoning)
			if err != nil {
				return err
			}
			printResult(resp, "run "+resp.RunID+" resumed ("+resp.Status+")")
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "reasoning effort override: low, medium, high")
	return cmd
}

func newRunSteerCmd() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "steer <text>",
		Short: "Inject a steering message into a run's active turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, nil, last)
			if err != nil {
				return err
			}
			if err := c.Steer(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			printResult(map[string]string{"runId": id, "status": "steered"}, "steered run "+id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	return cmd
}

func newRunMessagesCmd() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "messages [id]",
		Short: "List a run's agent messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, args, last)
			if err != nil {
				return err
			}
			msgs, err := c.Messages(cmd.Context(), id, 0, 0)
			if err != nil {
				return err
			}
			if flags.outputFormat == "jsonl" || flags.outputFormat == "json" {
				for _, m := range msgs {
					printJSONLine(m)
				}
				return nil
			}
			for _, m := range msgs {
				fmt.Println(m.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	return cmd
}

func newRunThinkingCmd() *cobra.Command {
	var last bool
	var timestamps bool
	cmd := &cobra.Command{
		Use:   "thinking [id]",
		Short: "List a run's thinking summaries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd.Context(), c, args, last)
			if err != nil {
				return err
			}
			summaries, err := c.ThinkingSummaries(cmd.Context(), id, timestamps, 0)
			if err != nil {
				return err
			}
			if flags.outputFormat == "jsonl" || flags.outputFormat == "json" {
				for _, s := range summaries {
					printJSONLine(s)
				}
				return nil
			}
			for _, s := range summaries {
				if timestamps && s.CreatedAt != "" {
					fmt.Printf("[%s] %s\n", s.CreatedAt, s.Text)
				} else {
					fmt.Println(s.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "act on the most recently created run")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "include timestamps")
	return cmd
}
