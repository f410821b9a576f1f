// Command codex-d is the runner: it runs the HTTP/SSE server (foreground or
// detached daemon) and doubles as the CLI that talks to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags holds the flags accepted by every subcommand, bound as
// package-level variables the way each cobra command in this binary does.
type globalFlags struct {
	url          string
	token        string
	cwd          string
	outputFormat string
	jsonFlag     bool
}

var flags globalFlags

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		reportError(err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "codex-d",
		Short:         "codex-d mediates between the CLI and the codex agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return resolveOutputFormat()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.url, "url", "", "explicit runner base URL, skips discovery")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "explicit bearer token, skips resolution")
	cmd.PersistentFlags().StringVar(&flags.cwd, "cd", "", "working directory a run is scoped to (defaults to the current directory)")
	cmd.PersistentFlags().StringVar(&flags.outputFormat, "output-format", "human", "human, json, or jsonl")
	cmd.PersistentFlags().BoolVar(&flags.jsonFlag, "json", false, "deprecated alias for --output-format json")

	cmd.AddCommand(
		newServeCmd(),
		newDaemonCmd(),
		newExecCmd(),
		newReviewCmd(),
		newRunCmd(),
		newRunsCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return cmd
}

// resolveOutputFormat folds the deprecated --json alias into --output-format
// and validates the result, exactly once per invocation.
func resolveOutputFormat() error {
	if flags.jsonFlag && flags.outputFormat == "human" {
		flags.outputFormat = "json"
	}
	switch flags.outputFormat {
	case "human", "json", "jsonl":
		return nil
	default:
		return usageErrorf("--output-format must be one of human, json, jsonl")
	}
}

func resolveCwd() (string, error) {
	if flags.cwd != "" {
		return flags.cwd, nil
	}
	return os.Getwd()
}

// usageError marks an error as CLI-usage invalid, exit code 2, distinct from
// a runtime failure (exit code 1).
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exitCodeFor(err error) int {
	if _, ok := err.(*usageError); ok {
		return 2
	}
	return 1
}
