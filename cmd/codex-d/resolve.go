package main

import (
	"context"

	"github.com/codex-d/runner/internal/client"
	"github.com/codex-d/runner/internal/common/config"
)

// resolveClient builds a Client for the current invocation: an explicit
// --url short-circuits discovery, otherwise the daemon and foreground
// targets named by config are tried in order.
func resolveClient(ctx context.Context) (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	opts := client.ResolveOptions{
		ExplicitURL:        flags.url,
		ExplicitToken:      flags.token,
		DaemonStateDir:     cfg.Server.DaemonStateDir,
		ForegroundPort:     cfg.Server.ForegroundPort,
		ForegroundStateDir: cfg.Server.ForegroundStateDir,
	}
	if opts.ExplicitToken == "" {
		opts.ExplicitToken = client.EnvToken()
	}
	if opts.ExplicitURL == "" {
		opts.ExplicitURL = client.EnvURL()
	}

	return client.Resolve(ctx, opts)
}
