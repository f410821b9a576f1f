package daemon

import (
	"context"
	"fmt"

	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/paths"
)

// Shutdowner is the narrow client surface Stop needs: POST /v1/shutdown.
// Satisfied by *internal/client.Client; kept as an interface here so this
// package doesn't import the client package back (daemon is lower-level).
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Stop requests a graceful shutdown of the daemon at layout. If the
// request fails and force is true, it kills the process by the pid
// recorded in the runtime descriptor instead. Either way, the runtime
// descriptor is removed on a best-effort basis — its absence is what lets
// the next `daemon start` know the slot is free.
func Stop(ctx context.Context, layout paths.Layout, c Shutdowner, force bool) error {
	desc, err := daemonfile.Read(layout.RuntimeFile())
	if err != nil {
		return fmt.Errorf("no running daemon found at %s: %w", layout.RuntimeFile(), err)
	}

	shutdownErr := c.Shutdown(ctx)
	if shutdownErr == nil {
		daemonfile.Remove(layout.RuntimeFile())
		return nil
	}

	if !force {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	if err := Kill(desc.PID); err != nil {
		daemonfile.Remove(layout.RuntimeFile())
		return fmt.Errorf("graceful shutdown failed (%v) and force-kill of pid %d failed: %w", shutdownErr, desc.PID, err)
	}
	daemonfile.Remove(layout.RuntimeFile())
	return nil
}
