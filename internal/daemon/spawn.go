package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/paths"
)

// handshakeTimeout bounds how long the parent waits for the child to write
// its runtime descriptor and answer a healthy /v1/health.
const handshakeTimeout = 10 * time.Second

// SpawnOptions describes how to launch the daemon child.
type SpawnOptions struct {
	// BinaryPath is the installed binary to exec (never the build output —
	// self-install has already run by the time this is called).
	BinaryPath string
	Args       []string
	Env        []string
	Layout     paths.Layout
}

// Handle is a running daemon child process.
type Handle struct {
	cmd        *exec.Cmd
	Descriptor *daemonfile.Descriptor
}

// PID reports the child process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Spawn starts the daemon child and blocks until it is healthy or
// handshakeTimeout elapses. It races two conditions: the child answering a
// healthy GET /v1/health, against the child exiting before it gets there —
// whichever happens first ends the wait. A separate goroutine reports
// cmd.Wait on a childExited channel, and a single errgroup goroutine polls
// for the descriptor and health on a ticker while selecting on that channel.
func Spawn(ctx context.Context, opts SpawnOptions) (*Handle, error) {
	cmd := exec.Command(opts.BinaryPath, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon child: %w", err)
	}

	handle := &Handle{cmd: cmd}

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	childExited := make(chan error, 1)
	go func() { childExited <- cmd.Wait() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return waitForDescriptorAndHealth(gctx, opts.Layout, childExited, handle)
	})

	if err := g.Wait(); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return handle, nil
}

func waitForDescriptorAndHealth(ctx context.Context, layout paths.Layout, childExited <-chan error, handle *Handle) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	httpClient := &http.Client{Timeout: 2 * time.Second}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for daemon child to become healthy: %w", ctx.Err())
		case err := <-childExited:
			return fmt.Errorf("daemon child exited during startup: %w", err)
		case <-ticker.C:
		}

		desc, err := daemonfile.Read(layout.RuntimeFile())
		if err != nil {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.BaseURL+"/v1/health", nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		// Unauthenticated health is exempt when auth is disabled, and a
		// 401 still proves the socket is live when auth is required; either
		// way the child is up.
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
			handle.Descriptor = desc
			return nil
		}
	}
}

// Kill sends the process an immediate, non-cooperative termination,
// used by `daemon stop --force` when a graceful /v1/shutdown fails.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// LogStart is a convenience for the parent to announce the handshake it is
// about to perform.
func LogStart(log *logger.Logger, opts SpawnOptions) {
	log.Info("spawning daemon child",
		zap.String("binary", opts.BinaryPath),
		zap.Strings("args", opts.Args),
	)
}
