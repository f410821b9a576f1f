package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/codex-d/runner/internal/apierr"
	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/identity"
	"github.com/codex-d/runner/internal/paths"
)

// ResolveOptions carries the explicit overrides a CLI invocation may supply,
// highest priority first in every resolution order below.
type ResolveOptions struct {
	ExplicitURL   string
	ExplicitToken string

	// DaemonStateDir and ForegroundPort locate the two candidate targets
	// when no explicit URL is given.
	DaemonStateDir     string
	ForegroundPort     int
	ForegroundStateDir string
}

// errRunnerNotFound is returned when neither candidate target answered.
// Its message names both endpoints that were tried. The CLI's error
// reporting has no dedicated kind for it: it is reported like any other
// runtime failure ("exception" in json output).
type errRunnerNotFound struct {
	daemonErr     error
	foregroundErr error
}

func (e *errRunnerNotFound) Error() string {
	return fmt.Sprintf("no runner found: daemon (%v), foreground (%v)", e.daemonErr, e.foregroundErr)
}

// Resolve implements the discovery order: explicit URL wins
// outright; otherwise the daemon runtime descriptor is tried first
// (health-checked), then the foreground static port (health-checked);
// failing both is a typed, actionable error. Discovery never spawns a
// daemon on its own — a cold miss is always reported, never auto-started.
func Resolve(ctx context.Context, opts ResolveOptions) (*Client, error) {
	if opts.ExplicitURL != "" {
		c := New(opts.ExplicitURL, resolveToken(opts, opts.ExplicitURL, ""))
		return c, nil
	}

	var daemonErr, foregroundErr error

	if opts.DaemonStateDir != "" {
		layout := paths.New(opts.DaemonStateDir)
		if desc, err := daemonfile.Read(layout.RuntimeFile()); err == nil {
			c := New(desc.BaseURL, resolveToken(opts, desc.BaseURL, layout.IdentityFile()))
			if checkReachable(ctx, c) {
				return c, nil
			}
			daemonErr = fmt.Errorf("daemon at %s did not respond healthy", desc.BaseURL)
		} else {
			daemonErr = fmt.Errorf("no daemon runtime descriptor at %s: %w", layout.RuntimeFile(), err)
		}
	} else {
		daemonErr = errors.New("no daemon state dir configured")
	}

	if opts.ForegroundPort != 0 {
		url := fmt.Sprintf("http://127.0.0.1:%d", opts.ForegroundPort)
		layout := paths.New(opts.ForegroundStateDir)
		c := New(url, resolveToken(opts, url, layout.IdentityFile()))
		if checkReachable(ctx, c) {
			return c, nil
		}
		foregroundErr = fmt.Errorf("foreground runner at %s did not respond healthy", url)
	} else {
		foregroundErr = errors.New("no foreground port configured")
	}

	return nil, &errRunnerNotFound{daemonErr: daemonErr, foregroundErr: foregroundErr}
}

// checkReachable treats both 200 and 401 as proof of life: a 401 means
// "reachable, needs a token", distinct from a connection failure, exactly
// so discovery can tell the two apart.
func checkReachable(ctx context.Context, c *Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := c.Health(ctx)
	if err == nil {
		return true
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindUnauthorized {
		return true
	}
	return false
}

// resolveToken implements the token resolution order: explicit >
// env (CODEX_D_TOKEN / CODEX_RUNNER_TOKEN) > the identity file of the
// chosen target.
func resolveToken(opts ResolveOptions, _ string, identityFile string) string {
	if opts.ExplicitToken != "" {
		return opts.ExplicitToken
	}
	if v := os.Getenv("CODEX_D_TOKEN"); v != "" {
		return v
	}
	if v := os.Getenv("CODEX_RUNNER_TOKEN"); v != "" {
		return v
	}
	if identityFile == "" {
		return ""
	}
	id, err := identity.Load(identityFile)
	if err != nil {
		return ""
	}
	return id.Token
}

// EnvURL resolves the explicit-URL environment override, checking the
// canonical variable then its accepted alias.
func EnvURL() string {
	if v := os.Getenv("CODEX_D_URL"); v != "" {
		return v
	}
	return os.Getenv("CODEX_RUNNER_URL")
}

// EnvToken resolves the explicit-token environment override.
func EnvToken() string {
	if v := os.Getenv("CODEX_D_TOKEN"); v != "" {
		return v
	}
	return os.Getenv("CODEX_RUNNER_TOKEN")
}
