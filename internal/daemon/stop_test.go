package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/paths"
)

type fakeShutdowner struct{ err error }

func (f fakeShutdowner) Shutdown(ctx context.Context) error { return f.err }

func writeDescriptor(t *testing.T, layout paths.Layout, pid int) {
	t.Helper()
	require.NoError(t, daemonfile.Write(layout.RuntimeFile(), &daemonfile.Descriptor{
		BaseURL:   "http://127.0.0.1:0",
		PID:       pid,
		StartedAt: time.Now().UTC(),
	}))
}

func TestStop_GracefulRemovesDescriptor(t *testing.T) {
	layout := paths.New(t.TempDir())
	writeDescriptor(t, layout, os.Getpid())

	err := Stop(context.Background(), layout, fakeShutdowner{}, false)
	require.NoError(t, err)

	_, err = daemonfile.Read(layout.RuntimeFile())
	assert.True(t, os.IsNotExist(err))
}

func TestStop_GracefulFailureWithoutForceReturnsError(t *testing.T) {
	layout := paths.New(t.TempDir())
	writeDescriptor(t, layout, os.Getpid())

	err := Stop(context.Background(), layout, fakeShutdowner{err: errors.New("unreachable")}, false)
	assert.Error(t, err)

	_, readErr := daemonfile.Read(layout.RuntimeFile())
	assert.NoError(t, readErr, "descriptor must survive a failed non-forced stop")
}

func TestStop_NoRunningDaemonIsAnError(t *testing.T) {
	layout := paths.New(t.TempDir())
	err := Stop(context.Background(), layout, fakeShutdowner{}, false)
	assert.Error(t, err)
}
