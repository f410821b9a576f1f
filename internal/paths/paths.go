// Package paths defines the on-disk state-directory layout and resolves
// paths within it, including the foreground vs daemon state directories.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout resolves file paths for one state directory.
type Layout struct {
	StateDir string
}

// New returns a Layout rooted at stateDir, expanding a leading "~".
func New(stateDir string) Layout {
	return Layout{StateDir: Expand(stateDir)}
}

// Expand expands a leading "~" to the user's home directory.
func Expand(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if p == "~" {
				return home
			}
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// EnsureStateDir creates the state directory (and runs/ subdirectory) if
// they do not already exist.
func (l Layout) EnsureStateDir() error {
	return os.MkdirAll(filepath.Join(l.StateDir, "runs"), 0o755)
}

// IdentityFile is the path to the identity.json file.
func (l Layout) IdentityFile() string {
	return filepath.Join(l.StateDir, "identity.json")
}

// RuntimeFile is the path to the daemon runtime descriptor.
func (l Layout) RuntimeFile() string {
	return filepath.Join(l.StateDir, "daemon.json")
}

// InstallDir is where the daemon's self-install step copies the
// application directory tree to, so the child is always spawned from an
// installed copy rather than the (possibly transient) build output.
func (l Layout) InstallDir() string {
	return filepath.Join(l.StateDir, "install")
}

// VersionFile is the installed-version marker compared against the
// running binary's version on every daemon start.
func (l Layout) VersionFile() string {
	return filepath.Join(l.InstallDir(), ".version")
}

// IndexFile is the path to the append-only run index.
func (l Layout) IndexFile() string {
	return filepath.Join(l.StateDir, "runs", "index.jsonl")
}

// RunDir returns the per-run directory, sharded by creation year/month:
// <stateDir>/runs/<yyyy>/<mm>/<runId>/
func (l Layout) RunDir(year int, month int, runID string) string {
	return filepath.Join(l.StateDir, "runs", fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), runID)
}

func (l Layout) RunFile(relDir string) string {
	return filepath.Join(l.StateDir, "runs", relDir, "run.json")
}

func (l Layout) EventsFile(relDir string) string {
	return filepath.Join(l.StateDir, "runs", relDir, "events.jsonl")
}

func (l Layout) RollupFile(relDir string) string {
	return filepath.Join(l.StateDir, "runs", relDir, "rollup.jsonl")
}

