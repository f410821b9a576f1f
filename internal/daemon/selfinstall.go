package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/codex-d/runner/internal/common/logger"
)

// SelfInstall compares the running binary's version against the
// previously-installed version marker in installDir; if they differ (or
// force is set), it copies buildDir's entire tree into installDir and
// rewrites the marker. The daemon child is always spawned from installDir,
// never from buildDir directly, so re-running the parent from a freshly
// built binary is how a user upgrades an already-running dev daemon.
func SelfInstall(buildDir, installDir, version string, force bool, log *logger.Logger) (installed bool, err error) {
	versionFile := filepath.Join(installDir, ".version")

	if !force {
		if existing, err := os.ReadFile(versionFile); err == nil && string(existing) == version {
			return false, nil
		}
	}

	log.Info("self-installing runner",
		zap.String("from", buildDir),
		zap.String("to", installDir),
		zap.String("version", version),
		zap.Bool("force", force),
	)

	if err := os.RemoveAll(installDir); err != nil {
		return false, fmt.Errorf("clear install dir: %w", err)
	}
	if err := copyTree(buildDir, installDir); err != nil {
		return false, fmt.Errorf("copy application tree: %w", err)
	}
	if err := os.WriteFile(versionFile, []byte(version), 0o644); err != nil {
		return false, fmt.Errorf("write version marker: %w", err)
	}
	return true, nil
}

// InstalledBinary returns the path to the installed copy of the running
// binary, given its own basename.
func InstalledBinary(installDir, binaryName string) string {
	return filepath.Join(installDir, binaryName)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
