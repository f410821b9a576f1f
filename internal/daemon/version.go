// Package daemon implements the detached daemon personality: the
// parent/child process split, version-aware self-install, and the
// errgroup-driven "spawn child, wait for health" handshake.
package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// releaseVersion is the compile-time version marker for release builds,
// set via `go build -ldflags "-X ...releaseVersion=..."`. Left blank in
// dev checkouts, where Version falls back to the source-hash marker.
var releaseVersion = ""

// Version resolves the running binary's version string. In dev mode it is
// always the source-tree hash (so every checkout gets a fresh marker
// without a build step); in release mode it is the ldflags-injected
// version, falling back to "dev" if the binary was built without one.
func Version(devMode bool, sourceRoot string) (string, error) {
	if devMode {
		return sourceHash(sourceRoot)
	}
	if releaseVersion != "" {
		return releaseVersion, nil
	}
	return "dev", nil
}

// sourceHash computes a SHA-256 over every .go file under root, in sorted
// path order, feeding each file's path followed by its contents (so the
// hash also changes when a file moves), truncated to 16 hex characters. It is cheap,
// deterministic, and needs no build-time plumbing — the dev-mode
// equivalent of a version number.
func sourceHash(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || strings.HasPrefix(d.Name(), ".codex-d") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		h.Write([]byte(f))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
