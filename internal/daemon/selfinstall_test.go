package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/common/logger"
)

func TestSelfInstall_CopiesTreeAndWritesVersionMarker(t *testing.T) {
	buildDir := t.TempDir()
	installDir := filepath.Join(t.TempDir(), "install")
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("binary"), 0o755))

	installed, err := SelfInstall(buildDir, installDir, "v1", false, logger.Default())
	require.NoError(t, err)
	assert.True(t, installed)

	data, err := os.ReadFile(filepath.Join(installDir, "codex-d"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	marker, err := os.ReadFile(filepath.Join(installDir, ".version"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(marker))
}

func TestSelfInstall_SkipsWhenVersionUnchanged(t *testing.T) {
	buildDir := t.TempDir()
	installDir := filepath.Join(t.TempDir(), "install")
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v1-binary"), 0o755))

	_, err := SelfInstall(buildDir, installDir, "v1", false, logger.Default())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v1-binary-rebuilt"), 0o755))
	installed, err := SelfInstall(buildDir, installDir, "v1", false, logger.Default())
	require.NoError(t, err)
	assert.False(t, installed)

	data, err := os.ReadFile(filepath.Join(installDir, "codex-d"))
	require.NoError(t, err)
	assert.Equal(t, "v1-binary", string(data), "unchanged version should not overwrite the installed copy")
}

func TestSelfInstall_ForceAlwaysReinstalls(t *testing.T) {
	buildDir := t.TempDir()
	installDir := filepath.Join(t.TempDir(), "install")
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v1-binary"), 0o755))
	_, err := SelfInstall(buildDir, installDir, "v1", false, logger.Default())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v1-binary-forced"), 0o755))
	installed, err := SelfInstall(buildDir, installDir, "v1", true, logger.Default())
	require.NoError(t, err)
	assert.True(t, installed)

	data, err := os.ReadFile(filepath.Join(installDir, "codex-d"))
	require.NoError(t, err)
	assert.Equal(t, "v1-binary-forced", string(data))
}

func TestSelfInstall_DifferentVersionTriggersReinstall(t *testing.T) {
	buildDir := t.TempDir()
	installDir := filepath.Join(t.TempDir(), "install")
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v1-binary"), 0o755))
	_, err := SelfInstall(buildDir, installDir, "v1", false, logger.Default())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "codex-d"), []byte("v2-binary"), 0o755))
	installed, err := SelfInstall(buildDir, installDir, "v2", false, logger.Default())
	require.NoError(t, err)
	assert.True(t, installed)

	marker, err := os.ReadFile(filepath.Join(installDir, ".version"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(marker))
}
