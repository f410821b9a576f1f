package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGoFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestSourceHash_DeterministicForSameTree(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", "package a\n")
	writeGoFile(t, dir, "b.go", "package b\n")

	h1, err := sourceHash(dir)
	require.NoError(t, err)
	h2, err := sourceHash(dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestSourceHash_ChangesWhenFileContentChanges(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", "package a\n")
	before, err := sourceHash(dir)
	require.NoError(t, err)

	writeGoFile(t, dir, "a.go", "package a\n\nvar x = 1\n")
	after, err := sourceHash(dir)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestSourceHash_IgnoresNonGoFiles(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", "package a\n")
	before, err := sourceHash(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o644))
	after, err := sourceHash(dir)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestVersion_ReleaseModeUsesLdflagsVariableOrFallback(t *testing.T) {
	v, err := Version(false, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "dev", v)
}
