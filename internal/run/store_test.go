package run

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/paths"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	store, err := NewStore(paths.New(dir))
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndLoadRun(t *testing.T) {
	store := newTestStore(t)
	rec := &Record{ID: "run-1", CreatedAt: time.Now().UTC(), Status: StatusQueued, RelDir: "2026/07/run-1"}

	require.NoError(t, store.SaveRun(rec))

	loaded, err := store.LoadRun(rec.RelDir)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, rec.Status, loaded.Status)
}

func TestStore_AppendAndReadIndex_TolerantOfTornLastLine(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendIndex(IndexEntry{RunID: "a", CreatedAt: time.Now().UTC(), RelativeDir: "a"}))
	require.NoError(t, store.AppendIndex(IndexEntry{RunID: "b", CreatedAt: time.Now().UTC(), RelativeDir: "b"}))

	f, err := os.OpenFile(store.layout.IndexFile(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"runId":"c","relat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].RunID)
	assert.Equal(t, "b", entries[1].RunID)
}

func TestStore_AppendEventsAndRollup(t *testing.T) {
	store := newTestStore(t)
	relDir := "2026/07/run-2"

	env, err := NewEnvelope(EventNotification, time.Now().UTC(), map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(relDir, env))

	events, err := store.ReadEvents(relDir)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventNotification, events[0].Kind)

	assert.False(t, store.HasRollup(relDir))
	require.NoError(t, store.AppendRollup(relDir, RollupRecord{Type: RollupOutputLine, Text: "hello"}))
	assert.True(t, store.HasRollup(relDir))

	rollup, err := store.ReadRollup(relDir)
	require.NoError(t, err)
	require.Len(t, rollup, 1)
	assert.Equal(t, "hello", rollup[0].Text)
}

func TestStore_ReadEventsTail_BoundsToLastN(t *testing.T) {
	store := newTestStore(t)
	relDir := "2026/07/run-3"

	for i := 0; i < 10; i++ {
		env, err := NewEnvelope(EventNotification, time.Now().UTC(), i)
		require.NoError(t, err)
		require.NoError(t, store.AppendEvent(relDir, env))
	}

	tail, err := store.ReadEventsTail(relDir, 3)
	require.NoError(t, err)
	require.Len(t, tail, 3)

	var last int
	require.NoError(t, json.Unmarshal(tail[2].Payload, &last))
	assert.Equal(t, 9, last)
}

func TestAtomicWriteFile_ReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	require.NoError(t, atomicWriteFile(path, []byte(`{"a":1}`)))
	require.NoError(t, atomicWriteFile(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))
}
