package run

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codex-d/runner/internal/paths"
)

// Store is the on-disk run store: a per-run directory, an append-only
// index, and append-only events/rollup logs.
type Store struct {
	layout paths.Layout

	indexMu sync.Mutex // single writer for index.jsonl

	runMu sync.Mutex // serializes run.json rewrites across runs; cheap and simple
}

// NewStore creates a Store rooted at the given state directory layout.
func NewStore(layout paths.Layout) (*Store, error) {
	if err := layout.EnsureStateDir(); err != nil {
		return nil, err
	}
	return &Store{layout: layout}, nil
}

// AppendIndex appends one entry to runs/index.jsonl. Single writer by
// construction: the run manager is the only caller.
func (s *Store) AppendIndex(e IndexEntry) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	f, err := os.OpenFile(s.layout.IndexFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// ReadIndex reads the whole index file, tolerating a torn last line (the
// reader recovers by skipping it).
func (s *Store) ReadIndex() ([]IndexEntry, error) {
	return readJSONLTolerant[IndexEntry](s.layout.IndexFile())
}

// SaveRun atomically rewrites a run's run.json (write-tmp-then-rename).
func (s *Store) SaveRun(rec *Record) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	dir := filepath.Dir(s.layout.RunFile(rec.RelDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(s.layout.RunFile(rec.RelDir), data)
}

// LoadRun reads a run's run.json from its relative directory.
func (s *Store) LoadRun(relDir string) (*Record, error) {
	data, err := os.ReadFile(s.layout.RunFile(relDir))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.RelDir = relDir
	return &rec, nil
}

// AppendEvent appends a raw notification envelope to events.jsonl, when raw
// persistence is enabled. A failure here is logged by the caller and must
// not abort the run.
func (s *Store) AppendEvent(relDir string, e Envelope) error {
	path := s.layout.EventsFile(relDir)
	return appendJSONL(path, e)
}

// AppendRollup appends a rollup record to rollup.jsonl. The file is created
// lazily on first write: its mere existence is what tells a reader whether
// the run produced any rollup-worthy output.
func (s *Store) AppendRollup(relDir string, r RollupRecord) error {
	path := s.layout.RollupFile(relDir)
	return appendJSONL(path, r)
}

// ReadEventsTail returns the last n well-formed lines of events.jsonl,
// skipping malformed lines.
func (s *Store) ReadEventsTail(relDir string, n int) ([]Envelope, error) {
	all, err := readJSONLTolerant[Envelope](s.layout.EventsFile(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return tail(all, n), nil
}

// ReadEvents returns all well-formed events.jsonl lines, in order.
func (s *Store) ReadEvents(relDir string) ([]Envelope, error) {
	all, err := readJSONLTolerant[Envelope](s.layout.EventsFile(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return all, nil
}

// ReadRollupTail returns the last n well-formed rollup.jsonl records.
func (s *Store) ReadRollupTail(relDir string, n int) ([]RollupRecord, error) {
	all, err := readJSONLTolerant[RollupRecord](s.layout.RollupFile(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return tail(all, n), nil
}

// ReadRollup returns all well-formed rollup.jsonl records, in order.
func (s *Store) ReadRollup(relDir string) ([]RollupRecord, error) {
	all, err := readJSONLTolerant[RollupRecord](s.layout.RollupFile(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return all, nil
}

// HasRollup reports whether a rollup file exists for the run.
func (s *Store) HasRollup(relDir string) bool {
	_, err := os.Stat(s.layout.RollupFile(relDir))
	return err == nil
}

// HasRawEvents reports whether a raw events log exists for the run.
func (s *Store) HasRawEvents(relDir string) bool {
	_, err := os.Stat(s.layout.EventsFile(relDir))
	return err == nil
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// readJSONLTolerant reads every line of a JSONL file, skipping any line
// that fails to parse (a torn write or a truncated final line).
func readJSONLTolerant[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-run-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
