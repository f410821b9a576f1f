package run

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codex-d/runner/internal/apierr"
	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/paths"
)

// cancellationGrace is how long a run gets to honor a cooperative stop
// request before the manager gives up and force-fails it.
const cancellationGrace = 5 * time.Second

// runState is the manager's in-memory view of one run: its durable record,
// plus the live machinery (broadcaster, rollup accumulator, cancel func)
// that only exists while the process is up.
type runState struct {
	mu          sync.Mutex
	rec         *Record
	broadcaster *Broadcaster
	rollup      *rollupState
	cancel      context.CancelFunc
}

// Manager owns every run's lifecycle: creation, status transitions,
// cooperative cancellation, and resume. It is the single writer of run
// status, so every transition is made under the run's own mutex.
type Manager struct {
	store      *Store
	layout     paths.Layout
	executor   RunExecutor
	log        *logger.Logger
	persistRaw bool

	mu    sync.RWMutex
	runs  map[string]*runState
	order []string // creation order, for runs ls
}

// NewManager constructs a Manager backed by store and layout, driving runs
// through executor. persistRaw controls whether raw codex.notification
// envelopes are appended to events.jsonl; lifecycle markers are always kept
// in the in-memory broadcaster backlog regardless. run.meta is not published
// here: the events handler writes it directly, and it synthesizes a missing
// terminal marker from the run's status, so that marker reaches a replaying
// client even with raw persistence off.
func NewManager(store *Store, layout paths.Layout, executor RunExecutor, persistRaw bool, log *logger.Logger) *Manager {
	return &Manager{
		store:      store,
		layout:     layout,
		executor:   executor,
		persistRaw: persistRaw,
		log:        log.WithFields(zap.String("component", "run-manager")),
		runs:       make(map[string]*runState),
	}
}

// CreateOptions describes a new run request.
type CreateOptions struct {
	Cwd      string
	Prompt   string
	Kind     Kind
	Review   *ReviewDescriptor
	Model    string
	Effort   Effort
	Sandbox  string
	Approval string
}

// Create registers a new run in the queued state and starts it asynchronously.
// It returns as soon as the run is durably recorded; the caller does not
// wait for the agent subprocess to accept the turn.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Record, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	rec := &Record{
		ID:        id,
		CreatedAt: now,
		Cwd:       opts.Cwd,
		Prompt:    opts.Prompt,
		Kind:      opts.Kind,
		Review:    opts.Review,
		Model:     opts.Model,
		Effort:    opts.Effort,
		Sandbox:   opts.Sandbox,
		Approval:  opts.Approval,
		Status:    StatusQueued,
		RelDir:    fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), id),
	}

	if err := m.store.SaveRun(rec); err != nil {
		return nil, err
	}
	if err := m.store.AppendIndex(IndexEntry{
		RunID:       rec.ID,
		CreatedAt:   rec.CreatedAt,
		Cwd:         rec.Cwd,
		RelativeDir: rec.RelDir,
	}); err != nil {
		m.log.Warn("failed to append run index entry", zap.String("runId", rec.ID), zap.Error(err))
	}

	st := &runState{rec: rec, broadcaster: NewBroadcaster(), rollup: newRollupState()}
	m.mu.Lock()
	m.runs[rec.ID] = st
	m.order = append(m.order, rec.ID)
	m.mu.Unlock()

	m.executor.Bind(rec.ID, func(e Envelope) { m.onAgentEvent(rec.ID, e) })
	go m.start(rec.ID)

	return rec.Clone(), nil
}

func (m *Manager) start(runID string) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}

	st.mu.Lock()
	rec := st.rec
	runCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.mu.Unlock()

	threadID, turnID, err := m.executor.Start(runCtx, rec)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.rec.Status = StatusFailed
		st.rec.Error = err.Error()
		m.persistLocked(st)
		m.publishTerminalLocked(st, EventRunFailed)
		return
	}
	st.rec.ThreadID = threadID
	st.rec.TurnID = turnID
	st.rec.Status = StatusRunning
	m.persistLocked(st)
}

// Restore loads every run the store knows about from a previous process
// lifetime into memory, so GET /v1/runs and GET /v1/runs/{id} see history
// across a restart. Any run still StatusRunning when the process last
// exited could not have kept its agent turn alive, so it is transitioned
// to StatusPaused with a restart reason and must be resumed explicitly —
// the core does not durably queue across supervisor restarts.
// Restored runs get a fresh broadcaster with an empty backlog: their
// history lives in events.jsonl/rollup.jsonl, which SSE replay reads
// straight from the store, not from the in-memory ring.
func (m *Manager) Restore() error {
	entries, err := m.store.ReadIndex()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read run index: %w", err)
	}

	for _, entry := range entries {
		rec, err := m.store.LoadRun(entry.RelativeDir)
		if err != nil {
			m.log.Warn("failed to load run record during restore", zap.String("runId", entry.RunID), zap.Error(err))
			continue
		}

		wasRunning := rec.Status == StatusRunning
		if wasRunning {
			rec.Status = StatusPaused
			rec.Error = "codex runtime restarted"
		}

		st := &runState{rec: rec, broadcaster: NewBroadcaster(), rollup: newRollupState()}
		m.mu.Lock()
		if _, exists := m.runs[rec.ID]; !exists {
			m.runs[rec.ID] = st
			m.order = append(m.order, rec.ID)
		}
		m.mu.Unlock()

		if wasRunning {
			m.persistLocked(st)
		}
	}
	return nil
}

// Get returns the current record for runID.
func (m *Manager) Get(runID string) (*Record, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return nil, apierr.NotFound("run not found")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rec.Clone(), nil
}

// defaultListWindow bounds the unfiltered "runs ls" response to the most
// recent N runs, so a long-lived daemon's history doesn't grow the default
// response without limit; all=true bypasses this window entirely.
const defaultListWindow = 500

// List returns known runs in creation order, most recent last. When all is
// false, the result is bounded to the most recent defaultListWindow runs.
func (m *Manager) List(all bool) []*Record {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	if !all && len(ids) > defaultListWindow {
		ids = ids[len(ids)-defaultListWindow:]
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if st, ok := m.lookup(id); ok {
			st.mu.Lock()
			out = append(out, st.rec.Clone())
			st.mu.Unlock()
		}
	}
	return out
}

// Stop requests cooperative cancellation of a running run and drives it to
// target, which must be StatusPaused (the /stop endpoint) or
// StatusInterrupted (the /interrupt endpoint) — the two differ solely in
// that target, not in the signal delivered to the agent. If the run does
// not reach target within the grace window, it is force-failed with a
// "cancellation timeout" error instead.
func (m *Manager) Stop(ctx context.Context, runID string, target Status) error {
	if target != StatusPaused && target != StatusInterrupted {
		return apierr.Invalid("stop target must be paused or interrupted")
	}

	st, ok := m.lookup(runID)
	if !ok {
		return apierr.NotFound("run not found")
	}

	st.mu.Lock()
	if st.rec.Status != StatusRunning {
		status := st.rec.Status
		st.mu.Unlock()
		if status.IsTerminal() {
			return nil
		}
		return apierr.InvalidState("run is not running")
	}
	rec := st.rec
	cancel := st.cancel
	st.mu.Unlock()

	if err := m.executor.Interrupt(ctx, rec); err != nil {
		m.log.Warn("interrupt request failed", zap.String("runId", runID), zap.Error(err))
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.finalizeStop(runID, target)
	}()

	timer := time.NewTimer(cancellationGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.FlushOutput(runID)
		st.mu.Lock()
		if st.rec.Status == StatusRunning {
			st.rec.Status = StatusFailed
			st.rec.Error = "cancellation timeout"
			m.persistLocked(st)
			m.publishTerminalLocked(st, EventRunFailed)
		}
		st.mu.Unlock()
	}
	return nil
}

// finalizeStop deterministically lands a running run on target once its
// cooperative-cancellation signal has been sent, independent of whatever
// (if anything) the agent subprocess itself later reports for this turn.
// For an interrupt the partial output line is flushed first, so a live
// replay=true, follow=true subscriber never observes the terminal marker
// before the final payload event; a pause does not flush and leaves the
// partial line buffered. A run that reached a terminal status on its own
// in the meantime (onAgentEvent's own CAS guard having already won the
// race with a completion notification) is left alone: whichever status is
// durably written first is authoritative.
func (m *Manager) finalizeStop(runID string, target Status) {
	if target == StatusInterrupted {
		m.FlushOutput(runID)
	}

	st, ok := m.lookup(runID)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.rec.Status != StatusRunning {
		return
	}
	st.rec.Status = target
	m.persistLocked(st)

	kind := EventRunPaused
	if target == StatusInterrupted {
		kind = EventRunInterrupted
	}
	env, err := NewEnvelope(kind, time.Now().UTC(), map[string]string{"runId": st.rec.ID})
	if err != nil {
		return
	}
	published := st.broadcaster.Publish(env)
	if m.persistRaw {
		if perr := m.store.AppendEvent(st.rec.RelDir, published); perr != nil {
			m.log.Warn("failed to persist terminal event", zap.String("runId", runID), zap.Error(perr))
		}
	}
}

// Resume continues a paused run, optionally overriding the reasoning
// effort hint for the new turn. The status field itself is the CAS: the
// winner flips paused->running before calling the executor, so a second
// concurrent call observes status != paused and loses the race with an
// invalid-state error, never a silent double-submit.
func (m *Manager) Resume(ctx context.Context, runID, steerMessage string, effort Effort) (*Record, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return nil, apierr.NotFound("run not found")
	}

	st.mu.Lock()
	if st.rec.Status != StatusPaused {
		status := st.rec.Status
		st.mu.Unlock()
		return nil, apierr.InvalidState("run is not paused (status=" + string(status) + ")")
	}
	st.rec.Status = StatusRunning
	if effort != "" {
		st.rec.Effort = effort
	}
	rec := st.rec
	st.mu.Unlock()

	turnID, err := m.executor.Resume(ctx, rec, steerMessage)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.rec.Status = StatusPaused
		return nil, err
	}
	st.rec.TurnID = turnID
	m.persistLocked(st)
	return st.rec.Clone(), nil
}

// PauseAllRunning transitions every run currently in StatusRunning to
// StatusPaused, stamping reason, and emits a run.paused marker for each.
// Called by the supervisor's crash callback: the agent subprocess died, so
// every run that was mid-turn loses its borrowed client and must wait for
// an explicit resume once a new one is up.
func (m *Manager) PauseAllRunning(reason string) {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, id := range ids {
		st, ok := m.lookup(id)
		if !ok {
			continue
		}
		st.mu.Lock()
		if st.rec.Status != StatusRunning {
			st.mu.Unlock()
			continue
		}
		st.rec.Status = StatusPaused
		st.rec.Error = reason
		m.persistLocked(st)
		env, err := NewEnvelope(EventRunPaused, time.Now().UTC(), map[string]string{"reason": reason})
		if err == nil {
			published := st.broadcaster.Publish(env)
			if m.persistRaw {
				if perr := m.store.AppendEvent(st.rec.RelDir, published); perr != nil {
					m.log.Warn("failed to persist raw event", zap.String("runId", id), zap.Error(perr))
				}
			}
		}
		st.mu.Unlock()
	}
}

// Steer submits an additional message to a currently running turn without
// pausing it. The agent client surfaces this as a follow-up user message on
// the same thread.
func (m *Manager) Steer(ctx context.Context, runID, message string) error {
	st, ok := m.lookup(runID)
	if !ok {
		return apierr.NotFound("run not found")
	}
	st.mu.Lock()
	if st.rec.Status != StatusRunning {
		st.mu.Unlock()
		return apierr.InvalidState("run is not running")
	}
	rec := st.rec
	st.mu.Unlock()

	_, err := m.executor.Resume(ctx, rec, message)
	return err
}

// Subscribe opens a live event subscription for runID, starting strictly
// after afterSeq (0 meaning from the current backlog).
func (m *Manager) Subscribe(runID string, afterSeq uint64) (*Subscription, []Envelope, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return nil, nil, apierr.NotFound("run not found")
	}
	sub, backlog := st.broadcaster.Subscribe(afterSeq)
	return sub, backlog, nil
}

// onAgentEvent is the executor's callback for every notification the agent
// subprocess emits for runID. It assigns the event its place in the
// broadcast/replay order, persists it, folds it into the rollup, and
// applies any resulting status transition.
func (m *Manager) onAgentEvent(runID string, e Envelope) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}

	// The partial rollup line must be flushed and durably published before
	// the terminal marker itself, or a live replay=true,follow=true
	// subscriber (which returns as soon as it sees the terminal marker)
	// would never receive it.
	if isRunTerminationKind(e.Kind) {
		m.FlushOutput(runID)
	}

	st.mu.Lock()

	published := st.broadcaster.Publish(e)
	if m.persistRaw {
		if err := m.store.AppendEvent(st.rec.RelDir, published); err != nil {
			m.log.Warn("failed to persist raw event", zap.String("runId", runID), zap.Error(err))
		}
	}

	// Only a run still StatusRunning can be moved by an agent-reported
	// status kind: this is the CAS that makes "whichever status is written
	// first wins" hold against a concurrent Stop/finalizeStop targeting the
	// same run.
	if st.rec.Status == StatusRunning {
		switch published.Kind {
		case EventRunPaused:
			st.rec.Status = StatusPaused
			m.persistLocked(st)
		case EventRunCompleted:
			st.rec.Status = StatusSucceeded
			m.persistLocked(st)
		case EventRunFailed:
			st.rec.Status = StatusFailed
			m.persistLocked(st)
		case EventRunInterrupted:
			st.rec.Status = StatusInterrupted
			m.persistLocked(st)
		}
	}
	st.mu.Unlock()

	if published.Kind == EventNotification {
		m.processNotification(runID, published.Payload)
	}
}

// isRunTerminationKind reports whether kind ends a run outright (as
// opposed to EventRunPaused, which is resumable and never flushes the
// partial line — only a genuine termination does).
func isRunTerminationKind(kind EventKind) bool {
	switch kind {
	case EventRunCompleted, EventRunFailed, EventRunInterrupted:
		return true
	default:
		return false
	}
}

// FeedOutput hands a raw stdout/stderr chunk from the agent subprocess to
// the run's rollup accumulator and persists+broadcasts whatever complete
// lines it produces. Nothing in this module calls it at present; agent
// output reaches the rollup through notification processing instead.
func (m *Manager) FeedOutput(runID string, source RollupSource, chunk string) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}
	st.mu.Lock()
	lines := st.rollup.FeedOutputLine(source, chunk)
	st.mu.Unlock()

	for _, line := range lines {
		m.AppendRollup(runID, line)
	}
}

// FlushOutput drains any partial line left buffered for runID, called when
// a run reaches a terminal state so a final unterminated line isn't lost.
func (m *Manager) FlushOutput(runID string) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}
	st.mu.Lock()
	leftovers := st.rollup.FlushAllPartial()
	st.mu.Unlock()

	for _, line := range leftovers {
		m.AppendRollup(runID, line)
	}
}

// AppendRollup folds one rollup record into a run's rollup log and
// rebroadcasts it as the matching event kind. Called by the notification
// processing in notify.go and by FeedOutput/FlushOutput.
func (m *Manager) AppendRollup(runID string, rec RollupRecord) {
	st, ok := m.lookup(runID)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	rec.Seq = st.broadcaster.ReserveSeq()
	if err := m.store.AppendRollup(st.rec.RelDir, rec); err != nil {
		m.log.Warn("failed to persist rollup record", zap.String("runId", runID), zap.Error(err))
		return
	}

	kind := EventRollupOutputLine
	if rec.Type == RollupAgentMessage {
		kind = EventRollupMessage
	}
	env, err := NewEnvelope(kind, rec.CreatedAt, rec)
	if err != nil {
		return
	}
	st.broadcaster.PublishWithSeq(env, rec.Seq)
}

func (m *Manager) persistLocked(st *runState) {
	if err := m.store.SaveRun(st.rec); err != nil {
		m.log.Warn("failed to persist run record", zap.String("runId", st.rec.ID), zap.Error(err))
	}
}

func (m *Manager) publishTerminalLocked(st *runState, kind EventKind) {
	env, err := NewEnvelope(kind, time.Now().UTC(), map[string]string{"runId": st.rec.ID})
	if err != nil {
		return
	}
	published := st.broadcaster.Publish(env)
	if m.persistRaw {
		if err := m.store.AppendEvent(st.rec.RelDir, published); err != nil {
			m.log.Warn("failed to persist terminal event", zap.String("runId", st.rec.ID), zap.Error(err))
		}
	}
}

func (m *Manager) lookup(runID string) (*runState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[runID]
	return st, ok
}

// PersistsRawEvents reports whether this manager was configured to keep a
// raw events.jsonl alongside the rollup, used to pick replayFormat=auto.
func (m *Manager) PersistsRawEvents() bool { return m.persistRaw }

// HasRollup reports whether runID has ever produced a rollup record.
func (m *Manager) HasRollup(runID string) (bool, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return false, apierr.NotFound("run not found")
	}
	st.mu.Lock()
	relDir := st.rec.RelDir
	st.mu.Unlock()
	return m.store.HasRollup(relDir), nil
}

// ReadRollupTail returns the last n rollup records for runID (or all, if
// n <= 0).
func (m *Manager) ReadRollupTail(runID string, n int) ([]RollupRecord, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return nil, apierr.NotFound("run not found")
	}
	st.mu.Lock()
	relDir := st.rec.RelDir
	st.mu.Unlock()
	if n <= 0 {
		return m.store.ReadRollup(relDir)
	}
	return m.store.ReadRollupTail(relDir, n)
}

// ReadEventsTail returns the last n raw notification envelopes for runID
// (or all, if n <= 0).
func (m *Manager) ReadEventsTail(runID string, n int) ([]Envelope, error) {
	st, ok := m.lookup(runID)
	if !ok {
		return nil, apierr.NotFound("run not found")
	}
	st.mu.Lock()
	relDir := st.rec.RelDir
	st.mu.Unlock()
	if n <= 0 {
		return m.store.ReadEvents(relDir)
	}
	return m.store.ReadEventsTail(relDir, n)
}

// Clone returns a shallow copy of the record safe to hand to a caller
// outside the manager's lock.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Review != nil {
		review := *r.Review
		cp.Review = &review
	}
	return &cp
}

