package run

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/paths"
)

func newTestRunLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

type fakeExecutor struct {
	onEvent func(Envelope)
}

func (f *fakeExecutor) Bind(runID string, onEvent func(Envelope)) { f.onEvent = onEvent }
func (f *fakeExecutor) Start(ctx context.Context, rec *Record) (string, string, error) {
	return "thread-1", "turn-1", nil
}
func (f *fakeExecutor) Interrupt(ctx context.Context, rec *Record) error { return nil }
func (f *fakeExecutor) Resume(ctx context.Context, rec *Record, steerMessage string) (string, error) {
	return "turn-2", nil
}

func newTestManager(t *testing.T) (*Manager, *fakeExecutor) {
	dir := t.TempDir()
	store, err := NewStore(paths.New(dir))
	require.NoError(t, err)
	exec := &fakeExecutor{}
	mgr := NewManager(store, paths.New(dir), exec, false, newTestRunLogger(t))
	return mgr, exec
}

func mustCreate(t *testing.T, mgr *Manager) *Record {
	rec, err := mgr.Create(context.Background(), CreateOptions{Cwd: t.TempDir(), Prompt: "hi", Kind: KindExec})
	require.NoError(t, err)
	return rec
}

func notificationPayload(t *testing.T, itemKind string, extra map[string]any) json.RawMessage {
	m := map[string]any{"itemKind": itemKind}
	for k, v := range extra {
		m[k] = v
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestProcessNotification_OutputDelta_SplitsIntoRollupLines(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	mgr.processNotification(rec.ID, notificationPayload(t, itemKindOutputDelta, map[string]any{"delta": "line one\nline two\n"}))

	recs, err := mgr.ReadRollupTail(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "line one", recs[0].Text)
	assert.Equal(t, "line two", recs[1].Text)
}

func TestProcessNotification_ControlMarker_TogglesThinkingPhase(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	mgr.processNotification(rec.ID, notificationPayload(t, itemKindOutputDelta, map[string]any{"delta": "thinking"}))
	mgr.processNotification(rec.ID, notificationPayload(t, itemKindOutputDelta, map[string]any{"delta": "**Investigating the issue**\n"}))
	mgr.processNotification(rec.ID, notificationPayload(t, itemKindOutputDelta, map[string]any{"delta": "final"}))

	recs, err := mgr.ReadRollupTail(rec.ID, 0)
	require.NoError(t, err)

	var sawControlThinking, sawSummary, sawControlFinal bool
	for _, r := range recs {
		switch {
		case r.IsControl && r.Text == "thinking":
			sawControlThinking = true
		case r.Source == "thinkingSummary" && r.Text == "Investigating the issue":
			sawSummary = true
		case r.IsControl && r.Text == "final":
			sawControlFinal = true
		}
	}
	assert.True(t, sawControlThinking)
	assert.True(t, sawSummary)
	assert.True(t, sawControlFinal)
}

func TestProcessNotification_CompletedAgentMessage_AppendsRollupRecord(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	mgr.processNotification(rec.ID, notificationPayload(t, itemKindCompleted, map[string]any{
		"item": map[string]any{"type": "agentMessage", "text": "done here"},
	}))

	recs, err := mgr.ReadRollupTail(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, RollupAgentMessage, recs[0].Type)
	assert.Equal(t, "done here", recs[0].Text)
}

func TestProcessNotification_CompletedNonAgentMessage_ProducesNoRollup(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	mgr.processNotification(rec.ID, notificationPayload(t, itemKindCompleted, map[string]any{
		"item": map[string]any{"type": "planUpdate", "text": "irrelevant"},
	}))

	has, err := mgr.HasRollup(rec.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestProcessNotification_MessageDelta_NeverRolledUp(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	mgr.processNotification(rec.ID, notificationPayload(t, itemKindMessageDelta, map[string]any{"delta": "partial tokens"}))

	has, err := mgr.HasRollup(rec.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
