package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Create_StartsQueuedThenRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)
	assert.Equal(t, StatusQueued, rec.Status)

	require.Eventually(t, func() bool {
		got, err := mgr.Get(rec.ID)
		require.NoError(t, err)
		return got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Stop_TerminalRunIsNoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(rec.ID)
		return got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	// Force the run into a terminal state directly, then Stop should be a
	// no-op rather than an error.
	mgr.onAgentEvent(rec.ID, mustCreateEnvelope(t, EventRunCompleted))
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(rec.ID)
		return got.Status == StatusSucceeded
	}, time.Second, 5*time.Millisecond)

	err := mgr.Stop(context.Background(), rec.ID, StatusPaused)
	assert.NoError(t, err)
}

func TestManager_Resume_OnlyOneOfTwoConcurrentCallsSucceeds(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	require.Eventually(t, func() bool {
		got, _ := mgr.Get(rec.ID)
		return got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	mgr.onAgentEvent(rec.ID, mustCreateEnvelope(t, EventRunPaused))
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(rec.ID)
		return got.Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Resume(context.Background(), rec.ID, "continue", "")
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent resume should win")
	assert.Equal(t, 1, failures, "the loser should see invalid_state, never a silent no-op")

	got, err := mgr.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestManager_Steer_FailsWhenNotRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := mustCreate(t, mgr)

	err := mgr.Steer(context.Background(), rec.ID, "keep going")
	require.Error(t, err)
}

func mustCreateEnvelope(t *testing.T, kind EventKind) Envelope {
	env, err := NewEnvelope(kind, time.Now().UTC(), map[string]string{})
	require.NoError(t, err)
	return env
}
