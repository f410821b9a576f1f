package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-d/runner/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

// echoAgentScript is a minimal stand-in for the real agent subprocess: it
// answers run.start/run.interrupt/run.resume with a canned result and then
// emits one matching notification, enough to exercise the wire protocol
// end to end without a real agent binary.
const echoAgentScript = `
import json
import sys

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    method = req.get("method")
    params = req.get("params", {})
    run_id = params.get("runId", "")
    if method == "run.start":
        print(json.dumps({"id": req["id"], "result": {"threadId": "thread-1", "turnId": "turn-1"}}))
        print(json.dumps({"runId": run_id, "kind": "output_line", "params": {"source": "stdout", "text": "hello\n"}}))
    elif method == "run.interrupt":
        print(json.dumps({"id": req["id"], "result": {}}))
        print(json.dumps({"runId": run_id, "kind": "interrupted", "params": {}}))
    elif method == "run.resume":
        print(json.dumps({"id": req["id"], "result": {"turnId": "turn-2"}}))
    else:
        print(json.dumps({"id": req["id"], "error": "unknown method"}))
    sys.stdout.flush()
`

func newEchoSupervisor(t *testing.T) *Supervisor {
	cfg := Config{Command: "python3", Args: []string{"-c", echoAgentScript}}
	sup := New(cfg, nil, newTestLogger(t))
	ctx := context.Background()
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(sup.Stop)
	return sup
}

func TestSupervisor_StartAndCall_RoundTrips(t *testing.T) {
	sup := newEchoSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := sup.GetClient(ctx)
	require.NoError(t, err)

	result, err := client.Call("run.start", map[string]any{"runId": "run-1"}, 2*time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(result), "thread-1")
}

func TestSupervisor_OnNotify_ReceivesUnsolicitedMessage(t *testing.T) {
	sup := newEchoSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := sup.GetClient(ctx)
	require.NoError(t, err)

	notified := make(chan string, 4)
	client.OnNotify("run-1", func(kind string, params json.RawMessage) {
		notified <- kind
	})

	_, err = client.Call("run.start", map[string]any{"runId": "run-1"}, 2*time.Second)
	require.NoError(t, err)

	select {
	case kind := <-notified:
		assert.Equal(t, "output_line", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSupervisor_GetClient_FailsFastWhenFaulted(t *testing.T) {
	log := newTestLogger(t)
	sup := &Supervisor{cfg: Config{}, log: log, state: StateFaulted}

	_, err := sup.GetClient(context.Background())
	require.Error(t, err)
}

func TestClassifyCrash_FastCrashesAccumulateTowardFault(t *testing.T) {
	fastCrashes, backoffIdx, faulted, delay := classifyCrash(500*time.Millisecond, 0, 0)
	require.False(t, faulted)
	assert.Equal(t, 1, fastCrashes)
	assert.Equal(t, 1, backoffIdx)
	assert.Equal(t, 1*time.Second, delay)

	for i := 0; i < maxFastCrashesFault-2; i++ {
		fastCrashes, backoffIdx, faulted, _ = classifyCrash(500*time.Millisecond, fastCrashes, backoffIdx)
		require.False(t, faulted)
	}

	fastCrashes, _, faulted, _ = classifyCrash(500*time.Millisecond, fastCrashes, backoffIdx)
	assert.True(t, faulted)
	assert.Equal(t, maxFastCrashesFault, fastCrashes)
}

func TestClassifyCrash_LongUptimeResetsHistory(t *testing.T) {
	fastCrashes, backoffIdx, _, _ := classifyCrash(500*time.Millisecond, 3, 2)
	require.Equal(t, 4, fastCrashes)

	fastCrashes, backoffIdx, faulted, delay := classifyCrash(2*time.Minute, fastCrashes, backoffIdx)
	require.False(t, faulted)
	assert.Equal(t, 0, fastCrashes)
	assert.Equal(t, 1, backoffIdx)
	assert.Equal(t, backoffSchedule[0], delay)
}

func TestClassifyCrash_BackoffIdxCapsAtScheduleEnd(t *testing.T) {
	fastCrashes, backoffIdx := 0, len(backoffSchedule)-1
	_, newIdx, faulted, delay := classifyCrash(10*time.Second, fastCrashes, backoffIdx)
	require.False(t, faulted)
	assert.Equal(t, len(backoffSchedule)-1, newIdx)
	assert.Equal(t, backoffSchedule[len(backoffSchedule)-1], delay)
}
