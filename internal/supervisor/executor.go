package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/codex-d/runner/internal/run"
)

// callTimeout bounds how long the executor waits for the agent subprocess
// to acknowledge a request before treating it as failed.
const callTimeout = 20 * time.Second

// itemNotificationKinds are the agent's own raw notification kinds, passed
// through as codex.notification envelopes for the rollup engine to
// interpret. Every other notification kind is a supervisor-level lifecycle
// signal handled directly below.
var itemNotificationKinds = map[string]bool{
	"item/commandExecution/outputDelta": true,
	"item/agentMessage/delta":           true,
	"item/completed":                    true,
}

// AgentExecutor adapts a Supervisor's subprocess client to run.RunExecutor.
type AgentExecutor struct {
	sup *Supervisor

	mu       sync.Mutex
	handlers map[string]func(run.Envelope)
}

// NewAgentExecutor builds an executor driving runs through sup.
func NewAgentExecutor(sup *Supervisor) *AgentExecutor {
	return &AgentExecutor{
		sup:      sup,
		handlers: make(map[string]func(run.Envelope)),
	}
}

func (e *AgentExecutor) Bind(runID string, onEvent func(run.Envelope)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[runID] = onEvent
}

func (e *AgentExecutor) Start(ctx context.Context, rec *run.Record) (threadID, turnID string, err error) {
	client, err := e.sup.GetClient(ctx)
	if err != nil {
		return "", "", err
	}
	e.registerNotify(client, rec.ID)

	params := map[string]any{
		"runId":    rec.ID,
		"prompt":   rec.Prompt,
		"cwd":      rec.Cwd,
		"model":    rec.Model,
		"effort":   string(rec.Effort),
		"sandbox":  rec.Sandbox,
		"approval": rec.Approval,
		"kind":     string(rec.Kind),
	}
	result, err := client.Call("run.start", params, callTimeout)
	if err != nil {
		return "", "", err
	}
	var resp struct {
		ThreadID string `json:"threadId"`
		TurnID   string `json:"turnId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", "", err
	}
	return resp.ThreadID, resp.TurnID, nil
}

func (e *AgentExecutor) Interrupt(ctx context.Context, rec *run.Record) error {
	client, err := e.sup.GetClient(ctx)
	if err != nil {
		return err
	}
	e.registerNotify(client, rec.ID)
	_, err = client.Call("run.interrupt", map[string]any{
		"runId":    rec.ID,
		"threadId": rec.ThreadID,
		"turnId":   rec.TurnID,
	}, callTimeout)
	return err
}

func (e *AgentExecutor) Resume(ctx context.Context, rec *run.Record, steerMessage string) (string, error) {
	client, err := e.sup.GetClient(ctx)
	if err != nil {
		return "", err
	}
	e.registerNotify(client, rec.ID)
	result, err := client.Call("run.resume", map[string]any{
		"runId":    rec.ID,
		"threadId": rec.ThreadID,
		"message":  steerMessage,
		"effort":   string(rec.Effort),
	}, callTimeout)
	if err != nil {
		return "", err
	}
	var resp struct {
		TurnID string `json:"turnId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	return resp.TurnID, nil
}

// registerNotify installs the client-level notification callback for runID.
// If the supervisor respawns the subprocess mid-run, the next
// Interrupt/Resume call re-resolves a fresh client and re-registers against
// it, since OnNotify is per-Client, not per-Supervisor.
func (e *AgentExecutor) registerNotify(client *Client, runID string) {
	client.OnNotify(runID, func(kind string, params json.RawMessage) {
		e.mu.Lock()
		onEvent := e.handlers[runID]
		e.mu.Unlock()
		if onEvent == nil {
			return
		}

		if itemNotificationKinds[kind] {
			e.emitItem(onEvent, runID, kind, params)
			return
		}

		switch kind {
		case "paused":
			e.emit(onEvent, runID, run.EventRunPaused, params)
		case "completed":
			e.emit(onEvent, runID, run.EventRunCompleted, params)
		case "failed":
			e.emit(onEvent, runID, run.EventRunFailed, params)
		case "interrupted":
			e.emit(onEvent, runID, run.EventRunInterrupted, params)
		}
	})
}

// emitItem wraps one of the agent's own item-level notifications as a
// codex.notification envelope, embedding the item kind into the payload so
// the rollup engine can dispatch on it.
func (e *AgentExecutor) emitItem(onEvent func(run.Envelope), runID, kind string, params json.RawMessage) {
	fields := map[string]json.RawMessage{}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &fields)
	}
	fields["itemKind"], _ = json.Marshal(kind)

	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	e.emit(onEvent, runID, run.EventNotification, payload)
}

func (e *AgentExecutor) emit(onEvent func(run.Envelope), runID string, kind run.EventKind, params json.RawMessage) {
	var payload any = params
	env, err := run.NewEnvelope(kind, time.Now().UTC(), payload)
	if err != nil {
		return
	}
	onEvent(env)
}
