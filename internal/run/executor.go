package run

import "context"

// RunExecutor drives the agent-facing side of one run's lifecycle. The
// manager calls it synchronously to kick off state transitions; the
// executor reports asynchronous agent events back through the callback
// passed to Bind.
type RunExecutor interface {
	// Bind installs the callback the executor uses to report agent
	// notifications for runID. Called once, when the manager first learns
	// about a run.
	Bind(runID string, onEvent func(Envelope))

	Start(ctx context.Context, rec *Record) (threadID, turnID string, err error)
	Interrupt(ctx context.Context, rec *Record) error
	Resume(ctx context.Context, rec *Record, steerMessage string) (turnID string, err error)
}
