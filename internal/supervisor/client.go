package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/codex-d/runner/internal/common/logger"
)

// wireRequest is one line written to the agent subprocess's stdin.
type wireRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// wireMessage is one line read from the agent subprocess's stdout. It is
// either a response to a request (ID set, matching a pending call) or an
// unsolicited notification (ID zero, RunID identifying the run it belongs
// to).
type wireMessage struct {
	ID     uint64          `json:"id,omitempty"`
	RunID  string          `json:"runId,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Client is a live connection to one instance of the agent subprocess, via
// its stdin/stdout as an opaque line-delimited JSON protocol.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	log    *logger.Logger
	nextID uint64

	mu       sync.Mutex
	writeMu  sync.Mutex
	pending  map[uint64]chan wireMessage
	handlers map[string]func(runID string, kind string, params json.RawMessage)
	closed   bool
}

func newClient(cmd *exec.Cmd, stdin io.WriteCloser, log *logger.Logger) *Client {
	return &Client{
		cmd:      cmd,
		stdin:    stdin,
		log:      log,
		pending:  make(map[uint64]chan wireMessage),
		handlers: make(map[string]func(runID, kind string, params json.RawMessage)),
	}
}

// OnNotify registers the callback invoked for every unsolicited message
// tagged with runID. Only one handler exists per run; a later call
// replaces the earlier one.
func (c *Client) OnNotify(runID string, handler func(kind string, params json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[runID] = func(_ string, kind string, params json.RawMessage) { handler(kind, params) }
}

// ForgetRun removes a run's notification handler once it reaches a
// terminal state, so the handler map doesn't grow unbounded across the
// supervisor's lifetime.
func (c *Client) ForgetRun(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, runID)
}

// Call sends method/params to the subprocess and waits for the matching
// response, or for timeout to elapse.
func (c *Client) Call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	respCh := make(chan wireMessage, 1)

	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	line, err := json.Marshal(wireRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write to agent subprocess: %w", err)
	}

	select {
	case msg := <-respCh:
		if msg.Error != "" {
			return nil, fmt.Errorf("agent error: %s", msg.Error)
		}
		return msg.Result, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for agent response to %q", method)
	}
}

// readLoop scans newline-delimited JSON messages from the subprocess's
// stdout, dispatching each to its pending call or its run's handler.
func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.log.Warn("malformed line from agent subprocess, skipping", zap.Error(err))
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		c.mu.Lock()
		handler, ok := c.handlers[msg.RunID]
		c.mu.Unlock()
		if ok {
			handler(msg.RunID, msg.Kind, msg.Params)
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}
