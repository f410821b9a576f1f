// Package supervisor owns the external agent subprocess: spawning it,
// restarting it with backoff when it crashes, and handing out a live
// client to talk to it over its stdio protocol.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codex-d/runner/internal/common/logger"
)

// State is the supervisor's view of the agent subprocess.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateFaulted    State = "faulted"
)

// backoff schedule for respawn attempts: 1s, 2s, 4s, 8s, capped at 30s.
// The counter resets once the process has stayed up for upTimeToReset.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

const (
	upTimeToReset       = 60 * time.Second
	fastCrashThreshold  = 2 * time.Second
	maxFastCrashesFault = 5
)

// Config describes how to launch the agent subprocess.
type Config struct {
	Command string
	Args    []string
}

// Supervisor spawns cfg.Command, restarts it on crash, and exposes a
// Client for the current live instance. OnCrash, if set, is invoked every
// time the process dies unexpectedly, before a respawn is attempted, so
// the caller can pause every run that was in flight.
type Supervisor struct {
	cfg     Config
	log     *logger.Logger
	onCrash func()

	mu            sync.Mutex
	state         State
	client        *Client
	fastCrashes   int
	backoffIdx    int
	stopRequested bool

	sf singleflight.Group
}

// New constructs a Supervisor. Call Start to spawn the subprocess.
func New(cfg Config, onCrash func(), log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		onCrash: onCrash,
		log:     log.WithFields(zap.String("component", "agent-supervisor")),
		state:   StateStarting,
	}
}

// Start spawns the subprocess and begins supervising it in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	client, err := s.spawn(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client = client
	s.state = StateRunning
	s.mu.Unlock()

	go s.supervise(ctx, client)
	return nil
}

// State reports the supervisor's current view of the subprocess.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetClient returns the current live client, or an error if the subprocess
// is faulted. Concurrent callers made during a respawn are deduplicated
// onto a single wait via singleflight, so a burst of requests arriving
// mid-restart doesn't each trigger their own wait loop.
func (s *Supervisor) GetClient(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	if s.state == StateRunning && s.client != nil {
		c := s.client
		s.mu.Unlock()
		return c, nil
	}
	if s.state == StateFaulted {
		s.mu.Unlock()
		return nil, fmt.Errorf("agent subprocess is faulted and will not be restarted")
	}
	s.mu.Unlock()

	v, err, _ := s.sf.Do("client", func() (any, error) {
		return s.waitForRunning(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (s *Supervisor) waitForRunning(ctx context.Context) (*Client, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		if s.state == StateRunning && s.client != nil {
			c := s.client
			s.mu.Unlock()
			return c, nil
		}
		if s.state == StateFaulted {
			s.mu.Unlock()
			return nil, fmt.Errorf("agent subprocess is faulted and will not be restarted")
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop requests a clean shutdown: no further respawns are attempted once
// the current instance exits.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	client := s.client
	s.mu.Unlock()
	if client != nil {
		client.close()
	}
}

func (s *Supervisor) spawn(ctx context.Context) (*Client, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("attach agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach agent stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent subprocess: %w", err)
	}

	client := newClient(cmd, stdin, s.log)
	go client.readLoop(stdout)
	go s.pipeStderr(stderr)

	s.log.Info("agent subprocess started", zap.Int("pid", cmd.Process.Pid))
	return client, nil
}

func (s *Supervisor) pipeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s.log.Warn(scanner.Text(), zap.String("stream", "agent-stderr"))
	}
}

// supervise blocks until the subprocess exits, then respawns it according
// to the backoff schedule unless a clean Stop was requested.
func (s *Supervisor) supervise(ctx context.Context, client *Client) {
	startedAt := time.Now()
	err := client.cmd.Wait()

	s.mu.Lock()
	stopping := s.stopRequested
	s.mu.Unlock()
	if stopping {
		return
	}

	s.log.Warn("agent subprocess exited", zap.Error(err), zap.Duration("uptime", time.Since(startedAt)))

	if s.onCrash != nil {
		s.onCrash()
	}

	s.mu.Lock()
	fastCrashes, backoffIdx, faulted, delay := classifyCrash(time.Since(startedAt), s.fastCrashes, s.backoffIdx)
	s.fastCrashes = fastCrashes
	s.backoffIdx = backoffIdx
	if faulted {
		s.state = StateFaulted
		s.mu.Unlock()
		s.log.Error("agent subprocess crashed repeatedly on startup, giving up", zap.Int("consecutiveFastCrashes", fastCrashes))
		return
	}
	s.state = StateRestarting
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	newClient, err := s.spawn(ctx)
	if err != nil {
		s.log.Error("failed to respawn agent subprocess", zap.Error(err))
		s.mu.Lock()
		s.state = StateFaulted
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.client = newClient
	s.state = StateRunning
	s.mu.Unlock()

	go s.supervise(ctx, newClient)
}

// classifyCrash folds one subprocess exit into the backoff state machine.
// A crash faster than fastCrashThreshold counts against the fault budget;
// staying up past upTimeToReset forgives the whole history. It is kept
// separate from supervise so the schedule can be exercised without waiting
// out real delays.
func classifyCrash(uptime time.Duration, fastCrashes, backoffIdx int) (newFastCrashes, newBackoffIdx int, faulted bool, delay time.Duration) {
	newFastCrashes = fastCrashes
	newBackoffIdx = backoffIdx
	if uptime < fastCrashThreshold {
		newFastCrashes++
	} else if uptime >= upTimeToReset {
		newFastCrashes = 0
		newBackoffIdx = 0
	}
	if newFastCrashes >= maxFastCrashesFault {
		return newFastCrashes, newBackoffIdx, true, 0
	}
	delay = backoffSchedule[newBackoffIdx]
	if newBackoffIdx < len(backoffSchedule)-1 {
		newBackoffIdx++
	}
	return newFastCrashes, newBackoffIdx, false, delay
}
