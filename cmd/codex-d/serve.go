package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codex-d/runner/internal/common/config"
	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/daemon"
	"github.com/codex-d/runner/internal/daemonfile"
	"github.com/codex-d/runner/internal/httpapi"
	"github.com/codex-d/runner/internal/identity"
	"github.com/codex-d/runner/internal/paths"
	"github.com/codex-d/runner/internal/run"
	"github.com/codex-d/runner/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	var daemonChild bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runner in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), daemonChild)
		},
	}
	cmd.Flags().BoolVar(&daemonChild, "daemon-child", false, "internal: run as the detached daemon's child process")
	cmd.Flags().MarkHidden("daemon-child")
	return cmd
}

// runServe wires config, logging, the run store/manager, the optional agent
// supervisor and the HTTP server together, then blocks until shutdown. The
// foreground and daemon-child personalities share every line of this
// function except which state directory/port they bind and whether a
// runtime descriptor is written — two deployment shapes of one server.
func runServe(ctx context.Context, daemonChild bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	stateDir := cfg.Server.ForegroundStateDir
	port := cfg.Server.ForegroundPort
	if daemonChild {
		stateDir = cfg.Server.DaemonStateDir
		port = cfg.Server.DaemonPort
	}
	layout := paths.New(stateDir)
	if err := layout.EnsureStateDir(); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	id, err := identity.LoadOrCreate(layout.IdentityFile())
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	store, err := run.NewStore(layout)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	var mgr *run.Manager
	var sup *supervisor.Supervisor
	if cfg.Agent.Command != "" {
		sup = supervisor.New(supervisor.Config{Command: cfg.Agent.Command, Args: cfg.Agent.Args}, func() {
			mgr.PauseAllRunning("agent subprocess crashed, restarting")
		}, log)
		mgr = run.NewManager(store, layout, supervisor.NewAgentExecutor(sup), cfg.Agent.PersistRawEvents, log)
	} else {
		mgr = run.NewManager(store, layout, noopExecutor{}, cfg.Agent.PersistRawEvents, log)
	}

	if err := mgr.Restore(); err != nil {
		log.Warn("failed to restore run history", zap.Error(err))
	}

	if sup != nil {
		if err := sup.Start(ctx); err != nil {
			log.Warn("failed to start agent subprocess, codex runtime will report faulted", zap.Error(err))
			sup = nil
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", actualPort)

	version, err := daemon.Version(cfg.Dev.Enabled, sourceRootFromExecutable())
	if err != nil {
		version = "dev"
	}

	// NewServer's onShutdown is already called through a sync.Once, so this
	// channel only ever gets closed once regardless of how many times a
	// client races a shutdown request.
	done := make(chan struct{})
	triggerShutdown := func() { close(done) }

	info := httpapi.Info{BaseURL: baseURL, RunnerID: id.RunnerID, Port: actualPort, Version: version}
	server := httpapi.NewServer(mgr, sup, id, cfg.Server.RequireAuth, info, triggerShutdown, log)

	httpServer := &http.Server{Handler: server.Router()}
	go func() {
		log.Info("runner listening", zap.String("baseUrl", baseURL), zap.Bool("daemonChild", daemonChild))
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	if daemonChild {
		desc := &daemonfile.Descriptor{
			BaseURL:   baseURL,
			Listen:    ln.Addr().String(),
			Port:      actualPort,
			PID:       os.Getpid(),
			StartedAt: time.Now().UTC(),
			StateDir:  stateDir,
			Version:   version,
		}
		if err := daemonfile.Write(layout.RuntimeFile(), desc); err != nil {
			log.Error("failed to write daemon runtime descriptor", zap.Error(err))
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("received shutdown signal")
	case <-done:
		log.Info("shutdown requested over http")
	}

	if sup != nil {
		sup.Stop()
	}
	if daemonChild {
		daemonfile.Remove(layout.RuntimeFile())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	log.Info("runner stopped")
	return nil
}

// sourceRootFromExecutable resolves the directory the running binary lives
// in, used as the dev-mode version-hash root.
func sourceRootFromExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// noopExecutor backs a server started without an agent command configured:
// every run immediately fails with a clear reason instead of hanging.
type noopExecutor struct{}

func (noopExecutor) Bind(string, func(run.Envelope)) {}
func (noopExecutor) Start(ctx context.Context, rec *run.Record) (string, string, error) {
	return "", "", fmt.Errorf("no agent command is configured")
}
func (noopExecutor) Interrupt(ctx context.Context, rec *run.Record) error {
	return fmt.Errorf("no agent command is configured")
}
func (noopExecutor) Resume(ctx context.Context, rec *run.Record, steerMessage string) (string, error) {
	return "", fmt.Errorf("no agent command is configured")
}
