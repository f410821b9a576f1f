package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codex-d/runner/internal/client"
	"github.com/codex-d/runner/internal/common/config"
	"github.com/codex-d/runner/internal/common/logger"
	"github.com/codex-d/runner/internal/daemon"
	"github.com/codex-d/runner/internal/paths"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the detached background runner",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Self-install and spawn the daemon if one is not already running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reinstall and respawn even if a daemon is already running")
	return cmd
}

func runDaemonStart(ctx context.Context, force bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Default()
	layout := paths.New(cfg.Server.DaemonStateDir)

	if !force {
		if c, err := client.Resolve(ctx, client.ResolveOptions{DaemonStateDir: cfg.Server.DaemonStateDir}); err == nil {
			if _, err := c.Health(ctx); err == nil {
				printResult(map[string]string{"status": "already running", "baseUrl": c.BaseURL}, "daemon already running at "+c.BaseURL)
				return nil
			}
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon_install_failed: resolve current executable: %w", err)
	}
	buildDir := filepath.Dir(exe)
	installDir := layout.InstallDir()

	version, err := daemon.Version(cfg.Dev.Enabled, buildDir)
	if err != nil {
		return fmt.Errorf("daemon_install_failed: resolve version: %w", err)
	}

	if _, err := daemon.SelfInstall(buildDir, installDir, version, force, log); err != nil {
		return fmt.Errorf("daemon_install_failed: %w", err)
	}

	binaryPath := daemon.InstalledBinary(installDir, filepath.Base(exe))
	daemon.LogStart(log, daemon.SpawnOptions{BinaryPath: binaryPath})

	handle, err := daemon.Spawn(ctx, daemon.SpawnOptions{
		BinaryPath: binaryPath,
		Args:       []string{"serve", "--daemon-child"},
		Layout:     layout,
	})
	if err != nil {
		return fmt.Errorf("daemon_start_timeout: %w", err)
	}

	printResult(map[string]any{
		"status":  "started",
		"pid":     handle.PID(),
		"baseUrl": handle.Descriptor.BaseURL,
	}, fmt.Sprintf("daemon started, pid %d, listening on %s", handle.PID(), handle.Descriptor.BaseURL))
	return nil
}

func newDaemonStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "kill the process if graceful shutdown fails")
	return cmd
}

func runDaemonStop(ctx context.Context, force bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	layout := paths.New(cfg.Server.DaemonStateDir)

	c, err := client.Resolve(ctx, client.ResolveOptions{DaemonStateDir: cfg.Server.DaemonStateDir})
	if err != nil {
		return fmt.Errorf("shutdown_failed: %w", err)
	}

	if err := daemon.Stop(ctx, layout, c, force); err != nil {
		return fmt.Errorf("shutdown_failed: %w", err)
	}
	printResult(map[string]string{"status": "stopped"}, "daemon stopped")
	return nil
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStatus(cmd.Context())
		},
	}
}

func runDaemonStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	layout := paths.New(cfg.Server.DaemonStateDir)

	c, err := client.Resolve(ctx, client.ResolveOptions{DaemonStateDir: cfg.Server.DaemonStateDir})
	if err != nil {
		printResult(map[string]string{"status": "not running"}, "daemon not running")
		return nil
	}

	health, err := c.Health(ctx)
	if err != nil {
		printResult(map[string]string{"status": "unreachable"}, "daemon state file present but unreachable")
		return nil
	}
	info, err := c.Info(ctx)
	if err != nil {
		info = &client.InfoResponse{BaseURL: c.BaseURL}
	}

	printResult(map[string]any{
		"status":       "running",
		"codexRuntime": health.CodexRuntime,
		"baseUrl":      info.BaseURL,
		"runnerId":     info.RunnerID,
		"version":      info.Version,
	}, fmt.Sprintf("daemon running at %s (codex runtime: %s)", info.BaseURL, health.CodexRuntime))
	return nil
}
