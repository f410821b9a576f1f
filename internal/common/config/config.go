// Package config loads runner configuration from CODEX_D_*-prefixed
// environment variables, with build-mode-appropriate defaults.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runner configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Logging LoggingConfig `mapstructure:"logging"`
	Dev     DevConfig     `mapstructure:"dev"`
}

// ServerConfig holds HTTP server / state-directory configuration.
type ServerConfig struct {
	ForegroundStateDir string `mapstructure:"foregroundStateDir"`
	DaemonStateDir     string `mapstructure:"daemonStateDir"`
	ForegroundPort     int    `mapstructure:"foregroundPort"`
	DaemonPort         int    `mapstructure:"daemonPort"`
	RequireAuth        bool   `mapstructure:"requireAuth"`
}

// AgentConfig holds agent-subprocess supervision configuration.
type AgentConfig struct {
	Command           string   `mapstructure:"command"`
	Args              []string `mapstructure:"args"`
	PersistRawEvents  bool     `mapstructure:"persistRawEvents"`
	RestartBaseDelayMS int     `mapstructure:"restartBaseDelayMs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DevConfig holds dev-mode-only configuration.
type DevConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from CODEX_D_* environment variables, falling
// back to the build-mode-appropriate defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEX_D")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	devMode := isDevMode(v)

	v.SetDefault("server.foregroundStateDir", ".codex-d")
	v.SetDefault("server.daemonStateDir", defaultDaemonStateDirSuffix(devMode))
	v.SetDefault("server.foregroundPort", foregroundPort(devMode))
	v.SetDefault("server.daemonPort", daemonPort(devMode))
	v.SetDefault("server.requireAuth", true)
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.persistRawEvents", false)
	v.SetDefault("agent.restartBaseDelayMs", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("dev.enabled", devMode)

	bindEnv(v, "server.foregroundStateDir", "FOREGROUND_STATE_DIR")
	bindEnv(v, "server.daemonStateDir", "DAEMON_STATE_DIR")
	bindEnv(v, "server.foregroundPort", "FOREGROUND_PORT")
	bindEnv(v, "server.daemonPort", "DAEMON_PORT")
	bindEnv(v, "agent.persistRawEvents", "PERSIST_RAW_EVENTS")
	bindEnv(v, "dev.enabled", "DEV_MODE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, "CODEX_D_"+env)
}

// isDevMode resolves dev-mode detection: an explicit environment override
// wins over the build-mode flag.
func isDevMode(v *viper.Viper) bool {
	if raw := os.Getenv("CODEX_D_DEV_MODE"); raw != "" {
		return raw == "1" || strings.EqualFold(raw, "true")
	}
	return buildIsDevMode
}

func defaultDaemonStateDirSuffix(dev bool) string {
	if dev {
		return "~/.codex-d-dev"
	}
	return "~/.codex-d"
}

func foregroundPort(dev bool) int {
	if dev {
		return 8788
	}
	return 8787
}

func daemonPort(dev bool) int {
	// Daemon always listens on an ephemeral port; this default is only used
	// when a caller asks for a fixed port in tests.
	if dev {
		return 0
	}
	return 0
}
