package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for all environment variables, e.g.
// COMMANDER_NETWORK_IDLE_TIMEOUT.
const envPrefix = "commander"

// Config holds all commander configuration.
type Config struct {
	Network    NetworkConfig
	Navigation NavigationConfig
	Scheduler  SchedulerConfig
	Log        LogConfig

	// Verbose makes the commander log its creation and destruction. Read
	// once at commander construction.
	Verbose bool `envconfig:"VERBOSE" default:"false"`
}

// NetworkConfig controls the network tracker.
type NetworkConfig struct {
	// IdleTimeout is the quiet window for a standalone tracker.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"500ms"` // default: 500ms

	// LifecycleIdleTimeout replaces IdleTimeout when the tracker is owned
	// by a commander and feeds the page lifecycle.
	LifecycleIdleTimeout time.Duration `envconfig:"LIFECYCLE_IDLE_TIMEOUT" default:"30s"` // default: 30s

	// RequestTimeout bounds how long a pending request is tracked before
	// it is considered stuck and collected.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"` // default: 30s

	// PollInterval is the tick of the wait-for-idle loop.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"100ms"` // default: 100ms
}

// NavigationConfig controls the lifecycle manager.
type NavigationConfig struct {
	// RedirectStabilization is how long the main-frame URL must stay
	// unchanged before the page is considered past its redirect chain.
	RedirectStabilization time.Duration `envconfig:"REDIRECT_STABILIZATION" default:"1s"` // default: 1s

	// URLPollInterval is the tick of the URL stabilization loop.
	URLPollInterval time.Duration `envconfig:"URL_POLL_INTERVAL" default:"200ms"` // default: 200ms

	// ReadyTimeout is the overall deadline for wait-for-page-ready.
	ReadyTimeout time.Duration `envconfig:"READY_TIMEOUT" default:"60s"` // default: 60s

	// GotoTimeout is the deadline for the driver's goto alone.
	GotoTimeout time.Duration `envconfig:"GOTO_TIMEOUT" default:"30s"` // default: 30s
}

// SchedulerConfig controls the trigger scheduler.
type SchedulerConfig struct {
	// GracefulStopTimeout is how long stop waits for a running action to
	// honour its abort token before abandoning it.
	GracefulStopTimeout time.Duration `envconfig:"GRACEFUL_STOP_TIMEOUT" default:"10s"` // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`  // default: "info"
	Format string `envconfig:"FORMAT" default:"json"` // "json" or "text"; default: "json"
}

// Load reads configuration from COMMANDER_* environment variables with sane
// defaults. Invalid values fall back to the defaults rather than failing.
func Load() *Config {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		slog.Warn("invalid commander environment configuration, using defaults", "error", err)
		return Default()
	}
	return &cfg
}

// Default returns the built-in configuration without consulting the
// environment.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			IdleTimeout:          500 * time.Millisecond,
			LifecycleIdleTimeout: 30 * time.Second,
			RequestTimeout:       30 * time.Second,
			PollInterval:         100 * time.Millisecond,
		},
		Navigation: NavigationConfig{
			RedirectStabilization: time.Second,
			URLPollInterval:       200 * time.Millisecond,
			ReadyTimeout:          60 * time.Second,
			GotoTimeout:           30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			GracefulStopTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// InitLogger configures slog based on the LogConfig.
func InitLogger(cfg LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
