// Package config provides centralized configuration management for the
// replay tools. Defaults live here; environment variables override them.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/checkpoint"
	"tick-replay/internal/replay"
)

// =============================================================================
// REPLAY CONFIGURATION
// =============================================================================

// ReplayConfig tunes checkpoint generation and seeking.
type ReplayConfig struct {
	CheckpointInterval     int  `env:"REPLAY_CHECKPOINT_INTERVAL"`
	CheckpointMinInterval  int  `env:"REPLAY_CHECKPOINT_MIN_INTERVAL"`
	SpawnThreshold         int  `env:"REPLAY_SPAWN_THRESHOLD"`
	StateThreshold         int  `env:"REPLAY_STATE_THRESHOLD"`
	IgnoreErrors           bool `env:"REPLAY_IGNORE_ERRORS"`
	VisualEventThreshold   int  `env:"REPLAY_VISUAL_EVENT_THRESHOLD"`
	CheckpointJumpInterval int  `env:"REPLAY_CHECKPOINT_JUMP_INTERVAL"`
}

// DefaultReplay returns the default replay tuning.
func DefaultReplay() ReplayConfig {
	gen := checkpoint.DefaultSettings()
	seek := replay.DefaultSettings()
	return ReplayConfig{
		CheckpointInterval:     gen.Interval,
		CheckpointMinInterval:  gen.MinInterval,
		SpawnThreshold:         gen.SpawnThreshold,
		StateThreshold:         gen.StateThreshold,
		VisualEventThreshold:   seek.VisualEventThreshold,
		CheckpointJumpInterval: seek.CheckpointJumpInterval,
	}
}

// CheckpointSettings returns the generator settings.
func (c ReplayConfig) CheckpointSettings() checkpoint.Settings {
	return checkpoint.Settings{
		Interval:       c.CheckpointInterval,
		MinInterval:    c.CheckpointMinInterval,
		SpawnThreshold: c.SpawnThreshold,
		StateThreshold: c.StateThreshold,
		IgnoreErrors:   c.IgnoreErrors,
	}
}

// SeekSettings returns the player settings.
func (c ReplayConfig) SeekSettings() replay.Settings {
	return replay.Settings{
		VisualEventThreshold:   c.VisualEventThreshold,
		CheckpointJumpInterval: c.CheckpointJumpInterval,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port           int           `env:"PORT"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:","`
	ControlToken   string        `env:"REPLAY_CONTROL_TOKEN"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST"`
	StatusInterval time.Duration `env:"WS_STATUS_INTERVAL"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		RateLimitRPS:   60,
		RateLimitBurst: 120,
		StatusInterval: 250 * time.Millisecond,
	}
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig locates the checkpoint cache. An empty path disables it.
type StorageConfig struct {
	CachePath string `env:"REPLAY_CACHE_PATH"`
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{CachePath: "replay-cache.db"}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds logging, debug server and error reporting
// settings.
type ObservabilityConfig struct {
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
	DebugEnabled  bool   `env:"DEBUG_SERVER_ENABLED"`
	DebugAddr     string `env:"DEBUG_SERVER_ADDR"`
	AllowExternal bool   `env:"ALLOW_DEBUG_EXTERNAL"`
	BasicAuthUser string `env:"DEBUG_BASIC_AUTH_USER"`
	BasicAuthPass string `env:"DEBUG_BASIC_AUTH_PASS"`
	SentryDSN     string `env:"SENTRY_DSN"`
	Environment   string `env:"SENTRY_ENVIRONMENT"`
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:     "info",
		LogFormat:    "text",
		DebugEnabled: true,
		DebugAddr:    "127.0.0.1:6060",
		Environment:  "development",
	}
}

// Level parses LogLevel.
func (c ObservabilityConfig) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// NewLogger returns a logger with the configured level and format.
func (c ObservabilityConfig) NewLogger() (*logrus.Logger, error) {
	lvl, err := c.Level()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	l := logrus.New()
	l.SetLevel(lvl)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

// =============================================================================
// RECORDING CONFIGURATION
// =============================================================================

// RecordingConfig says what to load at startup and where API load requests
// are resolved.
type RecordingConfig struct {
	Path string `env:"REPLAY_RECORDING"`
	Dir  string `env:"REPLAY_RECORDING_DIR"`
}

// DefaultRecording returns the default recording configuration.
func DefaultRecording() RecordingConfig {
	return RecordingConfig{Dir: "recordings"}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Replay        ReplayConfig
	Server        ServerConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
	Recording     RecordingConfig
}

// Default returns the configuration without environment overrides.
func Default() AppConfig {
	return AppConfig{
		Replay:        DefaultReplay(),
		Server:        DefaultServer(),
		Storage:       DefaultStorage(),
		Observability: DefaultObservability(),
		Recording:     DefaultRecording(),
	}
}

// Load returns the defaults overridden by any set environment variables.
func Load() (AppConfig, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// ErrInvalid reports an unusable configuration value.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks value ranges.
func (c AppConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	r := c.Replay
	check(r.CheckpointInterval > 0, "checkpoint interval %d must be positive", r.CheckpointInterval)
	check(r.CheckpointMinInterval >= 0 && r.CheckpointMinInterval <= r.CheckpointInterval,
		"checkpoint min interval %d must be within [0, %d]", r.CheckpointMinInterval, r.CheckpointInterval)
	check(r.SpawnThreshold > 0, "spawn threshold %d must be positive", r.SpawnThreshold)
	check(r.StateThreshold > 0, "state threshold %d must be positive", r.StateThreshold)
	check(r.VisualEventThreshold >= 0, "visual event threshold %d must not be negative", r.VisualEventThreshold)
	check(r.CheckpointJumpInterval >= 0, "checkpoint jump interval %d must not be negative", r.CheckpointJumpInterval)
	check(c.Server.Port > 0 && c.Server.Port < 65536, "port %d out of range", c.Server.Port)
	check(c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst > 0, "rate limit must be positive")
	check(c.Observability.LogFormat == "text" || c.Observability.LogFormat == "json",
		"log format %q must be text or json", c.Observability.LogFormat)
	if _, err := c.Observability.Level(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}
