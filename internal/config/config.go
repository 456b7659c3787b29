package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig gates the optional operator-notification subscriber.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// RateLimitConfig gates the per-client token-bucket limiter in front of
// the HTTP API. Keyed by bearer token (falling back to remote address),
// so one misbehaving orchestrator can't starve the scheduler poll for
// every other orchestrator sharing the server.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

type OTelConfig struct {
	// Exporter selects the trace/metric exporter: "none", "stdout", or "otlp-http".
	Exporter       string `yaml:"exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// Config holds taskhubd's full runtime configuration: the lease/claim
// tuning knobs spec.md §6 names, plus the ambient stack (bind address,
// logging, auth, notifications, tracing) every production service in
// this style carries regardless of what the core domain needs.
type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	LogLevel  string `yaml:"log_level"`
	DBPath    string `yaml:"db_path"`
	AuthToken string `yaml:"auth_token"`

	// AllowOrigins controls which Origin headers are accepted for
	// browser WebSocket connections to /events/ws. Empty means any
	// origin is accepted.
	AllowOrigins []string `yaml:"allow_origins"`

	// Lease and scheduling knobs (spec.md §6's Configuration table).
	DefaultLeaseDurationSeconds     int `yaml:"default_lease_duration_seconds"`
	MaxLeaseDurationSeconds         int `yaml:"max_lease_duration_seconds"`
	HeartbeatIntervalSeconds        int `yaml:"heartbeat_interval_seconds"`
	StaleOrchestratorTimeoutSeconds int `yaml:"stale_orchestrator_timeout_seconds"`
	DefaultPageSize                 int `yaml:"default_page_size"`
	MaxPageSize                     int `yaml:"max_page_size"`
	BurnoutTurnThreshold            int `yaml:"burnout_turn_threshold"`
	MaxTurnLimit                    int `yaml:"max_turn_limit"`

	// ReconcileIntervalSeconds controls how often the reconciler sweeps
	// for expired leases.
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`

	Notify    NotifyConfig    `yaml:"notify"`
	OTel      OTelConfig      `yaml:"otel"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	NeedsGenesis bool `yaml:"-"`
}

// LeaseDuration returns the default lease as a time.Duration.
func (c Config) LeaseDuration() time.Duration {
	return time.Duration(c.DefaultLeaseDurationSeconds) * time.Second
}

// MaxLeaseDuration returns the maximum lease an orchestrator may request.
func (c Config) MaxLeaseDuration() time.Duration {
	return time.Duration(c.MaxLeaseDurationSeconds) * time.Second
}

// HeartbeatInterval returns the expected orchestrator heartbeat cadence.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// StaleOrchestratorTimeout returns how long since the last heartbeat
// before an orchestrator is considered gone.
func (c Config) StaleOrchestratorTimeout() time.Duration {
	return time.Duration(c.StaleOrchestratorTimeoutSeconds) * time.Second
}

// ReconcileInterval returns the reconciler sweep cadence.
func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active, behavior-affecting
// config, surfaced on GET /scheduler/poll so an orchestrator can detect
// a reload without diffing the whole document.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "lease=%d|maxlease=%d|heartbeat=%d|stale=%d|page=%d|maxpage=%d|burnout=%d|maxturn=%d|bind=%s|origins=%v",
		c.DefaultLeaseDurationSeconds, c.MaxLeaseDurationSeconds, c.HeartbeatIntervalSeconds,
		c.StaleOrchestratorTimeoutSeconds, c.DefaultPageSize, c.MaxPageSize,
		c.BurnoutTurnThreshold, c.MaxTurnLimit, c.BindAddr, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:                        "127.0.0.1:8080",
		LogLevel:                        "info",
		DBPath:                          "taskhub.db",
		DefaultLeaseDurationSeconds:     300,
		MaxLeaseDurationSeconds:         3600,
		HeartbeatIntervalSeconds:        30,
		StaleOrchestratorTimeoutSeconds: 120,
		DefaultPageSize:                 50,
		MaxPageSize:                     500,
		BurnoutTurnThreshold:            80,
		MaxTurnLimit:                    100,
		ReconcileIntervalSeconds:        15,
		OTel: OTelConfig{
			Exporter:    "none",
			ServiceName: "taskhubd",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 300,
			BurstSize:         50,
		},
	}
}

// HomeDir resolves the directory config.yaml, roles.yaml, and flows.yaml
// live in, defaulting to ~/.taskhub and overridable with TASKHUB_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKHUB_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskhub")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskhub home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "taskhub.db"
	}
	if cfg.DefaultLeaseDurationSeconds <= 0 {
		cfg.DefaultLeaseDurationSeconds = 300
	}
	if cfg.MaxLeaseDurationSeconds <= 0 {
		cfg.MaxLeaseDurationSeconds = 3600
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = 30
	}
	if cfg.StaleOrchestratorTimeoutSeconds <= 0 {
		cfg.StaleOrchestratorTimeoutSeconds = 120
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	if cfg.BurnoutTurnThreshold <= 0 {
		cfg.BurnoutTurnThreshold = 80
	}
	if cfg.MaxTurnLimit <= 0 {
		cfg.MaxTurnLimit = 100
	}
	if cfg.ReconcileIntervalSeconds <= 0 {
		cfg.ReconcileIntervalSeconds = 15
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "none"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "taskhubd"
	}
}

// validate rejects configuration combinations the rest of the system
// cannot recover from at runtime.
func validate(cfg Config) error {
	if cfg.DefaultLeaseDurationSeconds > cfg.MaxLeaseDurationSeconds {
		return fmt.Errorf("default_lease_duration_seconds (%d) must be <= max_lease_duration_seconds (%d)",
			cfg.DefaultLeaseDurationSeconds, cfg.MaxLeaseDurationSeconds)
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		return fmt.Errorf("default_page_size (%d) must be <= max_page_size (%d)",
			cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if cfg.BurnoutTurnThreshold > cfg.MaxTurnLimit {
		return fmt.Errorf("burnout_turn_threshold (%d) must be <= max_turn_limit (%d)",
			cfg.BurnoutTurnThreshold, cfg.MaxTurnLimit)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKHUB_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKHUB_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKHUB_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TASKHUB_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("TASKHUB_DEFAULT_LEASE_DURATION_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DefaultLeaseDurationSeconds = v
		}
	}
	if raw := os.Getenv("TASKHUB_MAX_LEASE_DURATION_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxLeaseDurationSeconds = v
		}
	}
	if raw := os.Getenv("TASKHUB_HEARTBEAT_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HeartbeatIntervalSeconds = v
		}
	}
	if raw := os.Getenv("TASKHUB_STALE_ORCHESTRATOR_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.StaleOrchestratorTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("TASKHUB_DEFAULT_PAGE_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DefaultPageSize = v
		}
	}
	if raw := os.Getenv("TASKHUB_MAX_PAGE_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxPageSize = v
		}
	}
	if raw := os.Getenv("TASKHUB_BURNOUT_TURN_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.BurnoutTurnThreshold = v
		}
	}
	if raw := os.Getenv("TASKHUB_MAX_TURN_LIMIT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxTurnLimit = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Notify.Telegram.Token = raw
		cfg.Notify.Telegram.Enabled = true
	}
}
