package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetci/taskhub/internal/config"
)

func TestLoad_FromTaskhubHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".taskhub")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "bind_addr: 0.0.0.0:9090\ndefault_lease_duration_seconds: 600\n"
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9090" {
		t.Fatalf("expected bind_addr=0.0.0.0:9090 got %q", cfg.BindAddr)
	}
	if cfg.DefaultLeaseDurationSeconds != 600 {
		t.Fatalf("expected default_lease_duration_seconds=600 got %d", cfg.DefaultLeaseDurationSeconds)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".taskhub")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default bind_addr=127.0.0.1:8080, got %q", cfg.BindAddr)
	}
	if cfg.DefaultLeaseDurationSeconds != 300 {
		t.Fatalf("expected default_lease_duration_seconds=300, got %d", cfg.DefaultLeaseDurationSeconds)
	}
	if cfg.MaxLeaseDurationSeconds != 3600 {
		t.Fatalf("expected max_lease_duration_seconds=3600, got %d", cfg.MaxLeaseDurationSeconds)
	}
	if cfg.HeartbeatIntervalSeconds != 30 {
		t.Fatalf("expected heartbeat_interval_seconds=30, got %d", cfg.HeartbeatIntervalSeconds)
	}
	if cfg.StaleOrchestratorTimeoutSeconds != 120 {
		t.Fatalf("expected stale_orchestrator_timeout_seconds=120, got %d", cfg.StaleOrchestratorTimeoutSeconds)
	}
	if cfg.DefaultPageSize != 50 {
		t.Fatalf("expected default_page_size=50, got %d", cfg.DefaultPageSize)
	}
	if cfg.MaxPageSize != 500 {
		t.Fatalf("expected max_page_size=500, got %d", cfg.MaxPageSize)
	}
	if cfg.BurnoutTurnThreshold != 80 {
		t.Fatalf("expected burnout_turn_threshold=80, got %d", cfg.BurnoutTurnThreshold)
	}
	if cfg.MaxTurnLimit != 100 {
		t.Fatalf("expected max_turn_limit=100, got %d", cfg.MaxTurnLimit)
	}
	if cfg.RateLimit.Enabled {
		t.Fatal("expected rate limiting disabled by default")
	}
	if cfg.RateLimit.RequestsPerMinute != 300 {
		t.Fatalf("expected rate_limit.requests_per_minute=300, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.BurstSize != 50 {
		t.Fatalf("expected rate_limit.burst_size=50, got %d", cfg.RateLimit.BurstSize)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".taskhub")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("default_lease_duration_seconds: 200\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("TASKHUB_DEFAULT_LEASE_DURATION_SECONDS", "900")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultLeaseDurationSeconds != 900 {
		t.Fatalf("expected env override default_lease_duration_seconds=900 got %d", cfg.DefaultLeaseDurationSeconds)
	}
}

func TestLoad_RejectsLeaseDefaultAboveMax(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".taskhub")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "default_lease_duration_seconds: 7200\nmax_lease_duration_seconds: 3600\n"
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error when default lease exceeds max lease")
	}
}

func TestFingerprint_ChangesWithBehaviorAffectingField(t *testing.T) {
	a := config.Config{DefaultLeaseDurationSeconds: 300, MaxLeaseDurationSeconds: 3600, DefaultPageSize: 50, MaxPageSize: 500}
	b := a
	b.DefaultLeaseDurationSeconds = 600
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected fingerprints to differ when lease duration changes")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatalf("expected fingerprint to be stable across calls")
	}
}

func TestLoad_TelegramTokenEnvOverride(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".taskhub")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("TELEGRAM_TOKEN", "from-env-token")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.Telegram.Token != "from-env-token" {
		t.Fatalf("expected telegram token from env, got %q", cfg.Notify.Telegram.Token)
	}
	if !cfg.Notify.Telegram.Enabled {
		t.Fatalf("expected telegram enabled when token set via env")
	}
}
