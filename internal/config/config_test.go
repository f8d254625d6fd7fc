package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// clearEnv blanks every variable Load reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KESTREL_TIER", "KESTREL_CONFIG", "KESTREL_HOST", "KESTREL_PORT",
		"KESTREL_DB_DRIVER", "KESTREL_SQLITE_PATH", "KESTREL_POSTGRES_DSN",
		"KESTREL_CACHE_TYPE", "KESTREL_REDIS_ADDR", "KESTREL_BUS_TYPE", "KESTREL_NATS_URL", "KESTREL_NATS_QUEUE_GROUP",
		"KESTREL_SCORING_WORKERS", "KESTREL_TIMEZONE", "KESTREL_DETECTION_WORKERS",
		"KESTREL_FLAG_THRESHOLD", "KESTREL_ASYNC_WORKER", "KESTREL_RUN_LEASE",
		"KESTREL_SNAPSHOT_PATH", "KESTREL_TENANTS", "KESTREL_LOG_LEVEL",
		"KESTREL_LOG_FORMAT", "KESTREL_DEBUG", "KESTREL_TRACING",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("tier = %s, want community", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community backends: %s %s %s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Detection.FlagThreshold != domain.FlagThreshold {
		t.Errorf("flag threshold = %d, want %d", cfg.Detection.FlagThreshold, domain.FlagThreshold)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %s, want json", cfg.Logging.Format)
	}
}

func TestLoadProTier(t *testing.T) {
	clearEnv(t)
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro {
		t.Errorf("tier = %s, want pro", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected pro backends: %s %s %s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if !cfg.Pipeline.AsyncWorker {
		t.Error("pro tier should start the async worker")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_TENANTS", "tenant-a, tenant-b,,")
	t.Setenv("KESTREL_TIMEZONE", "Asia/Seoul")
	t.Setenv("KESTREL_RUN_LEASE", "5m")
	t.Setenv("KESTREL_DEBUG", "true")
	t.Setenv("KESTREL_ASYNC_WORKER", "true")
	t.Setenv("KESTREL_SCORING_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Pipeline.Tenants) != 2 || cfg.Pipeline.Tenants[1] != "tenant-b" {
		t.Errorf("tenants = %v", cfg.Pipeline.Tenants)
	}
	if cfg.Scoring.Location != "Asia/Seoul" {
		t.Errorf("location = %s", cfg.Scoring.Location)
	}
	if cfg.Pipeline.RunLease != 5*time.Minute {
		t.Errorf("run lease = %v", cfg.Pipeline.RunLease)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("KESTREL_DEBUG should force debug, got %s", cfg.Logging.Level)
	}
	if !cfg.Pipeline.AsyncWorker {
		t.Error("async worker override ignored")
	}
	if cfg.Scoring.Workers != domain.DefaultConfig().Scoring.Workers {
		t.Errorf("unparsable override should keep default, got %d", cfg.Scoring.Workers)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	doc := `
server:
  port: 7070
repository:
  driver: sqlite
  sqlitePath: ${KESTREL_TEST_DB}
detection:
  flagThreshold: 65
  citationTTL: 2m
pipeline:
  runLease: 45m
  tenants: [acme]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("KESTREL_TEST_DB", "/tmp/acme.db")
	t.Setenv("KESTREL_CONFIG", path)
	t.Setenv("KESTREL_PORT", "7171")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Repository.SQLitePath != "/tmp/acme.db" {
		t.Errorf("sqlitePath = %q, env reference not expanded", cfg.Repository.SQLitePath)
	}
	if cfg.Detection.FlagThreshold != 65 || cfg.Detection.CitationTTL != 2*time.Minute {
		t.Errorf("detection = %+v", cfg.Detection)
	}
	if cfg.Pipeline.RunLease != 45*time.Minute || len(cfg.Pipeline.Tenants) != 1 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Server.Port != 7171 {
		t.Errorf("environment should win over file, port = %d", cfg.Server.Port)
	}
	if cfg.Cache.Type != "memory" {
		t.Errorf("fields absent from the file should keep defaults, cache = %s", cfg.Cache.Type)
	}

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("KESTREL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := Load(); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"bad tier", func(c *domain.Config) { c.Tier = "enterprise" }},
		{"bad port", func(c *domain.Config) { c.Server.Port = 70000 }},
		{"bad threshold", func(c *domain.Config) { c.Detection.FlagThreshold = 101 }},
		{"bad timezone", func(c *domain.Config) { c.Scoring.Location = "Mars/Olympus" }},
		{"zero lease", func(c *domain.Config) { c.Pipeline.RunLease = 0 }},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("hello", "tenant", "t1")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "tenant=t1") {
		t.Errorf("unexpected text output: %q", buf.String())
	}

	buf.Reset()
	logger = NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, `"msg":"kept"`) {
		t.Errorf("unexpected json output: %q", out)
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should map to info")
	}
}
