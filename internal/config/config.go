// Package config assembles the Kestrel configuration from defaults, an
// optional YAML file and KESTREL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration. Precedence, lowest first: tier defaults,
// the YAML file named by KESTREL_CONFIG, then environment variables. A
// .env file in the working directory is read first if present.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto cfg. ${VAR} references in the file
// are expanded from the environment.
func LoadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *domain.Config) {
	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresDSN = getEnv("KESTREL_POSTGRES_DSN", cfg.Repository.PostgresDSN)
	cfg.Repository.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("KESTREL_CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)

	cfg.EventBus.Type = getEnv("KESTREL_BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueueGroup = getEnv("KESTREL_NATS_QUEUE_GROUP", cfg.EventBus.NATSQueueGroup)

	cfg.Scoring.Workers = getEnvInt("KESTREL_SCORING_WORKERS", cfg.Scoring.Workers)
	cfg.Scoring.Location = getEnv("KESTREL_TIMEZONE", cfg.Scoring.Location)

	cfg.Detection.Workers = getEnvInt("KESTREL_DETECTION_WORKERS", cfg.Detection.Workers)
	cfg.Detection.FlagThreshold = getEnvInt("KESTREL_FLAG_THRESHOLD", cfg.Detection.FlagThreshold)
	cfg.Detection.CitationTTL = getEnvDuration("KESTREL_CITATION_TTL", cfg.Detection.CitationTTL)

	cfg.Pipeline.AsyncWorker = getEnvBool("KESTREL_ASYNC_WORKER", cfg.Pipeline.AsyncWorker)
	cfg.Pipeline.RunLease = getEnvDuration("KESTREL_RUN_LEASE", cfg.Pipeline.RunLease)
	cfg.Pipeline.SnapshotPath = getEnv("KESTREL_SNAPSHOT_PATH", cfg.Pipeline.SnapshotPath)
	if tenants := os.Getenv("KESTREL_TENANTS"); tenants != "" {
		cfg.Pipeline.Tenants = splitList(tenants)
	}

	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = getEnvBool("KESTREL_TRACING", cfg.Tracing.Enabled)
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Detection.FlagThreshold < 0 || cfg.Detection.FlagThreshold > 100 {
		return fmt.Errorf("flag threshold %d out of range 0-100", cfg.Detection.FlagThreshold)
	}
	if _, err := time.LoadLocation(cfg.Scoring.Location); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Scoring.Location, err)
	}
	if cfg.Pipeline.RunLease <= 0 {
		return fmt.Errorf("run lease must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
