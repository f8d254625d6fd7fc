package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are wired
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Engine settings
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// ScoringConfig tunes the scoring pass.
type ScoringConfig struct {
	Workers int `json:"workers" yaml:"workers"`

	// Location is the IANA zone used for hour/weekday checks.
	Location string `json:"location" yaml:"location"`
}

// DetectionConfig tunes the detect-and-file pass.
type DetectionConfig struct {
	Workers       int           `json:"workers" yaml:"workers"`
	FlagThreshold int           `json:"flagThreshold" yaml:"flagThreshold"`
	CitationTTL   time.Duration `json:"citationTTL" yaml:"citationTTL"`
}

// PipelineConfig controls batch runs.
type PipelineConfig struct {
	// Tenants the async worker subscribes for; empty means the global subscription.
	Tenants []string `json:"tenants" yaml:"tenants"`

	// AsyncWorker starts the bus-driven pipeline worker.
	AsyncWorker bool `json:"asyncWorker" yaml:"asyncWorker"`

	// RunLease bounds how long a tenant's run guard is held.
	RunLease time.Duration `json:"runLease" yaml:"runLease"`

	// SnapshotPath optionally mirrors each metrics snapshot to a JSON file.
	SnapshotPath string `json:"snapshotPath" yaml:"snapshotPath"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			Workers:  8,
			Location: "UTC",
		},
		Detection: DetectionConfig{
			Workers:       8,
			FlagThreshold: FlagThreshold,
			CitationTTL:   10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			RunLease: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Scoring.Workers = 32
	cfg.Detection.Workers = 32
	cfg.Pipeline.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
