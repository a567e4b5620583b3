package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier selects the default infrastructure stack
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`

	// Decision layer
	Detection DetectionConfig `yaml:"detection"`
	Model     ModelConfig     `yaml:"model"`
	Worker    WorkerConfig    `yaml:"worker"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// FailurePolicy decides what an internal detection error means for the caller.
type FailurePolicy string

const (
	// FailOpen reports errored transactions as not fraud.
	FailOpen FailurePolicy = "open"

	// FailClosed flags errored transactions at or above FailClosedMinAmount.
	FailClosed FailurePolicy = "closed"
)

// DetectionConfig holds orchestrator settings.
type DetectionConfig struct {
	// TimeoutMs bounds a single detection. Zero means only the caller's deadline applies.
	TimeoutMs int `yaml:"timeout_ms"`

	// BatchWorkers bounds concurrent detections inside one batch.
	BatchWorkers int `yaml:"batch_workers"`

	// HeuristicThreshold is the risk score above which the heuristic flags fraud.
	HeuristicThreshold float64 `yaml:"heuristic_threshold"`

	// HighAmountThreshold drives the is_high_amount attribute.
	HighAmountThreshold float64 `yaml:"high_amount_threshold"`

	FailurePolicy       FailurePolicy `yaml:"failure_policy"`
	FailClosedMinAmount float64       `yaml:"fail_closed_min_amount"`

	// RuleCacheTTLSecs is the lifetime of the cached active rule list.
	RuleCacheTTLSecs int `yaml:"rule_cache_ttl_secs"`

	// SeedDefaultRules installs the default rule set into an empty store.
	SeedDefaultRules bool `yaml:"seed_default_rules"`
}

// Timeout returns the per-transaction detection deadline.
func (d DetectionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// RuleCacheTTL returns the lifetime of the cached rule list.
func (d DetectionConfig) RuleCacheTTL() time.Duration {
	return time.Duration(d.RuleCacheTTLSecs) * time.Second
}

// ModelConfig holds anomaly model settings.
type ModelConfig struct {
	// Path to the serialized model bundle. Empty disables the model.
	Path string `yaml:"path"`

	// Version overrides the version recorded in the bundle.
	Version string `yaml:"version"`

	// AnomalyThreshold overrides the bundle threshold when greater than zero.
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
}

// WorkerConfig holds async bus worker settings.
type WorkerConfig struct {
	Enabled       bool `yaml:"enabled"`
	Concurrency   int  `yaml:"concurrency"`
	ServeRequests bool `yaml:"serve_requests"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	ExporterType string `yaml:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, a file cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         CacheTypeFile,
			Enabled:      true,
			Dir:          "./cache",
			LocalMaxSize: 10000,
			LocalTTLSecs: 300,
		},
		EventBus: EventBusConfig{
			Type:              BusTypeChannel,
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			TimeoutMs:           0,
			BatchWorkers:        10,
			HeuristicThreshold:  0.7,
			HighAmountThreshold: 10000,
			FailurePolicy:       FailOpen,
			RuleCacheTTLSecs:    300,
			SeedDefaultRules:    true,
		},
		Model: ModelConfig{
			Path: "./models/fraud_model.json",
		},
		Worker: WorkerConfig{
			Concurrency:   10,
			ServeRequests: true,
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
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           CacheTypeRedis,
		Enabled:        true,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTLSecs:   60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              BusTypeNATS,
		NATSUrl:           "nats://localhost:4222",
		NATSQueueGroup:    "kestrel-workers",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
