// Package config loads Kestrel configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvConfigPath names the variable consulted when Load gets an empty path.
const EnvConfigPath = "KESTREL_CONFIG_PATH"

// Load builds the configuration. The tier (from KESTREL_TIER or the file)
// picks the defaults, the YAML file is applied over them, then KESTREL_*
// environment variables. A missing file is not an error.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			slog.Warn("config file not found, using defaults", "path", path)
			data = nil
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults of the selected tier.
func Parse(data []byte) (*domain.Config, error) {
	var header struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &header); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	tier := header.Tier
	if env := os.Getenv("KESTREL_TIER"); env != "" {
		tier = domain.Tier(env)
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if tier != "" {
		cfg.Tier = tier
	}
	return cfg, nil
}

func applyEnvOverrides(c *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			slog.Warn("ignoring invalid KESTREL_PORT", "value", v)
		}
	}

	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		c.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}

	if v := os.Getenv("KESTREL_USE_CACHE"); v != "" {
		c.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("KESTREL_CACHE_TYPE"); v != "" {
		c.Cache.Type = strings.ToLower(v)
	}
	if v := os.Getenv("KESTREL_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}

	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		c.EventBus.Type = domain.BusTypeNATS
		c.EventBus.NATSUrl = v
	}

	if v := os.Getenv("KESTREL_MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("KESTREL_MODEL_VERSION"); v != "" {
		c.Model.Version = v
	}

	if v := os.Getenv("KESTREL_ASYNC_WORKER"); v != "" {
		c.Worker.Enabled = parseBool(v)
	}

	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if parseBool(os.Getenv("KESTREL_DEBUG")) {
		c.Logging.Level = "debug"
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate rejects configurations the server cannot start with.
func Validate(c *domain.Config) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %q", c.Repository.Driver)
	}

	switch c.Cache.Type {
	case domain.CacheTypeNone, domain.CacheTypeFile, domain.CacheTypeMemory, domain.CacheTypeRedis, "":
	default:
		return fmt.Errorf("unsupported cache type: %q", c.Cache.Type)
	}

	switch c.EventBus.Type {
	case domain.BusTypeChannel, domain.BusTypeNATS, "":
	default:
		return fmt.Errorf("unsupported event bus type: %q", c.EventBus.Type)
	}

	switch c.Detection.FailurePolicy {
	case domain.FailOpen, domain.FailClosed, "":
	default:
		return fmt.Errorf("unsupported failure policy: %q", c.Detection.FailurePolicy)
	}

	if c.Detection.BatchWorkers < 0 {
		return fmt.Errorf("batch_workers must not be negative")
	}
	if c.Detection.HeuristicThreshold < 0 || c.Detection.HeuristicThreshold > 1 {
		return fmt.Errorf("heuristic_threshold must be within [0,1]")
	}
	if c.Model.AnomalyThreshold < 0 || c.Model.AnomalyThreshold > 1 {
		return fmt.Errorf("anomaly_threshold must be within [0,1]")
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(c *domain.Config) slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
