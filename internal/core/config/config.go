package config

import (
	"time"

	"github.com/vietddude/rentdesk/internal/infra/backend"
	redisclient "github.com/vietddude/rentdesk/internal/infra/redis"
	"github.com/vietddude/rentdesk/internal/infra/retry"
	"github.com/vietddude/rentdesk/internal/infra/storage/postgres"
	"github.com/vietddude/rentdesk/internal/status"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Backend  backend.Config     `yaml:"backend"`
	Retry    RetryConfig        `yaml:"retry"`
	Observer status.Config      `yaml:"observer"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Cache    CacheConfig        `yaml:"cache"`
	Tracing  TracingConfig      `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RetryConfig is the retry policy shared by every data operation.
type RetryConfig struct {
	retry.Policy   `yaml:",inline"`
	TransientCodes []string `yaml:"transient_codes"` // backend error codes treated as timeouts
}

// CacheConfig controls the list cache. Redis is used when redis.url is set.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
	StaleFor time.Duration `yaml:"stale_for"`
}

// TracingConfig controls OpenTelemetry export of backend calls.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Stdout      bool   `yaml:"stdout"`
	ServiceName string `yaml:"service_name"`
}
