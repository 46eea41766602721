package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/rentdesk/internal/infra/backend"
)

// Load reads configuration from a YAML file. A missing file at the default
// location is not an error when allowMissing is set; defaults and
// environment overrides are used instead.
func Load(path string, allowMissing bool) (*AppConfig, error) {
	var cfg AppConfig

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Environment variables fill fields the file left empty.
func applyEnv(cfg *AppConfig) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&cfg.Backend.URL, "RENTDESK_BACKEND_URL")
	fill(&cfg.Backend.Key, "RENTDESK_BACKEND_KEY")
	fill(&cfg.Database.URL, "RENTDESK_DATABASE_URL")
	fill(&cfg.Redis.URL, "RENTDESK_REDIS_URL")
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	b := &cfg.Backend
	if b.Mode == "" {
		b.Mode = backend.ModeREST
	}
	if b.RESTPath == "" {
		b.RESTPath = "/rest/v1"
	}
	if b.RequestTimeout == 0 {
		b.RequestTimeout = 15 * time.Second
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = 3
	}
	if b.RetryDelay == 0 {
		b.RetryDelay = 2 * time.Second
	}
	if b.CheckInterval == 0 {
		b.CheckInterval = 30 * time.Second
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if len(cfg.Retry.TransientCodes) == 0 {
		cfg.Retry.TransientCodes = []string{"57014", "PGRST003"}
	}

	if cfg.Observer.PollInterval == 0 {
		cfg.Observer.PollInterval = 30 * time.Second
	}
	if cfg.Observer.SettleDelay == 0 {
		cfg.Observer.SettleDelay = time.Second
	}
	if cfg.Observer.NetworkProbeInterval == 0 {
		cfg.Observer.NetworkProbeInterval = 5 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgx"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.StaleFor == 0 {
		cfg.Cache.StaleFor = time.Hour
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "rentdesk"
	}
}

// Validate rejects settings the process cannot run with. Missing backend
// credentials are not an error: the app starts in degraded mode.
func (c *AppConfig) Validate() error {
	switch c.Backend.Mode {
	case backend.ModeREST, backend.ModePostgres:
	default:
		return fmt.Errorf("unknown backend.mode %q", c.Backend.Mode)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Backend.RetryDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must not be negative, got %d", c.Backend.MaxRetries)
	}
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
