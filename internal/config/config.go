// Package config loads the process configuration: a YAML file layered
// over defaults, then environment overrides for the deployment-specific
// values (connection strings, listen address, webhook URL).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsecrm/pipescore/internal/infrastructure/db"
	apihttp "github.com/pulsecrm/pipescore/internal/interfaces/http"
	"github.com/pulsecrm/pipescore/internal/pipeline"
)

// RedisConfig holds the cache connection settings. Enabled=false runs
// the process without a cache; every summary read recomputes.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AlertsConfig holds the alert webhook settings. An empty URL keeps
// alerts on the log sink only.
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full process configuration tree.
type Config struct {
	HTTP     apihttp.ServerConfig `yaml:"http"`
	Database db.Config            `yaml:"database"`
	Batch    pipeline.BatchConfig `yaml:"batch"`
	Redis    RedisConfig          `yaml:"redis"`
	Alerts   AlertsConfig         `yaml:"alerts"`
	Log      LogConfig            `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:     apihttp.DefaultServerConfig(),
		Database: db.DefaultConfig(),
		Batch:    pipeline.DefaultBatchConfig(),
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// YAML scalars cannot carry time.Duration directly, so the file schema
// keeps durations as strings ("200ms", "23h") and Load parses them over
// the defaults.
type fileConfig struct {
	HTTP struct {
		Addr           string `yaml:"addr"`
		ReadTimeout    string `yaml:"read_timeout"`
		WriteTimeout   string `yaml:"write_timeout"`
		IdleTimeout    string `yaml:"idle_timeout"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"http"`
	Database struct {
		DSN             string `yaml:"dsn"`
		MaxOpenConns    *int   `yaml:"max_open_conns"`
		MaxIdleConns    *int   `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
		QueryTimeout    string `yaml:"query_timeout"`
	} `yaml:"database"`
	Batch struct {
		BatchSize       *int     `yaml:"batch_size"`
		BatchDelay      string   `yaml:"batch_delay"`
		StaleAfter      string   `yaml:"stale_after"`
		AlertErrorRate  *float64 `yaml:"alert_error_rate"`
		MaxLoggedErrors *int     `yaml:"max_logged_errors"`
	} `yaml:"batch"`
	Redis struct {
		Enabled  *bool  `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Alerts struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"alerts"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty *bool  `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads the YAML file at path (skipped when path is empty), layers
// it over Default, applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
		if err := merge(&cfg, &file); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func merge(cfg *Config, file *fileConfig) error {
	setString(&cfg.HTTP.Addr, file.HTTP.Addr)
	if err := setDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout, "http.read_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout, "http.write_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTP.IdleTimeout, file.HTTP.IdleTimeout, "http.idle_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTP.RequestTimeout, file.HTTP.RequestTimeout, "http.request_timeout"); err != nil {
		return err
	}

	setString(&cfg.Database.DSN, file.Database.DSN)
	setInt(&cfg.Database.MaxOpenConns, file.Database.MaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, file.Database.MaxIdleConns)
	if err := setDuration(&cfg.Database.ConnMaxLifetime, file.Database.ConnMaxLifetime, "database.conn_max_lifetime"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Database.ConnMaxIdleTime, file.Database.ConnMaxIdleTime, "database.conn_max_idle_time"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Database.QueryTimeout, file.Database.QueryTimeout, "database.query_timeout"); err != nil {
		return err
	}

	setInt(&cfg.Batch.BatchSize, file.Batch.BatchSize)
	if err := setDuration(&cfg.Batch.BatchDelay, file.Batch.BatchDelay, "batch.batch_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Batch.StaleAfter, file.Batch.StaleAfter, "batch.stale_after"); err != nil {
		return err
	}
	if file.Batch.AlertErrorRate != nil {
		cfg.Batch.AlertErrorRate = *file.Batch.AlertErrorRate
	}
	setInt(&cfg.Batch.MaxLoggedErrors, file.Batch.MaxLoggedErrors)

	if file.Redis.Enabled != nil {
		cfg.Redis.Enabled = *file.Redis.Enabled
	}
	setString(&cfg.Redis.Addr, file.Redis.Addr)
	setString(&cfg.Redis.Password, file.Redis.Password)
	setInt(&cfg.Redis.DB, file.Redis.DB)
	if err := setDuration(&cfg.Redis.TTL, file.Redis.TTL, "redis.ttl"); err != nil {
		return err
	}

	setString(&cfg.Alerts.WebhookURL, file.Alerts.WebhookURL)

	setString(&cfg.Log.Level, file.Log.Level)
	if file.Log.Pretty != nil {
		cfg.Log.Pretty = *file.Log.Pretty
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", field, err)
	}
	*dst = d
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Database.ApplyEnvOverrides()
	if addr := os.Getenv("PIPESCORE_HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		c.Alerts.WebhookURL = url
	}
}

// Validate checks the fully merged configuration. The database DSN is
// deliberately not required here; commands that need it check via
// db.Config.Validate so read-only commands can run without one.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("batch.batch_size must be positive")
	}
	if c.Batch.AlertErrorRate < 0 || c.Batch.AlertErrorRate > 1 {
		return fmt.Errorf("batch.alert_error_rate must be within [0, 1]")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}
