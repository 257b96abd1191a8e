// Package db manages the PostgreSQL connection pool and wires the
// repository bundle the scoring pipeline runs against.
package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/persistence/postgres"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns pool defaults sized for the batch runner: the
// open-connection cap must cover a full batch of concurrent per-deal
// queries.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    30,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// ApplyEnvOverrides applies connection-string overrides: DATABASE_URL is
// the deployment contract, PG_DSN an accepted alias.
func (c *Config) ApplyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.DSN = dsn
	} else if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.DSN = dsn
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required (set DATABASE_URL)")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	return nil
}

// Manager manages the database connection and repository instances.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
}

// NewManager opens the connection pool, verifies connectivity, and builds
// the repository bundle.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Manager{
		db:     db,
		config: config,
		repos:  postgres.NewRepository(db, config.QueryTimeout),
	}, nil
}

// Repository returns the repository bundle.
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// DB returns the underlying connection (for migrations).
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Migrate applies the schema.
func (m *Manager) Migrate(ctx context.Context) error {
	return postgres.Migrate(ctx, m.db)
}

// Close closes the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// HealthCheck reports database connectivity and pool pressure.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Error          string         `json:"error,omitempty"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
}

// Health pings the database within the query timeout and snapshots the
// pool stats.
func (m *Manager) Health(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{LastCheck: start.UTC()}

	pingCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	if err := m.db.PingContext(pingCtx); err != nil {
		check.Error = err.Error()
	} else {
		check.Healthy = true
	}
	check.ResponseTimeMS = time.Since(start).Milliseconds()

	stats := m.db.Stats()
	check.ConnectionPool = map[string]int{
		"open":     stats.OpenConnections,
		"in_use":   stats.InUse,
		"idle":     stats.Idle,
		"max_open": stats.MaxOpenConnections,
	}
	return check
}
