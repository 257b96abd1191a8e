package main

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/aggregate"
	"github.com/pulsecrm/pipescore/internal/alerts"
	"github.com/pulsecrm/pipescore/internal/audit"
	"github.com/pulsecrm/pipescore/internal/cache"
	"github.com/pulsecrm/pipescore/internal/config"
	"github.com/pulsecrm/pipescore/internal/infrastructure/db"
	"github.com/pulsecrm/pipescore/internal/metrics"
	"github.com/pulsecrm/pipescore/internal/pipeline"
)

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	dbm     *db.Manager
	promReg *prometheus.Registry
	metrics *metrics.Registry
	redis   *redis.Client
	cache   *cache.Cache
	sink    alerts.Sink

	recalc    *pipeline.Recalculator
	runner    *pipeline.Runner
	auditSvc  *audit.Service
	aggregate *aggregate.Service
}

// loadConfig resolves the config file and the logger from the root
// flags before any backend is touched.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := cfg.Log.Level
	if rootFlags.logLevel != "" {
		level = rootFlags.logLevel
	}
	logger := setupLogger(level, rootFlags.pretty || cfg.Log.Pretty)
	return cfg, logger, nil
}

// newApp connects to the backends and builds the service graph. The
// cache is optional; everything else is required.
func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	dbm, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry(promReg)

	a := &app{
		cfg:     cfg,
		log:     log,
		dbm:     dbm,
		promReg: promReg,
		metrics: m,
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.cache = cache.New(a.redis, cfg.Redis.TTL, log, m)
	}

	a.sink = alerts.NewLogSink(log)
	if cfg.Alerts.WebhookURL != "" {
		a.sink = alerts.NewWebhookSink(cfg.Alerts.WebhookURL, a.sink, log)
	}

	repos := dbm.Repository()
	var inv pipeline.SummaryInvalidator
	if a.cache != nil {
		inv = a.cache
	}
	a.recalc = pipeline.NewRecalculator(repos, pipeline.UTCNow, log, m, inv, cfg.Batch.BatchSize)
	a.runner = pipeline.NewRunner(cfg.Batch, a.recalc, repos, a.sink, m, pipeline.UTCNow, log)
	a.auditSvc = audit.NewService(repos.History, log)
	a.aggregate = aggregate.NewService(repos.Deals, a.cache, pipeline.UTCNow, log)

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if err := a.dbm.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	}
}
