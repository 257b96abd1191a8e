package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsecrm/pipescore/internal/infrastructure/db"
	apihttp "github.com/pulsecrm/pipescore/internal/interfaces/http"
	"github.com/pulsecrm/pipescore/internal/interfaces/http/handlers"
	"github.com/pulsecrm/pipescore/internal/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API server",
		Long:  "Serves health and status probes, manual recalculation and batch triggers, the audit feed, and the pipeline dashboard reads.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := handlers.Deps{
		Recalc:    a.recalc,
		Runner:    a.runner,
		Audit:     a.auditSvc,
		Aggregate: a.aggregate,
		Events:    a.dbm.Repository().Events,
		Runs:      a.dbm.Repository().Runs,
		DBHealth: func(ctx context.Context) db.HealthCheck {
			return a.dbm.Health(ctx)
		},
		Snapshot: func() (map[string]float64, error) {
			return metrics.Snapshot(a.promReg)
		},
		Log: logger,
	}
	if a.cache != nil {
		deps.CacheHealth = a.cache.Health
	}

	srv := apihttp.NewServer(cfg.HTTP, handlers.New(deps), a.promReg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
