package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pulsecrm/pipescore/internal/pipeline"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch {daily|queue|stale|all}",
		Short: "Run one batch scoring operation",
		Long: `Runs a batch operation and prints the run summary as JSON.

  daily  drain the event queue, then sweep stale scores (the cron entrypoint)
  queue  drain the tracking-event queue only
  stale  recalculate deals not scored within the staleness window
  all    force-recalculate every active deal`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"daily", "queue", "stale", "all"},
		RunE:      runBatch,
	}
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// SIGINT stops cleanly between chunks; the in-flight chunk finishes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var payload interface{}
	switch args[0] {
	case "daily":
		payload, err = a.runner.RunDailyBatch(ctx)
	case "queue":
		payload, err = a.runner.ProcessScoreEventQueue(ctx)
	case "stale":
		payload, err = a.runner.BatchRecalculateStaleScores(ctx)
	case "all":
		payload, err = a.runner.RecalculateAllActive(ctx, pipeline.TriggerManualRefresh)
	}
	if err != nil {
		return fmt.Errorf("batch %s failed: %w", args[0], err)
	}

	return printJSON(payload)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
