package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pulsecrm/pipescore/internal/pipeline"
)

func newRecalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc <deal-id>",
		Short: "Recalculate one deal's score",
		Long:  "Recomputes the confidence score for one deal and prints the scoring result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalc,
	}
	cmd.Flags().String("trigger", pipeline.TriggerManualRefresh, "Trigger source recorded on the history row")
	cmd.Flags().Bool("force", false, "Rescore even terminal-status (accepted, closed_lost) deals")
	return cmd
}

func runRecalc(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("deal id must be an integer: %q", args[0])
	}
	trigger, _ := cmd.Flags().GetString("trigger")
	force, _ := cmd.Flags().GetBool("force")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := pipeline.DefaultOptions()
	if force {
		opts.SkipTerminal = false
	}

	res, skipped, err := a.recalc.TryRecalculate(context.Background(), id, trigger, opts)
	if err != nil {
		return fmt.Errorf("recalculate failed: %w", err)
	}
	if skipped {
		fmt.Printf("deal %d has a terminal status; pass --force to rescore\n", id)
		return nil
	}

	return printJSON(res)
}
