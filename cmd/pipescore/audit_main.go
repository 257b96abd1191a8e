package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <deal-id>",
		Short: "Print a deal's score history with per-event deltas",
		Args:  cobra.ExactArgs(1),
		RunE:  runAudit,
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("deal id must be an integer: %q", args[0])
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	feed, err := a.auditSvc.GetAudit(context.Background(), id)
	if err != nil {
		return fmt.Errorf("audit load failed: %w", err)
	}

	return printJSON(feed)
}
