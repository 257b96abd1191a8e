package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "pipescore"
	version = "v1.3.0"
)

var rootFlags struct {
	configPath string
	logLevel   string
	pretty     bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Pipeline deal-scoring engine",
		Version: version,
		Long: `pipescore computes per-deal confidence scores and weighted MRR
projections for the sales pipeline. It serves the admin API, drains the
tracking-event queue, and runs the daily batch recalculation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&rootFlags.configPath, "config", "c", "", "Path to YAML config file")
	flags.StringVar(&rootFlags.logLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
	flags.BoolVar(&rootFlags.pretty, "pretty", false, "Human-readable console log output")
	normalizeFlagErrors(flags)

	rootCmd.AddCommand(
		newServeCmd(),
		newBatchCmd(),
		newRecalcCmd(),
		newAuditCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// normalizeFlagErrors keeps pflag's unknown-flag errors terse.
func normalizeFlagErrors(flags *pflag.FlagSet) {
	flags.SortFlags = false
}

// setupLogger builds the process logger. JSON to stderr in production;
// console format when stderr is a terminal or --pretty is set.
func setupLogger(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err == nil {
			lvl = parsed
		}
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	return logger.Level(lvl).With().Timestamp().Str("app", appName).Logger()
}
