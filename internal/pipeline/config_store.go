// Package pipeline glues the scoring engine to persistence: loading the
// scoring configuration, assembling engine inputs from database rows,
// writing results back, orchestrating single-deal recalculations, and
// running the batch sweeps.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/scoring"
)

// ConfigStore loads the scoring configuration from the settings table,
// falling back to the compiled-in default when the row is missing or does
// not parse. Loaded once per recalculation and never cached across a batch
// run, so a config edit takes effect on the next deal scored.
type ConfigStore struct {
	settings persistence.SettingsRepo
	log      zerolog.Logger
}

// NewConfigStore creates a config store over the settings repository.
func NewConfigStore(settings persistence.SettingsRepo, log zerolog.Logger) *ConfigStore {
	return &ConfigStore{settings: settings, log: log}
}

// Load returns the effective scoring configuration. It never fails: any
// problem with the persisted document degrades to the default.
func (s *ConfigStore) Load(ctx context.Context) *scoring.Config {
	raw, err := s.settings.Get(ctx, scoring.SettingsKey)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			s.log.Warn().Err(err).Msg("failed to read scoring config, using default")
		}
		return scoring.DefaultConfig()
	}

	cfg, err := scoring.ParseConfig([]byte(raw))
	if err != nil {
		s.log.Warn().Err(err).Msg("persisted scoring config malformed, using default")
		return scoring.DefaultConfig()
	}
	return cfg
}
