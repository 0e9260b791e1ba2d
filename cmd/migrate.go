package cmd

import (
	"fmt"

	"github.com/folio-chat/folio/internal/config"
	"github.com/folio-chat/folio/internal/database"
)

// runMigrate applies pending migrations and exits. serve also migrates
// on boot; this command exists for pipelines that migrate separately.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if err := database.Migrate(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
