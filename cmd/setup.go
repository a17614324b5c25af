package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the embedded example config to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", r.configPath)
	r.writePlain("%s\n", ui.OK("✓ Config written to "+r.configPath))
	r.writePlainln("Next steps:")
	r.writePlain("1. Set credentials.spotify.client_id and client_secret\n")
	r.writePlain("2. Set credentials.llm.api_key and model, or use --ranker heuristic\n")
	r.writePlain("3. Run 'crate auth login'\n")
	return nil
}

// SetupDatabase initializes the journal database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := r.database()
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	if cmd.Bool("rollback") {
		r.logger.Info("rolling back the latest migration")
		if err := shared.RollbackMigration(db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
	}

	statuses, err := shared.Migrations(db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	r.writePlainHeader("Migrations")
	for _, m := range statuses {
		mark := ui.Warn("pending")
		if m.Applied {
			mark = ui.OK("applied")
		}
		r.writePlain("%04d  %-28s %s\n", m.Version, m.Name, mark)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
