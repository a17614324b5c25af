package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// History lists journaled runs. --id shows one run and --prune drops old ones.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	repo := repositories.NewRunRepository(db)

	if keep := int(cmd.Int("prune")); cmd.IsSet("prune") {
		removed, err := repo.Prune(ctx, keep)
		if err != nil {
			return err
		}
		r.logger.Info("pruned journal", "removed", removed, "kept", keep)
		return r.writePlain("%s\n", ui.OK(fmt.Sprintf("✓ Removed %d runs", removed)))
	}

	if id := cmd.String("id"); id != "" {
		run, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(run, cmd.Bool("pretty"))
		}
		return r.writeBytes(formatter.RunToText(run))
	}

	runs, err := repo.List(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if runs == nil {
			runs = []*models.Run{}
		}
		return r.writeJSON(runs, cmd.Bool("pretty"))
	}
	return r.writeBytes(formatter.RunsToText(runs))
}
