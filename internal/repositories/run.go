package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const runColumns = `id, started_at, finished_at, status, ranker, prompt, playlist_id, playlist_name, dry_run, liked_count, selected_count, error`

// RunRepository stores build runs and their selected tracks.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start records a run that has just begun.
func (r *RunRepository) Start(ctx context.Context, run *models.Run) error {
	return r.Save(ctx, run)
}

// Finish records the outcome of a run along with its selected tracks.
func (r *RunRepository) Finish(ctx context.Context, run *models.Run) error {
	return r.Save(ctx, run)
}

// Save upserts run and replaces its tracks.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO runs (` + runColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				finished_at = excluded.finished_at,
				status = excluded.status,
				ranker = excluded.ranker,
				prompt = excluded.prompt,
				playlist_id = excluded.playlist_id,
				playlist_name = excluded.playlist_name,
				dry_run = excluded.dry_run,
				liked_count = excluded.liked_count,
				selected_count = excluded.selected_count,
				error = excluded.error
		`

		var finishedAt sql.NullTime
		if run.FinishedAt != nil {
			finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, query,
			run.RunID,
			run.StartedAt.UTC(),
			finishedAt,
			string(run.Status),
			run.Ranker,
			run.Prompt,
			run.PlaylistID,
			run.PlaylistName,
			run.DryRun,
			run.LikedCount,
			run.SelectedCount,
			run.Error,
		); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM run_tracks WHERE run_id = ?", run.RunID); err != nil {
			return fmt.Errorf("failed to clear run tracks: %w", err)
		}

		if len(run.Tracks) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_tracks (run_id, position, track_id, title, artist, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare track insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range run.Tracks {
			if _, err := stmt.ExecContext(ctx, run.RunID, t.Position, t.TrackID, t.Title, t.Artist, t.Reason); err != nil {
				return fmt.Errorf("failed to insert track %s: %w", t.TrackID, err)
			}
		}
		return nil
	})
}

// Get retrieves a run and its tracks. id may be a unique prefix, as printed by `crate history`.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: run id is required", shared.ErrMissingArgument)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`,
		id, escapeLike(id)+"%", id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	switch {
	case len(runs) == 0:
		return nil, &shared.NotFoundError{Service: "journal", What: "run " + id}
	case len(runs) > 1 && runs[0].RunID != id:
		return nil, fmt.Errorf("%w: run id %q is ambiguous", shared.ErrInvalidArgument, id)
	}

	run := runs[0]
	if run.Tracks, err = r.tracks(ctx, run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first, without tracks. A non-positive limit returns every run.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Prune deletes all but the keep most recent runs and returns how many were removed.
func (r *RunRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", shared.ErrInvalidArgument)
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

func (r *RunRepository) tracks(ctx context.Context, runID string) ([]models.RunTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position, track_id, title, artist, reason
		FROM run_tracks
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.RunTrack
	for rows.Next() {
		var t models.RunTrack
		if err := rows.Scan(&t.Position, &t.TrackID, &t.Title, &t.Artist, &t.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan run track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// scanRun scans one row selected with runColumns.
func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run        models.Run
		status     string
		startedAt  time.Time
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&run.RunID, &startedAt, &finishedAt, &status, &run.Ranker, &run.Prompt,
		&run.PlaylistID, &run.PlaylistName, &run.DryRun, &run.LikedCount, &run.SelectedCount, &run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &shared.NotFoundError{Service: "journal", What: "run"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.StartedAt = startedAt
	run.FinishedAt = nullTime(finishedAt)
	return &run, nil
}

// escapeLike escapes LIKE wildcards so an id prefix matches literally.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
