package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newRun(id string, offset time.Duration) *models.Run {
	return &models.Run{
		RunID:        id,
		StartedAt:    base.Add(offset),
		Status:       models.RunRunning,
		Ranker:       "heuristic",
		Prompt:       "late night",
		PlaylistName: "crate mix",
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Start then Finish", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRunRepository(db)
		run := newRun("0b8f4a52-1111-4c1e-9a3e-000000000001", 0)

		if err := repo.Start(ctx, run); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		started, err := repo.Get(ctx, run.RunID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if started.Status != models.RunRunning || started.FinishedAt != nil {
			t.Errorf("unexpected started run %+v", started)
		}

		finished := base.Add(42 * time.Second)
		run.FinishedAt = &finished
		run.Status = models.RunSucceeded
		run.PlaylistID = "pl1"
		run.LikedCount = 120
		run.SelectedCount = 2
		run.Tracks = []models.RunTrack{
			{Position: 1, TrackID: "t3", Title: "Sometimes", Artist: "My Bloody Valentine", Reason: "opens hazy"},
			{Position: 2, TrackID: "t1", Title: "Alison", Artist: "Slowdive"},
		}
		if err := repo.Finish(ctx, run); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.Get(ctx, run.RunID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != models.RunSucceeded || got.PlaylistID != "pl1" || got.LikedCount != 120 || got.SelectedCount != 2 {
			t.Errorf("unexpected run %+v", got)
		}
		if !got.StartedAt.Equal(run.StartedAt) || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
			t.Errorf("timestamps not preserved: %v %v", got.StartedAt, got.FinishedAt)
		}
		if got.Duration() != 42*time.Second {
			t.Errorf("Duration() = %v", got.Duration())
		}
		if len(got.Tracks) != 2 || got.Tracks[0].TrackID != "t3" || got.Tracks[0].Reason != "opens hazy" || got.Tracks[1].Position != 2 {
			t.Errorf("unexpected tracks %+v", got.Tracks)
		}
		if n := countRows(t, db, "SELECT COUNT(*) FROM runs"); n != 1 {
			t.Errorf("expected a single run row, got %d", n)
		}
	})

	t.Run("Finish replaces tracks", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRunRepository(db)
		run := newRun("run-a", 0)
		run.Tracks = []models.RunTrack{{Position: 1, TrackID: "a"}, {Position: 2, TrackID: "b"}}
		if err := repo.Finish(ctx, run); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		run.Tracks = []models.RunTrack{{Position: 1, TrackID: "c"}}
		if err := repo.Finish(ctx, run); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.Get(ctx, "run-a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.Tracks) != 1 || got.Tracks[0].TrackID != "c" {
			t.Errorf("unexpected tracks %+v", got.Tracks)
		}
	})

	t.Run("failed run keeps error text", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := newRun("run-failed", 0)
		run.Status = models.RunFailed
		run.Error = "spotify: authentication failed (status 401)"
		run.DryRun = true
		if err := repo.Finish(ctx, run); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.Get(ctx, run.RunID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Error != run.Error || !got.DryRun || got.Status != models.RunFailed {
			t.Errorf("unexpected run %+v", got)
		}
	})

	t.Run("List orders newest first", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		for i := range 4 {
			if err := repo.Start(ctx, newRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
		}

		all, err := repo.List(ctx, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 4 || all[0].RunID != "run-3" || all[3].RunID != "run-0" {
			t.Errorf("unexpected order %v", runIDs(all))
		}

		limited, err := repo.List(ctx, 2)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(limited) != 2 || limited[1].RunID != "run-2" {
			t.Errorf("unexpected limited list %v", runIDs(limited))
		}
	})

	t.Run("List empty", func(t *testing.T) {
		runs, err := NewRunRepository(setupTestDB(t)).List(ctx, 10)
		if err != nil || len(runs) != 0 {
			t.Errorf("List() = %v, %v", runs, err)
		}
	})

	t.Run("Get by prefix", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		for _, id := range []string{"abc12345-0001", "abc99999-0002", "abc1"} {
			if err := repo.Start(ctx, newRun(id, 0)); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
		}

		tests := []struct {
			name     string
			id       string
			want     string
			sentinel error
		}{
			{name: "unique prefix", id: "abc123", want: "abc12345-0001"},
			{name: "exact match wins over prefix", id: "abc1", want: "abc1"},
			{name: "ambiguous", id: "abc", sentinel: shared.ErrInvalidArgument},
			{name: "unknown", id: "zzz", sentinel: shared.ErrNotFound},
			{name: "wildcards are literal", id: "abc%", sentinel: shared.ErrNotFound},
			{name: "empty", id: "", sentinel: shared.ErrMissingArgument},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.Get(ctx, tt.id)
				if tt.sentinel != nil {
					if !errors.Is(err, tt.sentinel) {
						t.Errorf("expected %v, got %v", tt.sentinel, err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.RunID != tt.want {
					t.Errorf("Get(%q) = %s, want %s", tt.id, got.RunID, tt.want)
				}
			})
		}
	})

	t.Run("Prune keeps the most recent", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRunRepository(db)
		for i := range 5 {
			run := newRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Hour)
			run.Tracks = []models.RunTrack{{Position: 1, TrackID: "t"}}
			if err := repo.Finish(ctx, run); err != nil {
				t.Fatalf("Finish() error = %v", err)
			}
		}

		removed, err := repo.Prune(ctx, 2)
		if err != nil {
			t.Fatalf("Prune() error = %v", err)
		}
		if removed != 3 {
			t.Errorf("removed %d, want 3", removed)
		}

		runs, _ := repo.List(ctx, 0)
		if len(runs) != 2 || runs[0].RunID != "run-4" || runs[1].RunID != "run-3" {
			t.Errorf("unexpected remaining runs %v", runIDs(runs))
		}
		if n := countRows(t, db, "SELECT COUNT(*) FROM run_tracks"); n != 2 {
			t.Errorf("tracks of pruned runs should cascade, %d left", n)
		}

		if _, err := repo.Prune(ctx, -1); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestRunRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidationError", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))

		tests := []struct {
			name string
			run  *models.Run
		}{
			{name: "missing id", run: &models.Run{StartedAt: base, Status: models.RunRunning}},
			{name: "missing start", run: &models.Run{RunID: "x", Status: models.RunRunning}},
			{name: "bad status", run: &models.Run{RunID: "x", StartedAt: base, Status: "paused"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := repo.Start(ctx, tt.run); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})

	t.Run("DuplicatePosition", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRunRepository(db)
		run := newRun("run-dup", 0)
		run.Tracks = []models.RunTrack{{Position: 1, TrackID: "a"}, {Position: 1, TrackID: "b"}}

		if err := repo.Finish(ctx, run); err == nil {
			t.Fatal("expected primary key violation")
		}
		if n := countRows(t, db, "SELECT COUNT(*) FROM runs"); n != 0 {
			t.Errorf("failed save should roll back, found %d runs", n)
		}
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRunRepository(db)
		db.Close()

		if _, err := repo.List(ctx, 0); err == nil {
			t.Error("expected error from closed database")
		}
		if err := repo.Start(ctx, newRun("x", 0)); err == nil {
			t.Error("expected error from closed database")
		}
	})
}

func runIDs(runs []*models.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
