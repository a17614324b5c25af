package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	tu "github.com/desertthunder/crate/internal/testing"
)

// fakeBuilder reports one progress update, asks for confirmation and publishes when accepted.
type fakeBuilder struct {
	err error
}

func (f *fakeBuilder) Run(ctx context.Context, opts tasks.BuildOptions, progress chan<- tasks.ProgressUpdate) (*tasks.BuildResult, error) {
	progress <- tasks.ProgressUpdate{Phase: tasks.EnrichTracks, Step: 1, Total: 2, Message: "Slowdive - Alison"}
	if f.err != nil {
		return nil, f.err
	}

	t1 := tu.NewTrack("t1", "Alison", "Slowdive")
	t2 := tu.NewTrack("t2", "Sometimes", "My Bloody Valentine")
	res := &tasks.BuildResult{
		Tracks:    []models.Track{t1, t2},
		Selection: models.Selection{Ranker: "heuristic", Picks: []models.Pick{{TrackID: "t2", Reason: "hazy"}, {TrackID: "t1"}}},
		Selected:  []models.Track{t2, t1},
		Playlist:  &models.Playlist{Name: opts.Name, TrackIDs: []string{"t2", "t1"}},
	}

	ok, err := opts.Confirm(ctx, res)
	if err != nil {
		return res, err
	}
	if ok {
		res.Playlist.ID = "pl1"
		res.Playlist.URL = "https://open.spotify.com/playlist/pl1"
		res.Published = true
	}
	return res, nil
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drain feeds messages from cmd back into m until stop reports true.
func drain(t *testing.T, m *Model, cmd tea.Cmd, stop func() bool) tea.Cmd {
	t.Helper()
	for i := 0; !stop(); i++ {
		if i > 20 || cmd == nil {
			t.Fatalf("model never reached the expected state (view %d)", m.view)
		}
		_, next := m.Update(cmd())
		if next != nil {
			cmd = next
		}
	}
	return cmd
}

func TestModel(t *testing.T) {
	opts := tasks.BuildOptions{Name: "Late Night", Size: 2}

	t.Run("accepting the review publishes", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeBuilder{}, opts)
		cmd := drain(t, m, m.start(), func() bool { return m.view == ReviewView })

		if len(m.pickList.Items()) != 2 {
			t.Fatalf("expected 2 picks, got %d", len(m.pickList.Items()))
		}
		first := m.pickList.Items()[0].(pickItem)
		if first.track.ID != "t2" || first.Description() != "My Bloody Valentine • Sometimes (album) • hazy" {
			t.Errorf("unexpected first item %+v", first)
		}
		if !strings.Contains(m.View(), "Late Night") {
			t.Errorf("review view missing playlist name:\n%s", m.View())
		}

		m.Update(keyPress("y"))
		drain(t, m, cmd, func() bool { return m.done })

		res, err := m.Result()
		if err != nil || !res.Published {
			t.Fatalf("Result() = %+v, %v", res, err)
		}
		if m.view != ResultView || !strings.Contains(m.View(), "https://open.spotify.com/playlist/pl1") {
			t.Errorf("unexpected result view:\n%s", m.View())
		}
	})

	t.Run("declining the review", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeBuilder{}, opts)
		cmd := drain(t, m, m.start(), func() bool { return m.view == ReviewView })

		m.Update(keyPress("n"))
		drain(t, m, cmd, func() bool { return m.done })

		res, err := m.Result()
		if err != nil || res.Published {
			t.Fatalf("Result() = %+v, %v", res, err)
		}
		if !strings.Contains(m.View(), "Nothing published") {
			t.Errorf("unexpected result view:\n%s", m.View())
		}
	})

	t.Run("quitting during review cancels the build", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeBuilder{}, opts)
		cmd := drain(t, m, m.start(), func() bool { return m.view == ReviewView })

		if _, quit := m.Update(keyPress("q")); quit != nil {
			t.Error("first quit should wait for the build to unwind")
		}
		if !strings.Contains(m.View(), "Cancelling") {
			t.Errorf("unexpected view:\n%s", m.View())
		}

		var last tea.Cmd
		for !m.done {
			_, last = m.Update(cmd())
		}
		if last == nil {
			t.Error("expected tea.Quit once the build finished")
		}
		if _, err := m.Result(); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("build failure", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeBuilder{err: &shared.AuthError{Service: "spotify", Status: 401}}, opts)
		drain(t, m, m.start(), func() bool { return m.done })

		view := m.View()
		if !strings.Contains(view, "Build failed") || !strings.Contains(view, "crate auth login") {
			t.Errorf("unexpected view:\n%s", view)
		}
		if _, err := m.Result(); !errors.Is(err, shared.ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	})

	t.Run("result before completion", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeBuilder{}, opts)
		if _, err := m.Result(); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestPhaseLabel(t *testing.T) {
	tests := []struct {
		update tasks.ProgressUpdate
		want   string
	}{
		{tasks.ProgressUpdate{Phase: tasks.FetchLiked}, "Fetching liked tracks..."},
		{tasks.ProgressUpdate{Phase: tasks.EnrichTracks, Step: 3, Total: 10}, "Enriching tracks (3/10)"},
		{tasks.ProgressUpdate{Phase: tasks.EnrichTracks}, "Enriching tracks..."},
		{tasks.ProgressUpdate{Phase: tasks.RankTracks}, "Ranking tracks..."},
		{tasks.ProgressUpdate{Phase: tasks.PublishPlaylist}, "Publishing playlist..."},
		{tasks.ProgressUpdate{Phase: tasks.Phase(99)}, "Starting..."},
	}
	for _, tt := range tests {
		if got := phaseLabel(tt.update); got != tt.want {
			t.Errorf("phaseLabel(%v) = %q, want %q", tt.update.Phase, got, tt.want)
		}
	}
}

func TestPickItem(t *testing.T) {
	track := tu.NewTrack("t1", "Alison", "Slowdive")
	track.Album = ""
	item := pickItem{position: 3, track: track}

	if item.Title() != "3. Alison" || item.Description() != "Slowdive" || item.FilterValue() != "Alison Slowdive" {
		t.Errorf("unexpected item %q %q %q", item.Title(), item.Description(), item.FilterValue())
	}
}
