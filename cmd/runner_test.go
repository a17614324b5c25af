package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			music := tu.NewFakeMusic()
			chat := &tu.FakeChat{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Music:      music,
				Chat:       chat,
			})

			if runner.config != config || !runner.configLoaded {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.music != music || runner.chat != chat {
				t.Error("expected services to be set")
			}
			if runner.httpOptions().Client != httpClient {
				t.Error("expected the custom client to reach the services")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.configLoaded {
				t.Error("default config should still be replaced by the config file")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			if NewRunner(RunnerOpts{}).logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			if NewRunner(RunnerOpts{}).output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.httpOptions().Client != nil {
				t.Error("the default client should leave timeouts to the services")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		commands := NewRunner(RunnerOpts{}).register()

		want := []string{"setup", "auth", "liked", "enrich", "build", "discover", "history"}
		var names []string
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names = append(names, cmd.Name)
		}
		if !slices.Equal(names, want) {
			t.Errorf("registered %v, want %v", names, want)
		}
	})
}

type testEnv struct {
	runner *Runner
	music  *tu.FakeMusic
	output *bytes.Buffer
	db     *sql.DB
	path   string
}

func newTestEnv(t *testing.T, opts RunnerOpts) *testEnv {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	music := tu.NewFakeMusic(
		tu.NewTrack("t1", "Alison", "Slowdive"),
		tu.NewTrack("t2", "Sometimes", "My Bloody Valentine"),
		tu.NewTrack("t1", "Alison", "Slowdive"),
		tu.NewTrack("t3", "Cherry-coloured Funk", "Cocteau Twins"),
	)
	music.User.DisplayName = "Shoegazer"

	output := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "config.toml")

	opts.Config = shared.DefaultConfig()
	opts.ConfigPath = path
	opts.DB = db
	opts.Output = output
	opts.Logger = shared.NewLogger(io.Discard)
	if opts.Music == nil {
		opts.Music = music
	}
	if opts.Lyrics == nil {
		opts.Lyrics = &tu.FakeLyrics{Texts: map[string]string{"Slowdive|Alison": "Alison, I'm lost"}}
	}

	return &testEnv{runner: NewRunner(opts), music: music, output: output, db: db, path: path}
}

func (e *testEnv) run(args ...string) error {
	e.output.Reset()
	return newApp(e.runner).Run(context.Background(), append([]string{"crate"}, args...))
}

func (e *testEnv) runs(t *testing.T) []*models.Run {
	t.Helper()
	runs, err := repositories.NewRunRepository(e.db).List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return runs
}

func TestCommands(t *testing.T) {
	t.Run("liked", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})

		if err := env.run("liked", "--json"); err != nil {
			t.Fatalf("liked error = %v", err)
		}
		var tracks []models.Track
		if err := json.Unmarshal(env.output.Bytes(), &tracks); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(tracks) != 3 || tracks[2].ID != "t3" {
			t.Errorf("expected 3 de-duplicated tracks, got %+v", tracks)
		}

		if err := env.run("liked", "--limit", "2"); err != nil {
			t.Fatalf("liked error = %v", err)
		}
		if !strings.Contains(env.output.String(), "1. Slowdive - Alison") {
			t.Errorf("unexpected output %s", env.output.String())
		}

		if err := env.run("liked", "--limit=-1"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("enrich", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		env.music.Genres["artist-t1"] = []string{"shoegaze"}
		env.music.Labels["album-t1"] = "Creation"

		if err := env.run("enrich", "--id", "t1"); err != nil {
			t.Fatalf("enrich error = %v", err)
		}
		output := env.output.String()
		for _, want := range []string{"Slowdive - Alison", "Genres:    shoegaze", "Label:     Creation", "Lyrics:    1 lines"} {
			if !strings.Contains(output, want) {
				t.Errorf("missing %q in:\n%s", want, output)
			}
		}

		if err := env.run("enrich", "--id", "t1", "--json"); err != nil {
			t.Fatalf("enrich error = %v", err)
		}
		var track models.Track
		if err := json.Unmarshal(env.output.Bytes(), &track); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if track.Label != "Creation" || track.Lyrics != "" {
			t.Errorf("unexpected track %+v", track)
		}

		if err := env.run("enrich", "--id", "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("enrich with model details", func(t *testing.T) {
		chat := &tu.FakeChat{Responses: []string{`{"producers":["Ed Buller"],"sub_genres":["dream pop"]}`}}
		env := newTestEnv(t, RunnerOpts{Chat: chat})

		if err := env.run("enrich", "--id", "t1", "--details"); err != nil {
			t.Fatalf("enrich error = %v", err)
		}
		output := env.output.String()
		if !strings.Contains(output, "Producers: Ed Buller") || !strings.Contains(output, "Styles:    dream pop") {
			t.Errorf("details missing from:\n%s", output)
		}
		if chat.Calls() != 1 {
			t.Errorf("expected one completion, got %d", chat.Calls())
		}
	})

	t.Run("discover merges sources", func(t *testing.T) {
		tags := &tu.FakeTags{Similar: map[string][]models.Suggestion{
			"Slowdive|Alison": {
				{Title: "Pearl", Artist: "Chapterhouse", Match: 0.9},
				{Title: "Sometimes", Artist: "My Bloody Valentine", Match: 0.8},
			},
		}}
		chat := &tu.FakeChat{Responses: []string{`[{"artist":"Lush","title":"De-Luxe","justification":"Bright noise pop."}]`}}
		env := newTestEnv(t, RunnerOpts{Tags: tags, Chat: chat})

		if err := env.run("discover", "--seeds", "1", "--format", "json"); err != nil {
			t.Fatalf("discover error = %v", err)
		}
		var got struct {
			Known       int                 `json:"already_liked"`
			Suggestions []models.Suggestion `json:"suggestions"`
		}
		if err := json.Unmarshal(env.output.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, env.output.String())
		}
		if len(got.Suggestions) != 2 || got.Suggestions[0].Title != "Pearl" || got.Suggestions[1].Source != "model:fake-model" {
			t.Errorf("unexpected suggestions %+v", got.Suggestions)
		}
		if got.Known != 1 {
			t.Errorf("expected the liked track to be dropped, got %d", got.Known)
		}
		if !strings.Contains(chat.Users[0], "Cherry-coloured Funk") {
			t.Error("taste profile should include every liked track")
		}
	})

	t.Run("discover publishes resolved suggestions", func(t *testing.T) {
		tags := &tu.FakeTags{Similar: map[string][]models.Suggestion{
			"Slowdive|Alison": {
				{Title: "Pearl", Artist: "Chapterhouse", Match: 0.9},
				{Title: "Unknown Demo", Artist: "Nobody", Match: 0.5},
			},
		}}
		env := newTestEnv(t, RunnerOpts{Tags: tags})
		env.music.Catalog = []models.Track{tu.NewTrack("c1", "Pearl", "Chapterhouse")}

		if err := env.run("discover", "--source", "lastfm", "--seeds", "1", "--playlist", "New Finds"); err != nil {
			t.Fatalf("discover error = %v", err)
		}
		if got := env.music.Items["playlist1"]; !slices.Equal(got, []string{"c1"}) {
			t.Errorf("published items %v, want [c1]", got)
		}
		output := env.output.String()
		for _, want := range []string{"Chapterhouse - Pearl [lastfm]", "https://open.spotify.com/track/c1", "Published 'New Finds' with 1 tracks"} {
			if !strings.Contains(output, want) {
				t.Errorf("missing %q in:\n%s", want, output)
			}
		}
	})

	t.Run("discover errors", func(t *testing.T) {
		unresolvable := &tu.FakeTags{Similar: map[string][]models.Suggestion{
			"Slowdive|Alison": {{Title: "Unknown Demo", Artist: "Nobody"}},
		}}
		tests := []struct {
			name     string
			tags     *tu.FakeTags
			args     []string
			sentinel error
		}{
			{name: "no source configured", args: []string{"discover"}, sentinel: shared.ErrServiceUnavailable},
			{name: "unknown source", tags: unresolvable, args: []string{"discover", "--source", "radio"}, sentinel: shared.ErrInvalidArgument},
			{name: "negative limit", tags: unresolvable, args: []string{"discover", "--limit=-1"}, sentinel: shared.ErrInvalidArgument},
			{name: "unknown format", tags: unresolvable, args: []string{"discover", "--format", "yaml"}, sentinel: shared.ErrInvalidArgument},
			{name: "nothing to publish", tags: unresolvable, args: []string{"discover", "--seeds", "1", "--playlist", "Mix"}, sentinel: shared.ErrNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				opts := RunnerOpts{}
				if tt.tags != nil {
					opts.Tags = tt.tags
				}
				env := newTestEnv(t, opts)
				if err := env.run(tt.args...); !errors.Is(err, tt.sentinel) {
					t.Errorf("expected %v, got %v", tt.sentinel, err)
				}
				if env.music.Called("CreatePlaylist") != 0 {
					t.Error("nothing should be published")
				}
			})
		}
	})

	t.Run("build dry run", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})

		err := env.run("build", "--dry-run", "--ranker", "heuristic", "--size", "2", "--name", "Mix")
		if err != nil {
			t.Fatalf("build error = %v", err)
		}

		output := env.output.String()
		if !strings.Contains(output, "Playlist: Mix") || !strings.Contains(output, "Dry run: nothing was published") {
			t.Errorf("unexpected output:\n%s", output)
		}
		if env.music.Called("CreatePlaylist") != 0 || env.music.Called("ReplacePlaylistItems") != 0 {
			t.Error("dry run must not publish")
		}

		runs := env.runs(t)
		if len(runs) != 1 || !runs[0].DryRun || runs[0].Status != models.RunSucceeded || runs[0].SelectedCount != 2 {
			t.Errorf("unexpected journal %+v", runs)
		}
	})

	t.Run("build publishes in model order", func(t *testing.T) {
		chat := &tu.FakeChat{Responses: []string{`{"tracks":[{"id":"t3","reason":"closer"},{"id":"t1"}]}`}}
		env := newTestEnv(t, RunnerOpts{Chat: chat})

		if err := env.run("build", "--size", "2", "--name", "Mix", "--format", "json", "--prompt", "late night"); err != nil {
			t.Fatalf("build error = %v", err)
		}

		if got := env.music.Items["playlist1"]; !slices.Equal(got, []string{"t3", "t1"}) {
			t.Errorf("published items = %v", got)
		}

		var out struct {
			Published bool   `json:"published"`
			Ranker    string `json:"ranker"`
			Tracks    []struct {
				ID     string `json:"id"`
				Reason string `json:"reason"`
			} `json:"tracks"`
		}
		if err := json.Unmarshal(env.output.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, env.output.String())
		}
		if !out.Published || out.Ranker != "model:fake-model" || len(out.Tracks) != 2 || out.Tracks[0].Reason != "closer" {
			t.Errorf("unexpected output %+v", out)
		}

		runs := env.runs(t)
		if len(runs) != 1 || runs[0].PlaylistID != "playlist1" || runs[0].Prompt != "late night" {
			t.Errorf("unexpected journal %+v", runs)
		}
	})

	t.Run("build without a model falls back to the heuristic", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})

		if err := env.run("build", "--size", "1", "--name", "Mix", "--no-journal"); err != nil {
			t.Fatalf("build error = %v", err)
		}
		output := env.output.String()
		if !strings.Contains(output, "Ranker: heuristic") || !strings.Contains(output, "Published 'Mix' with 1 tracks") {
			t.Errorf("unexpected output:\n%s", output)
		}
		if len(env.runs(t)) != 0 {
			t.Error("--no-journal should skip the journal")
		}
	})

	t.Run("build writes to a file", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		path := filepath.Join(t.TempDir(), "out", "mix.csv")

		if err := env.run("build", "--dry-run", "--size", "2", "--name", "Mix", "--format", "csv", "--output", path); err != nil {
			t.Fatalf("build error = %v", err)
		}
		if env.output.Len() != 0 {
			t.Errorf("stdout should stay empty, got %q", env.output.String())
		}
		if content := tu.MustReadFile(t, path); !strings.HasPrefix(content, "Position,ID,Title") {
			t.Errorf("unexpected CSV %q", content)
		}
	})

	t.Run("build errors", func(t *testing.T) {
		tests := []struct {
			name     string
			args     []string
			setup    func(*testEnv)
			sentinel error
		}{
			{name: "size zero", args: []string{"--size", "0"}, sentinel: shared.ErrInvalidArgument},
			{name: "unknown format", args: []string{"--format", "yaml"}, sentinel: shared.ErrInvalidArgument},
			{name: "unknown ranker", args: []string{"--ranker", "random"}, sentinel: shared.ErrInvalidArgument},
			{
				name:     "auth failure",
				setup:    func(e *testEnv) { e.music.Errs["LikedTracks"] = &shared.AuthError{Service: "spotify", Status: 401} },
				sentinel: shared.ErrAuth,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestEnv(t, RunnerOpts{})
				if tt.setup != nil {
					tt.setup(env)
				}
				err := env.run(append([]string{"build", "--name", "Mix"}, tt.args...)...)
				if !errors.Is(err, tt.sentinel) {
					t.Errorf("expected %v, got %v", tt.sentinel, err)
				}
			})
		}
	})

	t.Run("history", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		for range 3 {
			if err := env.run("build", "--dry-run", "--size", "2", "--name", "Mix"); err != nil {
				t.Fatalf("build error = %v", err)
			}
		}

		if err := env.run("history"); err != nil {
			t.Fatalf("history error = %v", err)
		}
		lines := strings.Split(strings.TrimSpace(env.output.String()), "\n")
		if len(lines) != 4 || !strings.Contains(lines[1], "Mix (dry run)") {
			t.Errorf("unexpected history:\n%s", env.output.String())
		}

		runID := env.runs(t)[0].RunID
		if err := env.run("history", "--id", runID[:8]); err != nil {
			t.Fatalf("history --id error = %v", err)
		}
		if !strings.Contains(env.output.String(), "Run:       "+runID) || !strings.Contains(env.output.String(), "Slowdive - Alison") {
			t.Errorf("unexpected run detail:\n%s", env.output.String())
		}

		if err := env.run("history", "--json", "--limit", "2"); err != nil {
			t.Fatalf("history --json error = %v", err)
		}
		var runs []models.Run
		if err := json.Unmarshal(env.output.Bytes(), &runs); err != nil || len(runs) != 2 {
			t.Errorf("unexpected JSON history %v: %s", err, env.output.String())
		}

		if err := env.run("history", "--prune", "1"); err != nil {
			t.Fatalf("history --prune error = %v", err)
		}
		if !strings.Contains(env.output.String(), "Removed 2 runs") || len(env.runs(t)) != 1 {
			t.Errorf("unexpected prune result %q", env.output.String())
		}

		if err := env.run("history", "--id", "nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("history empty JSON", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		if err := env.run("history", "--json"); err != nil {
			t.Fatalf("history error = %v", err)
		}
		if strings.TrimSpace(env.output.String()) != "[]" {
			t.Errorf("expected an empty array, got %q", env.output.String())
		}
	})

	t.Run("auth status", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})

		if err := env.run("auth", "status"); err != nil {
			t.Fatalf("auth status error = %v", err)
		}
		if !strings.Contains(env.output.String(), "User: Shoegazer (user1)") {
			t.Errorf("unexpected output %q", env.output.String())
		}

		env.music.Errs["CurrentUser"] = &shared.AuthError{Service: "spotify", Status: 401}
		if err := env.run("auth", "status"); !errors.Is(err, shared.ErrAuth) {
			t.Errorf("expected ErrAuth, got %v", err)
		}
	})

	t.Run("auth login requires credentials", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		if err := env.run("auth", "login"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("setup config", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})

		if err := env.run("setup", "config"); err != nil {
			t.Fatalf("setup config error = %v", err)
		}
		tu.AssertFileExists(t, env.path)
		if _, err := shared.LoadConfig(env.path); err != nil {
			t.Errorf("written config does not load: %v", err)
		}

		if err := env.run("setup", "config"); err == nil {
			t.Error("expected an error when the config already exists")
		}
	})

	t.Run("setup database", func(t *testing.T) {
		env := newTestEnv(t, RunnerOpts{})
		if err := env.run("setup", "database"); err != nil {
			t.Fatalf("setup database error = %v", err)
		}
		output := env.output.String()
		if !strings.Contains(output, "Migrations") || !strings.Contains(output, "applied") {
			t.Errorf("unexpected output:\n%s", output)
		}
	})

	t.Run("config file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("[builder]\nplaylist_name = \"From File\"\nsize = 1\n"), 0600); err != nil {
			t.Fatal(err)
		}

		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{
			Music:  tu.NewFakeMusic(tu.NewTrack("t1", "Alison", "Slowdive")),
			Lyrics: &tu.FakeLyrics{},
			Logger: shared.NewLogger(io.Discard),
			Output: output,
		})

		args := []string{"crate", "--config", path, "build", "--dry-run", "--no-journal", "--ranker", "heuristic"}
		if err := newApp(runner).Run(context.Background(), args); err != nil {
			t.Fatalf("build error = %v", err)
		}
		if !strings.Contains(output.String(), "Playlist: From File") {
			t.Errorf("config not applied:\n%s", output.String())
		}
	})
}
