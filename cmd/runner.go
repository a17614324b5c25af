package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Services are created on first use from the loaded config unless they were injected through [RunnerOpts].
type Runner struct {
	config       *shared.Config
	configPath   string
	configLoaded bool
	music        services.MusicService
	oauth        services.OAuthService
	chat         services.ChatModel
	lyrics       services.LyricsProvider
	tags         services.TagService
	db           *sql.DB
	ownsDB       bool
	httpClient   *http.Client
	logger       *log.Logger
	output       io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Music      services.MusicService
	Chat       services.ChatModel
	Lyrics     services.LyricsProvider
	Tags       services.TagService
	DB         *sql.DB
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	loaded := opts.Config != nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:       opts.Config,
		configPath:   opts.ConfigPath,
		configLoaded: loaded,
		music:        opts.Music,
		chat:         opts.Chat,
		lyrics:       opts.Lyrics,
		tags:         opts.Tags,
		db:           opts.DB,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		output:       opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, likedCommand, enrichCommand, buildCommand, discoverCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before applies global flags and loads the config file. A missing file falls back to the defaults.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if path := cmd.String("config"); path != "" && (r.configPath == "" || cmd.IsSet("config")) {
		r.configPath = path
	}
	if r.configLoaded {
		return ctx, nil
	}

	if _, err := os.Stat(r.configPath); errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		r.config.ApplyEnv()
	} else {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	}
	r.configLoaded = true
	return ctx, nil
}

// After releases the database connection opened by a command.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	if r.ownsDB && r.db != nil {
		r.ownsDB = false
		return r.db.Close()
	}
	return nil
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

func (r *Runner) httpOptions() services.HTTPOptions {
	opts := services.NewHTTPOptions(r.config.HTTP, r.logger)
	if r.httpClient != http.DefaultClient {
		opts.Client = r.httpClient
	}
	return opts
}

// spotify returns an authenticated streaming service, creating it from the stored token on first use.
func (r *Runner) spotify(ctx context.Context) (services.MusicService, error) {
	if r.music != nil {
		return r.music, nil
	}

	svc, err := services.NewSpotifyService(r.config.Credentials.Spotify, r.httpOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: set client_id and client_secret in %s", err, r.configPath)
	}
	if err := svc.OAuthenticate(ctx, r.config.Credentials.Spotify.Token()); err != nil {
		return nil, err
	}

	r.music, r.oauth = svc, svc
	return svc, nil
}

// chatModel returns the configured language model, or nil when none is configured.
func (r *Runner) chatModel() (services.ChatModel, error) {
	if r.chat != nil {
		return r.chat, nil
	}
	if !r.config.Credentials.LLM.Enabled() {
		return nil, nil
	}

	model, err := services.NewChatModel(r.config.Credentials.LLM, r.httpOptions())
	if err != nil {
		return nil, err
	}
	r.chat = model
	return model, nil
}

// lyricsProvider chains lyrics.ovh with Musixmatch when a token is configured.
func (r *Runner) lyricsProvider() services.LyricsProvider {
	if r.lyrics != nil {
		return r.lyrics
	}

	opts, rps := r.httpOptions(), r.config.HTTP.LyricsRPS
	providers := []services.LyricsProvider{services.NewLyricsOVH(opts, rps)}
	if token := r.config.Credentials.Lyrics.MusixmatchToken; token != "" {
		providers = append(providers, services.NewMusixmatch(token, opts, rps))
	}

	r.lyrics = services.NewChainLyrics(r.logger, providers...)
	return r.lyrics
}

// tagService returns the Last.fm client, or nil without an API key.
func (r *Runner) tagService() services.TagService {
	if r.tags != nil {
		return r.tags
	}
	if key := r.config.Credentials.LastFM.APIKey; key != "" {
		r.tags = services.NewLastFM(key, r.httpOptions(), r.config.HTTP.LyricsRPS)
	}
	return r.tags
}

// database opens and migrates the journal database on first use.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}
	r.db, r.ownsDB = db, true
	return db, nil
}

// journal returns the run repository, or nil when the database cannot be opened.
func (r *Runner) journal() *repositories.RunRepository {
	db, err := r.database()
	if err != nil {
		r.logger.Warn("journal unavailable, this run will not be recorded", "error", err)
		return nil
	}
	return repositories.NewRunRepository(db)
}

// builderOpts choose the optional collaborators of a [tasks.PlaylistBuilder].
type builderOpts struct {
	ranker   string
	insights bool
	details  bool
	journal  bool
}

// newBuilder wires a [tasks.PlaylistBuilder]. A model ranker without a configured model falls back to the heuristic.
func (r *Runner) newBuilder(ctx context.Context, opts builderOpts) (*tasks.PlaylistBuilder, error) {
	music, err := r.spotify(ctx)
	if err != nil {
		return nil, err
	}

	model, err := r.chatModel()
	if err != nil {
		return nil, err
	}

	deps := tasks.Deps{
		Music:  music,
		Lyrics: r.lyricsProvider(),
		Logger: r.logger,
	}

	switch opts.ranker {
	case "heuristic":
		deps.Ranker = tasks.NewHeuristicRanker()
	case "model", "":
		if model == nil {
			r.logger.Warn("no language model configured, using the heuristic ranker")
			deps.Ranker = tasks.NewHeuristicRanker()
		} else {
			deps.Ranker = tasks.NewModelRanker(model)
		}
	default:
		return nil, fmt.Errorf("%w: unknown ranker %q (model, heuristic)", shared.ErrInvalidArgument, opts.ranker)
	}

	if tags := r.tagService(); tags != nil {
		deps.Tags = tags
	}

	if opts.insights {
		if model == nil {
			r.logger.Warn("no language model configured, skipping lyrical insights")
		} else {
			deps.Insights = tasks.NewInsightAnalyzer(model)
		}
	}

	if opts.details {
		if model == nil {
			r.logger.Warn("no language model configured, skipping track details")
		} else {
			deps.Details = tasks.NewDetailAugmenter(model)
		}
	}

	if opts.journal {
		if repo := r.journal(); repo != nil {
			deps.Journal = repo
		}
	}

	return tasks.NewPlaylistBuilder(deps), nil
}

// persistToken saves a refreshed Spotify token back to the config file.
func (r *Runner) persistToken() {
	if r.oauth == nil {
		return
	}

	tok, err := r.oauth.Token()
	if err != nil {
		r.logger.Debug("no token to persist", "error", err)
		return
	}
	if tok.AccessToken == r.config.Credentials.Spotify.AccessToken {
		return
	}

	r.config.Credentials.Spotify.SetToken(tok)
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		r.logger.Warn("failed to save refreshed token", "error", err)
		return
	}
	r.logger.Debug("saved refreshed spotify token", "path", r.configPath)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
