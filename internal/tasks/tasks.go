package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	// RankAndSelect makes one retry after a [shared.ModelError].
	maxRankAttempts = 2

	maxDescriptionLen = 300
	playlistURLPrefix = "https://open.spotify.com/playlist/"
)

// Journal records builds. The pipeline only writes to it.
type Journal interface {
	Start(ctx context.Context, run *models.Run) error
	Finish(ctx context.Context, run *models.Run) error
}

// Deps are the collaborators of a [PlaylistBuilder]. Music and Ranker are required.
type Deps struct {
	Music    services.MusicService
	Ranker   Ranker
	Lyrics   services.LyricsProvider // optional
	Tags     services.TagService     // optional
	Insights *InsightAnalyzer        // optional, requires Lyrics
	Details  *DetailAugmenter        // optional
	Journal  Journal                 // optional
	Logger   *log.Logger
}

// BuildOptions configure a single run.
type BuildOptions struct {
	Name     string
	Size     int
	MaxLiked int
	Prompt   string
	Public   bool
	Update   bool // replace the items of an existing playlist with the same name
	DryRun   bool // rank but never publish

	// Confirm, when set, is called with the ranked result before publishing.
	// Returning false ends the run without publishing.
	Confirm func(ctx context.Context, res *BuildResult) (bool, error)
}

// BuildResult is everything a run produced.
type BuildResult struct {
	Run        *models.Run
	Tracks     []models.Track // enriched liked tracks, in liked order
	Duplicates int
	Selection  models.Selection
	Selected   []models.Track // Tracks in selection order
	Playlist   *models.Playlist
	Published  bool
}

// PlaylistBuilder runs the fetch, enrich, rank and publish pipeline.
//
// The pipeline is sequential with one request in flight at a time.
type PlaylistBuilder struct {
	music    services.MusicService
	ranker   Ranker
	lyrics   services.LyricsProvider
	tags     services.TagService
	insights *InsightAnalyzer
	details  *DetailAugmenter
	journal  Journal
	logger   *log.Logger
}

func NewPlaylistBuilder(deps Deps) *PlaylistBuilder {
	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &PlaylistBuilder{
		music:    deps.Music,
		ranker:   deps.Ranker,
		lyrics:   deps.Lyrics,
		tags:     deps.Tags,
		insights: deps.Insights,
		details:  deps.Details,
		journal:  deps.Journal,
		logger:   logger,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (b *PlaylistBuilder) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// FetchLikedTracks returns up to max liked tracks (0 means all), de-duplicated by id with the first occurrence kept.
func (b *PlaylistBuilder) FetchLikedTracks(ctx context.Context, max int) ([]models.Track, int, error) {
	if b.music == nil {
		return nil, 0, fmt.Errorf("%w: music service not initialized", shared.ErrServiceUnavailable)
	}

	liked, err := b.music.LikedTracks(ctx, max)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch liked tracks: %w", err)
	}

	seen := make(map[string]bool, len(liked))
	tracks := make([]models.Track, 0, len(liked))
	for _, t := range liked {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tracks = append(tracks, t)
	}
	return tracks, len(liked) - len(tracks), nil
}

// lookupError decides whether a failed enrichment lookup halts the run.
// It returns nil when the track should continue with the signal missing.
// required marks lookups against the streaming API, whose rate limits also halt the run.
func (b *PlaylistBuilder) lookupError(ctx context.Context, t models.Track, signal string, err error, required bool) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, shared.ErrNotFound):
		b.logger.Debug("no "+signal, "track", t.ID, "title", t.Title)
		return nil
	case shared.IsFatal(err, required):
		return fmt.Errorf("enrich %s: %s: %w", t.ID, signal, err)
	default:
		b.logger.Warn("skipping "+signal, "track", t.ID, "title", t.Title, "error", err)
		return nil
	}
}

// Enrich returns a copy of t with lyrics, audio features, artist genres, album label, tags,
// lyrical insights and model-recalled details filled in where available.
//
// Missing data never drops the track. Authentication errors from any source halt the run, as do
// rate limits from the streaming API; rate-limited lyrics, tag and model lookups are skipped.
func (b *PlaylistBuilder) Enrich(ctx context.Context, t models.Track) (models.Track, error) {
	out := t.Clone()

	if b.lyrics != nil && out.Lyrics == "" {
		text, err := b.lyrics.Lyrics(ctx, out.Artist(), out.Title)
		if err != nil {
			if err := b.lookupError(ctx, out, "lyrics", err, false); err != nil {
				return t, err
			}
		} else {
			out.Lyrics = text
		}
	}

	if b.music != nil {
		if out.Features == nil {
			features, err := b.music.AudioFeatures(ctx, out.ID)
			if err != nil {
				if err := b.lookupError(ctx, out, "audio features", err, true); err != nil {
					return t, err
				}
			} else {
				out.Features = features
			}
		}

		if len(out.Genres) == 0 && len(out.ArtistIDs) > 0 {
			genres, err := b.music.ArtistGenres(ctx, out.ArtistIDs[0])
			if err != nil {
				if err := b.lookupError(ctx, out, "artist genres", err, true); err != nil {
					return t, err
				}
			} else {
				out.Genres = genres
			}
		}

		if out.Label == "" && out.AlbumID != "" {
			label, err := b.music.AlbumLabel(ctx, out.AlbumID)
			if err != nil {
				if err := b.lookupError(ctx, out, "album label", err, true); err != nil {
					return t, err
				}
			} else {
				out.Label = label
			}
		}
	}

	if b.tags != nil && len(out.Tags) == 0 {
		tags, err := b.tags.TopTags(ctx, out.Artist(), out.Title)
		if err != nil {
			if err := b.lookupError(ctx, out, "tags", err, false); err != nil {
				return t, err
			}
		} else {
			out.Tags = tags
		}
	}

	if b.insights != nil && out.Lyrics != "" && out.Insights.Empty() {
		insights, err := b.insights.Analyze(ctx, out)
		if err != nil {
			if err := b.lookupError(ctx, out, "insights", err, false); err != nil {
				return t, err
			}
		} else {
			out.Insights = insights
		}
	}

	if b.details != nil && out.Details.Empty() {
		details, err := b.details.Augment(ctx, out)
		if err != nil {
			if err := b.lookupError(ctx, out, "details", err, false); err != nil {
				return t, err
			}
		} else {
			out.Details = details
		}
	}

	return out, nil
}

// EnrichAll enriches every track in order. The result has the same length and ids as tracks.
func (b *PlaylistBuilder) EnrichAll(ctx context.Context, tracks []models.Track, progress chan<- ProgressUpdate) ([]models.Track, error) {
	total := len(tracks)
	b.sendProgress(progress, enrichTrackUpdate(0, total, nil))

	enriched := make([]models.Track, total)
	for i, t := range tracks {
		b.sendProgress(progress, enrichTrackUpdate(i+1, total, &tracks[i]))

		e, err := b.Enrich(ctx, t)
		if err != nil {
			return nil, err
		}
		enriched[i] = e
		b.logger.Debug("enriched track", "track", e.ID, "signals", strings.Join(e.Enrichment(), ","))
	}
	return enriched, nil
}

// RankAndSelect asks the ranker for a selection and keeps only ids present in tracks, dropping
// duplicates and truncating to req.Size. A [shared.ModelError], including a selection with no
// usable ids, is retried exactly once.
func (b *PlaylistBuilder) RankAndSelect(ctx context.Context, tracks []models.Track, req RankRequest, progress chan<- ProgressUpdate) (models.Selection, error) {
	if b.ranker == nil {
		return models.Selection{}, fmt.Errorf("%w: ranker not initialized", shared.ErrServiceUnavailable)
	}
	if len(tracks) == 0 {
		return models.Selection{}, fmt.Errorf("%w: no tracks to rank", shared.ErrInvalidInput)
	}

	var err error
	for attempt := range maxRankAttempts {
		b.sendProgress(progress, rankingUpdate(b.ranker.Name(), attempt, len(tracks)))

		var sel models.Selection
		sel, err = b.ranker.Rank(ctx, tracks, req)
		if err == nil {
			sel, err = filterSelection(sel, tracks, req.Size)
		}
		if err == nil {
			b.sendProgress(progress, selectedUpdate(&sel))
			return sel, nil
		}
		if !errors.Is(err, shared.ErrModel) {
			return models.Selection{}, err
		}
		b.logger.Warn("unusable ranking", "ranker", b.ranker.Name(), "attempt", attempt+1, "error", err)
	}
	return models.Selection{}, err
}

// filterSelection drops unknown and repeated ids and truncates to size (0 means no limit).
func filterSelection(sel models.Selection, tracks []models.Track, size int) (models.Selection, error) {
	known := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		known[t.ID] = true
	}

	seen := make(map[string]bool, len(sel.Picks))
	picks := make([]models.Pick, 0, len(sel.Picks))
	for _, p := range sel.Picks {
		if !known[p.TrackID] || seen[p.TrackID] {
			continue
		}
		seen[p.TrackID] = true
		picks = append(picks, p)
		if size > 0 && len(picks) == size {
			break
		}
	}

	if len(picks) == 0 {
		return models.Selection{}, &shared.ModelError{Reason: fmt.Sprintf("none of the %d returned ids match a liked track", len(sel.Picks))}
	}
	return models.Selection{Ranker: sel.Ranker, Picks: picks}, nil
}

// Publish creates p on the user's account or, with update, replaces an existing playlist of the same
// name. Items are written in the order of p.TrackIDs.
func (b *PlaylistBuilder) Publish(ctx context.Context, p models.Playlist, update bool) (*models.Playlist, error) {
	if b.music == nil {
		return nil, fmt.Errorf("%w: music service not initialized", shared.ErrServiceUnavailable)
	}

	user, err := b.music.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish: current user: %w", err)
	}

	var existing *models.PlaylistSummary
	if update {
		if existing, err = b.music.FindPlaylist(ctx, user.ID, p.Name); err != nil {
			return nil, fmt.Errorf("publish: find playlist %q: %w", p.Name, err)
		}
	}

	published := p
	if existing != nil {
		published.ID = existing.ID
		published.URL = playlistURLPrefix + existing.ID
		if err := b.music.UpdatePlaylistDetails(ctx, published); err != nil {
			return nil, fmt.Errorf("publish: update playlist %s: %w", published.ID, err)
		}
		b.logger.Info("updating existing playlist", "id", published.ID, "name", published.Name)
	} else {
		created, err := b.music.CreatePlaylist(ctx, user.ID, p)
		if err != nil {
			return nil, fmt.Errorf("publish: create playlist %q: %w", p.Name, err)
		}
		published.ID = created.ID
		published.URL = created.URL
		if published.URL == "" {
			published.URL = playlistURLPrefix + created.ID
		}
		b.logger.Info("created playlist", "id", published.ID, "name", published.Name)
	}

	if err := b.music.ReplacePlaylistItems(ctx, published.ID, p.TrackIDs); err != nil {
		return nil, fmt.Errorf("publish: write items to %s: %w", published.ID, err)
	}
	return &published, nil
}

// Run executes the pipeline once: fetch liked tracks, enrich, rank and, unless DryRun, publish.
func (b *PlaylistBuilder) Run(ctx context.Context, opts BuildOptions, progress chan<- ProgressUpdate) (*BuildResult, error) {
	run := &models.Run{
		RunID:        shared.GenerateID(),
		StartedAt:    time.Now().UTC(),
		Status:       models.RunRunning,
		Prompt:       opts.Prompt,
		PlaylistName: opts.Name,
		DryRun:       opts.DryRun,
	}
	if b.ranker != nil {
		run.Ranker = b.ranker.Name()
	}
	logger := shared.WithLogger(b.logger, "run", run.RunID[:8])
	b.startJournal(ctx, run)

	res, err := b.run(ctx, opts, run, logger, progress)
	b.finishJournal(ctx, run, res, err)
	if err != nil {
		logger.Error("build failed", "error", err)
		return res, err
	}

	b.sendProgress(progress, completeUpdate(res))
	return res, nil
}

func (b *PlaylistBuilder) run(ctx context.Context, opts BuildOptions, run *models.Run, logger *log.Logger, progress chan<- ProgressUpdate) (*BuildResult, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fmt.Errorf("%w: playlist name is required", shared.ErrMissingArgument)
	}

	res := &BuildResult{Run: run}

	b.sendProgress(progress, fetchingLikedUpdate(opts.MaxLiked))
	liked, dupes, err := b.FetchLikedTracks(ctx, opts.MaxLiked)
	if err != nil {
		return res, err
	}
	if len(liked) == 0 {
		return res, &shared.NotFoundError{Service: "spotify", What: "liked tracks"}
	}
	res.Duplicates = dupes
	run.LikedCount = len(liked)
	b.sendProgress(progress, fetchedLikedUpdate(len(liked), dupes))
	logger.Info("fetched liked tracks", "count", len(liked), "duplicates", dupes)

	res.Tracks, err = b.EnrichAll(ctx, liked, progress)
	if err != nil {
		return res, err
	}
	logger.Info("enriched tracks", "count", len(res.Tracks))

	res.Selection, err = b.RankAndSelect(ctx, res.Tracks, RankRequest{Size: opts.Size, Prompt: opts.Prompt}, progress)
	if err != nil {
		return res, err
	}
	res.Selected = selectedTracks(res.Tracks, res.Selection)
	run.SelectedCount = len(res.Selected)
	logger.Info("ranked tracks", "ranker", res.Selection.Ranker, "selected", len(res.Selected))

	res.Playlist = &models.Playlist{
		Name:        opts.Name,
		Description: Description(opts.Prompt, run.StartedAt),
		Public:      opts.Public,
		TrackIDs:    res.Selection.IDs(),
	}

	if opts.DryRun {
		logger.Info("dry run, skipping publish")
		return res, nil
	}

	if opts.Confirm != nil {
		b.sendProgress(progress, reviewUpdate(res))
		ok, err := opts.Confirm(ctx, res)
		if err != nil {
			return res, err
		}
		if !ok {
			logger.Info("selection declined, skipping publish")
			run.DryRun = true
			return res, nil
		}
	}

	b.sendProgress(progress, publishingUpdate(opts.Name, opts.Update))
	published, err := b.Publish(ctx, *res.Playlist, opts.Update)
	if err != nil {
		return res, err
	}
	res.Playlist = published
	res.Published = true
	run.PlaylistID = published.ID
	b.sendProgress(progress, publishedUpdate(published))
	return res, nil
}

// selectedTracks maps a filtered selection back to tracks, preserving selection order.
func selectedTracks(tracks []models.Track, sel models.Selection) []models.Track {
	byID := make(map[string]models.Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}
	out := make([]models.Track, 0, len(sel.Picks))
	for _, p := range sel.Picks {
		if t, ok := byID[p.TrackID]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Description builds the playlist description from the prompt, within Spotify's length limit.
func Description(prompt string, at time.Time) string {
	desc := fmt.Sprintf("Built by crate on %s.", at.Format("2006-01-02"))
	if prompt = strings.Join(strings.Fields(prompt), " "); prompt != "" {
		desc = prompt + " " + desc
	}
	if r := []rune(desc); len(r) > maxDescriptionLen {
		desc = string(r[:maxDescriptionLen-3]) + "..."
	}
	return desc
}

func (b *PlaylistBuilder) startJournal(ctx context.Context, run *models.Run) {
	if b.journal == nil {
		return
	}
	if err := b.journal.Start(ctx, run); err != nil {
		b.logger.Warn("failed to journal run start", "run", run.RunID, "error", err)
	}
}

// finishJournal stores the outcome. It uses a fresh context so a canceled run is still recorded.
func (b *PlaylistBuilder) finishJournal(ctx context.Context, run *models.Run, res *BuildResult, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunSucceeded
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}

	if res != nil {
		reasons := make(map[string]string, len(res.Selection.Picks))
		for _, p := range res.Selection.Picks {
			reasons[p.TrackID] = p.Reason
		}
		run.Tracks = make([]models.RunTrack, len(res.Selected))
		for i, t := range res.Selected {
			run.Tracks[i] = models.RunTrack{Position: i + 1, TrackID: t.ID, Title: t.Title, Artist: t.Artist(), Reason: reasons[t.ID]}
		}
	}

	if b.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.journal.Finish(jctx, run); err != nil {
		b.logger.Warn("failed to journal run result", "run", run.RunID, "error", err)
	}
}
