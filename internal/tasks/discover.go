package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// Discovery sources accepted by [DiscoverOptions].
const (
	SourceLastFM = "lastfm"
	SourceModel  = "model"
)

const (
	// Liked tracks beyond this many are left out of the model's taste profile.
	maxProfileTracks     = 100
	maxRecommendAttempts = 2

	trackURLPrefix = "https://open.spotify.com/track/"
)

const recommendSystemPrompt = `You are a music recommendation expert with a deep knowledge of genres, eras,
production styles and lyrical content. You receive a listener's liked tracks as a JSON array with their
genres, tags, lyrical themes and audio features, and optionally a brief.

Rules:
- Recommend exactly %d songs that are NOT in the liked list. Do not repeat a song.
- Mix close matches to the core of the taste profile with a few adjacent discoveries.
- For each song give a two or three sentence justification that names the liked tracks or traits it connects to.
- Respond with JSON only, in the form {"recommendations":[{"artist":"...","title":"...","justification":"..."}]}.`

// DiscoverDeps are the collaborators of a [Discoverer]. At least one of Tags and Model is required.
type DiscoverDeps struct {
	Music  services.MusicService // required to resolve suggestions
	Tags   services.TagService
	Model  services.ChatModel
	Logger *log.Logger
}

// DiscoverOptions configure one discovery pass.
type DiscoverOptions struct {
	Sources []string // empty means every configured source
	Seeds   int      // recent liked tracks used as Last.fm seeds
	PerSeed int      // similar tracks requested per seed
	Limit   int      // suggestions kept per source, 0 for all
	Prompt  string
	Resolve bool // look suggestions up in the streaming catalog
}

// DiscoverResult holds the merged suggestions, best first.
type DiscoverResult struct {
	Seeds       []models.Track
	Suggestions []models.Suggestion
	Known       int // suggestions dropped because they are already liked
	Unresolved  int
}

// Discoverer proposes songs from outside the liked library.
type Discoverer struct {
	music  services.MusicService
	tags   services.TagService
	model  services.ChatModel
	logger *log.Logger
}

func NewDiscoverer(deps DiscoverDeps) *Discoverer {
	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Discoverer{music: deps.Music, tags: deps.Tags, model: deps.Model, logger: logger}
}

// sources resolves the requested sources against the configured ones.
func (d *Discoverer) sources(requested []string) ([]string, error) {
	available := map[string]bool{SourceLastFM: d.tags != nil, SourceModel: d.model != nil}

	if len(requested) == 0 {
		var out []string
		for _, s := range []string{SourceLastFM, SourceModel} {
			if available[s] {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: discovery needs a Last.fm api key or a language model", shared.ErrServiceUnavailable)
		}
		return out, nil
	}

	var out []string
	for _, s := range requested {
		s = strings.ToLower(strings.TrimSpace(s))
		switch s {
		case SourceLastFM, SourceModel:
		default:
			return nil, fmt.Errorf("%w: unknown source %q (lastfm, model)", shared.ErrInvalidArgument, s)
		}
		if !available[s] {
			return nil, fmt.Errorf("%w: source %s is not configured", shared.ErrServiceUnavailable, s)
		}
		out = append(out, s)
	}
	return out, nil
}

// Discover gathers suggestions from each source, drops songs already in liked and, with Resolve,
// matches the rest against the streaming catalog.
//
// A source that fails with anything but an authentication error is skipped while another source
// produced suggestions.
func (d *Discoverer) Discover(ctx context.Context, liked []models.Track, opts DiscoverOptions) (*DiscoverResult, error) {
	if len(liked) == 0 {
		return nil, fmt.Errorf("%w: no liked tracks to discover from", shared.ErrInvalidInput)
	}
	sources, err := d.sources(opts.Sources)
	if err != nil {
		return nil, err
	}

	res := &DiscoverResult{}
	known := likedKeys(liked)
	seen := make(map[string]int)

	var failures []error
	for _, source := range sources {
		var found []models.Suggestion
		switch source {
		case SourceLastFM:
			res.Seeds = seedTracks(liked, opts.Seeds)
			found, err = d.Similar(ctx, res.Seeds, opts.PerSeed)
		case SourceModel:
			found, err = d.Recommend(ctx, liked, opts.Prompt, opts.Limit)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, shared.ErrAuth) {
				return nil, err
			}
			d.logger.Warn("discovery source failed", "source", source, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", source, err))
			continue
		}

		kept := 0
		for _, s := range found {
			key := shared.NormalizeTrackKey(s.Title, s.Artist)
			if known[key] || known[shared.NormalizeTrackKey(services.CleanTitle(s.Title), s.Artist)] {
				res.Known++
				continue
			}
			if i, dup := seen[key]; dup {
				merged := &res.Suggestions[i]
				merged.Source += "+" + s.Source
				merged.Reason = joinReasons(merged.Reason, s.Reason)
				continue
			}
			if opts.Limit > 0 && kept == opts.Limit {
				continue
			}
			seen[key] = len(res.Suggestions)
			res.Suggestions = append(res.Suggestions, s)
			kept++
		}
		d.logger.Info("discovered tracks", "source", source, "found", len(found), "kept", kept)
	}

	if len(res.Suggestions) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	if opts.Resolve {
		if err := d.resolve(ctx, res, liked); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Similar asks Last.fm for neighbors of each seed and ranks them by how many seeds led to them,
// then by summed match.
func (d *Discoverer) Similar(ctx context.Context, seeds []models.Track, perSeed int) ([]models.Suggestion, error) {
	if d.tags == nil {
		return nil, fmt.Errorf("%w: last.fm is not configured", shared.ErrServiceUnavailable)
	}

	byKey := make(map[string]int)
	var out []models.Suggestion
	var lastErr error
	for _, seed := range seeds {
		similar, err := d.tags.SimilarTracks(ctx, seed.Artist(), seed.Title, perSeed)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, shared.ErrNotFound):
				d.logger.Debug("no similar tracks", "track", seed.ID, "title", seed.Title)
			case errors.Is(err, shared.ErrAuth):
				return nil, err
			default:
				d.logger.Warn("skipping similar tracks", "track", seed.ID, "title", seed.Title, "error", err)
				lastErr = err
			}
			continue
		}

		for _, s := range similar {
			key := shared.NormalizeTrackKey(s.Title, s.Artist)
			if i, ok := byKey[key]; ok {
				out[i].Match += s.Match
				out[i].Seeds = append(out[i].Seeds, seed.ID)
				out[i].Reason += ", " + seed.String()
				continue
			}
			s.Source = SourceLastFM
			s.Seeds = []string{seed.ID}
			s.Reason = "similar to " + seed.String()
			byKey[key] = len(out)
			out = append(out, s)
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}

	sort.SliceStable(out, func(a, b int) bool {
		if len(out[a].Seeds) != len(out[b].Seeds) {
			return len(out[a].Seeds) > len(out[b].Seeds)
		}
		return out[a].Match > out[b].Match
	})
	return out, nil
}

// Recommend asks the language model for n new songs matching the taste profile of liked. A
// [shared.ModelError] is retried once.
func (d *Discoverer) Recommend(ctx context.Context, liked []models.Track, prompt string, n int) ([]models.Suggestion, error) {
	if d.model == nil {
		return nil, fmt.Errorf("%w: no language model configured", shared.ErrServiceUnavailable)
	}
	if n <= 0 {
		n = 10
	}

	profile := liked
	if len(profile) > maxProfileTracks {
		profile = profile[:maxProfileTracks]
	}
	digests := make([]trackDigest, len(profile))
	for i, t := range profile {
		digests[i] = digest(t)
	}
	data, err := json.Marshal(digests)
	if err != nil {
		return nil, fmt.Errorf("encode taste profile: %w", err)
	}

	user := fmt.Sprintf("Liked tracks:\n%s", data)
	if brief := strings.TrimSpace(prompt); brief != "" {
		user = fmt.Sprintf("Brief: %s\n\n%s", brief, user)
	}

	for attempt := range maxRecommendAttempts {
		var raw string
		raw, err = d.model.Complete(ctx, fmt.Sprintf(recommendSystemPrompt, n), user)
		if err != nil {
			return nil, err
		}

		var found []models.Suggestion
		found, err = ParseSuggestions(raw)
		if err == nil && len(found) == 0 {
			err = &shared.ModelError{Reason: "no recommendations", Raw: raw}
		}
		if err == nil {
			source := "model:" + d.model.Name()
			for i := range found {
				found[i].Source = source
			}
			return found, nil
		}
		if !errors.Is(err, shared.ErrModel) {
			return nil, err
		}
		d.logger.Warn("unusable recommendations", "model", d.model.Name(), "attempt", attempt+1, "error", err)
	}
	return nil, err
}

// ParseSuggestions decodes recommended songs in any shape accepted by [ParsePicks]. Elements need
// "artist" and "title"; "justification" or "reason" becomes the reason. Incomplete elements are skipped.
func ParseSuggestions(raw string) ([]models.Suggestion, error) {
	items, err := listItems(raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.Suggestion, 0, len(items))
	for _, item := range items {
		var s struct {
			Artist        string `json:"artist"`
			Title         string `json:"title"`
			Name          string `json:"name"`
			Justification string `json:"justification"`
			Reason        string `json:"reason"`
		}
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		title := firstNonBlank(s.Title, s.Name)
		if title == "" || strings.TrimSpace(s.Artist) == "" {
			continue
		}
		out = append(out, models.Suggestion{
			Title:  title,
			Artist: strings.TrimSpace(s.Artist),
			Reason: firstNonBlank(s.Justification, s.Reason),
		})
	}
	return out, nil
}

// resolve fills TrackID and URL from catalog search. Matches that turn out to be liked are dropped.
func (d *Discoverer) resolve(ctx context.Context, res *DiscoverResult, liked []models.Track) error {
	if d.music == nil {
		return fmt.Errorf("%w: music service not initialized", shared.ErrServiceUnavailable)
	}

	likedIDs := make(map[string]bool, len(liked))
	for _, t := range liked {
		likedIDs[t.ID] = true
	}

	kept := res.Suggestions[:0]
	for _, s := range res.Suggestions {
		match, err := d.music.SearchTrack(ctx, s.Artist, s.Title)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, shared.ErrNotFound):
				res.Unresolved++
			case shared.IsFatal(err, true):
				return fmt.Errorf("resolve %s: %w", s, err)
			default:
				d.logger.Warn("search failed", "suggestion", s.String(), "error", err)
				res.Unresolved++
			}
			kept = append(kept, s)
			continue
		}

		if likedIDs[match.ID] {
			res.Known++
			continue
		}
		s.TrackID = match.ID
		s.URL = trackURLPrefix + match.ID
		kept = append(kept, s)
	}
	res.Suggestions = kept
	return nil
}

// Resolved returns the ids of resolved suggestions, in order.
func (r *DiscoverResult) Resolved() []string {
	var ids []string
	for _, s := range r.Suggestions {
		if s.TrackID != "" {
			ids = append(ids, s.TrackID)
		}
	}
	return ids
}

// likedKeys indexes liked tracks by normalized title and primary artist, raw and cleaned.
func likedKeys(liked []models.Track) map[string]bool {
	keys := make(map[string]bool, len(liked)*2)
	for _, t := range liked {
		keys[shared.NormalizeTrackKey(t.Title, t.Artist())] = true
		keys[shared.NormalizeTrackKey(services.CleanTitle(t.Title), t.Artist())] = true
	}
	return keys
}

// seedTracks returns the first n liked tracks, which are the most recently liked.
func seedTracks(liked []models.Track, n int) []models.Track {
	if n <= 0 || n > len(liked) {
		n = len(liked)
	}
	return liked[:n]
}

func joinReasons(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
