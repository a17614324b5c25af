package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// RankRequest describes the playlist a ranker should select.
type RankRequest struct {
	Size   int
	Prompt string
}

// Ranker orders enriched tracks and picks at most req.Size of them.
//
// Implementations may return ids that are not in tracks or repeat an id;
// [PlaylistBuilder.RankAndSelect] filters those out.
type Ranker interface {
	Name() string
	Rank(ctx context.Context, tracks []models.Track, req RankRequest) (models.Selection, error)
}

const rankSystemPrompt = `You are a music curator building a playlist from a listener's liked tracks.
You receive a brief and a JSON array of candidate tracks with their genres, tags, label,
audio features (0-1 scales, tempo in BPM), lyrical themes and, when known, sub-genres,
instrumentation, moods and producers.

Rules:
- Choose at most %d tracks, only from the candidates, using their "id" values exactly.
- Order them as they should play, first track first.
- Give each pick a one-sentence reason tied to the brief.
- Respond with JSON only, in the form {"tracks":[{"id":"...","reason":"..."}]}.`

// ModelRanker asks a [services.ChatModel] to select and order tracks.
type ModelRanker struct {
	model services.ChatModel
}

func NewModelRanker(model services.ChatModel) *ModelRanker {
	return &ModelRanker{model: model}
}

func (r *ModelRanker) Name() string { return "model:" + r.model.Name() }

// trackDigest is the compact form of a track sent to the model.
type trackDigest struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Artist   string             `json:"artist"`
	Album    string             `json:"album,omitempty"`
	Year     string             `json:"year,omitempty"`
	Genres   []string           `json:"genres,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
	Label    string             `json:"label,omitempty"`
	Features map[string]float64 `json:"features,omitempty"`
	Themes   []string           `json:"themes,omitempty"`
	Mood     string             `json:"mood,omitempty"`

	SubGenres       []string `json:"sub_genres,omitempty"`
	Instrumentation []string `json:"instrumentation,omitempty"`
	Moods           []string `json:"moods,omitempty"`
	Producers       []string `json:"producers,omitempty"`
}

func digest(t models.Track) trackDigest {
	d := trackDigest{
		ID:     t.ID,
		Title:  t.Title,
		Artist: strings.Join(t.Artists, ", "),
		Album:  t.Album,
		Genres: t.Genres,
		Tags:   t.Tags,
		Label:  t.Label,
	}
	if len(t.ReleaseDate) >= 4 {
		d.Year = t.ReleaseDate[:4]
	}
	if f := t.Features; f != nil {
		d.Features = map[string]float64{
			"energy":       round2(f.Energy),
			"valence":      round2(f.Valence),
			"danceability": round2(f.Danceability),
			"acousticness": round2(f.Acousticness),
			"tempo":        math.Round(f.Tempo),
		}
	}
	if in := t.Insights; !in.Empty() {
		d.Themes = in.Themes
		d.Mood = in.Mood
	}
	if dt := t.Details; !dt.Empty() {
		d.SubGenres = dt.SubGenres
		d.Instrumentation = dt.Instrumentation
		d.Moods = dt.Moods
		d.Producers = dt.Producers
	}
	return d
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (r *ModelRanker) Rank(ctx context.Context, tracks []models.Track, req RankRequest) (models.Selection, error) {
	digests := make([]trackDigest, len(tracks))
	for i, t := range tracks {
		digests[i] = digest(t)
	}

	data, err := json.Marshal(digests)
	if err != nil {
		return models.Selection{}, fmt.Errorf("encode track digest: %w", err)
	}

	brief := strings.TrimSpace(req.Prompt)
	if brief == "" {
		brief = "A cohesive playlist drawn from these favorites."
	}
	user := fmt.Sprintf("Brief: %s\n\nCandidates:\n%s", brief, data)

	raw, err := r.model.Complete(ctx, fmt.Sprintf(rankSystemPrompt, req.Size), user)
	if err != nil {
		return models.Selection{}, err
	}

	picks, err := ParsePicks(raw)
	if err != nil {
		return models.Selection{}, err
	}
	return models.Selection{Ranker: r.Name(), Picks: picks}, nil
}

// stripFences removes a surrounding markdown code fence such as ```json ... ```.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParsePicks decodes a model response into picks.
//
// Accepted shapes: {"tracks":[...]}, any object whose first array value holds the picks, or a bare array.
// Elements may be {"id","reason"} objects or plain id strings.
func ParsePicks(raw string) ([]models.Pick, error) {
	items, err := listItems(raw)
	if err != nil {
		return nil, err
	}

	picks := make([]models.Pick, 0, len(items))
	for _, item := range items {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			picks = append(picks, models.Pick{TrackID: strings.TrimSpace(id)})
			continue
		}

		var p struct {
			ID      string `json:"id"`
			TrackID string `json:"track_id"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		if p.ID == "" {
			p.ID = p.TrackID
		}
		picks = append(picks, models.Pick{TrackID: strings.TrimSpace(p.ID), Reason: strings.TrimSpace(p.Reason)})
	}
	return picks, nil
}

// listItems extracts the element list from a fenced or bare JSON response: a bare array,
// or the list value chosen by [firstList].
func listItems(raw string) ([]json.RawMessage, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, &shared.ModelError{Reason: "empty response", Raw: raw}
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, &shared.ModelError{Reason: "malformed JSON array", Raw: raw, Err: err}
		}
		return items, nil
	case '{':
		list, err := firstList(body)
		if err != nil {
			return nil, &shared.ModelError{Reason: "malformed JSON object", Raw: raw, Err: err}
		}
		if list == nil {
			return nil, &shared.ModelError{Reason: "response has no track list", Raw: raw}
		}
		return list, nil
	default:
		return nil, &shared.ModelError{Reason: "response is not JSON", Raw: raw}
	}
}

// firstList returns "tracks" when present, otherwise the first array value in key order.
func firstList(body string) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var first []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		var list []json.RawMessage
		if json.Unmarshal(value, &list) != nil {
			continue
		}
		if key == "tracks" {
			return list, nil
		}
		if first == nil {
			first = list
		}
	}
	return first, nil
}

// Content weights for [HeuristicRanker].
const (
	genreWeight   = 0.3
	themeWeight   = 0.4
	keywordWeight = 0.3

	contentShare = 0.5
	audioShare   = 0.5

	maxTempo = 220.0
)

// HeuristicRanker scores tracks by similarity to the rest of the liked set without a language model.
//
// The content score is the mean weighted Jaccard similarity against every other track (genres, tags and sub-genres,
// lyrical themes, lyrical keywords). The audio score is one minus the normalized distance from the
// centroid of energy, valence, danceability, acousticness and tempo. Ties keep liked order.
type HeuristicRanker struct{}

func NewHeuristicRanker() *HeuristicRanker { return &HeuristicRanker{} }

func (r *HeuristicRanker) Name() string { return "heuristic" }

type trackProfile struct {
	genres   map[string]struct{}
	themes   map[string]struct{}
	keywords map[string]struct{}
	vector   []float64
}

func newProfile(t models.Track) trackProfile {
	genres := append(append([]string(nil), t.Genres...), t.Tags...)
	if t.Details != nil {
		genres = append(genres, t.Details.SubGenres...)
	}
	p := trackProfile{
		genres:   toSet(genres),
		themes:   map[string]struct{}{},
		keywords: map[string]struct{}{},
	}
	if in := t.Insights; in != nil {
		p.themes = toSet(in.Themes)
		p.keywords = toSet(in.Keywords)
	}
	if f := t.Features; f != nil {
		p.vector = []float64{f.Energy, f.Valence, f.Danceability, f.Acousticness, math.Min(f.Tempo/maxTempo, 1)}
	}
	return p
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Jaccard is |a ∩ b| / |a ∪ b|, zero when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	common := 0
	for k := range a {
		if _, ok := b[k]; ok {
			common++
		}
	}
	return float64(common) / float64(len(a)+len(b)-common)
}

func contentSimilarity(a, b trackProfile) float64 {
	return Jaccard(a.genres, b.genres)*genreWeight +
		Jaccard(a.themes, b.themes)*themeWeight +
		Jaccard(a.keywords, b.keywords)*keywordWeight
}

func centroid(profiles []trackProfile) []float64 {
	var sum []float64
	n := 0
	for _, p := range profiles {
		if p.vector == nil {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(p.vector))
		}
		for i, v := range p.vector {
			sum[i] += v
		}
		n++
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum
}

// audioSimilarity is 1 for a track on the centroid and 0 at the far corner of the unit cube.
func audioSimilarity(vector, center []float64) float64 {
	if vector == nil || center == nil {
		return 0
	}
	var d float64
	for i := range vector {
		d += (vector[i] - center[i]) * (vector[i] - center[i])
	}
	return 1 - math.Sqrt(d)/math.Sqrt(float64(len(vector)))
}

type scored struct {
	index   int
	content float64
	audio   float64
	total   float64
}

func (r *HeuristicRanker) Rank(ctx context.Context, tracks []models.Track, req RankRequest) (models.Selection, error) {
	profiles := make([]trackProfile, len(tracks))
	for i, t := range tracks {
		profiles[i] = newProfile(t)
	}
	center := centroid(profiles)

	scores := make([]scored, len(tracks))
	for i, p := range profiles {
		if err := ctx.Err(); err != nil {
			return models.Selection{}, err
		}

		var content float64
		if len(profiles) > 1 {
			for j, q := range profiles {
				if i != j {
					content += contentSimilarity(p, q)
				}
			}
			content /= float64(len(profiles) - 1)
		}

		audio := audioSimilarity(p.vector, center)
		scores[i] = scored{index: i, content: content, audio: audio, total: content*contentShare + audio*audioShare}
	}

	sort.SliceStable(scores, func(a, b int) bool { return scores[a].total > scores[b].total })

	n := req.Size
	if n <= 0 || n > len(scores) {
		n = len(scores)
	}

	picks := make([]models.Pick, n)
	for i, s := range scores[:n] {
		picks[i] = models.Pick{
			TrackID: tracks[s.index].ID,
			Reason:  fmt.Sprintf("score %.2f (content %.2f, audio %.2f)", s.total, s.content, s.audio),
		}
	}
	return models.Selection{Ranker: r.Name(), Picks: picks}, nil
}
