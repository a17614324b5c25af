package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

const detailsSystemPrompt = `You are a music archivist. Given a song, recall what is documented about it.
Respond with JSON only, in the form
{"composers":[],"producers":[],"lyricists":[],"recording_studios":[],
"sub_genres":[],"instrumentation":[],
"mood":{"moods":[],"atmosphere":"...","tempo":"..."},
"context":"...","confidence":"..."}
Use empty lists or strings for anything you do not know; never guess names.
sub_genres are specific (e.g. "dream pop", not "rock"). instrumentation lists notable instruments
or production techniques. context is one sentence on the song's history or significance.
confidence notes which fields are uncertain.`

// termList decodes either a JSON list of strings or a single comma-separated string.
type termList []string

func (l *termList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a list or string: %w", err)
	}
	*l = strings.Split(s, ",")
	return nil
}

type detailsResponse struct {
	Composers       termList `json:"composers"`
	Producers       termList `json:"producers"`
	Lyricists       termList `json:"lyricists"`
	Studios         termList `json:"recording_studios"`
	SubGenres       termList `json:"sub_genres"`
	Instrumentation termList `json:"instrumentation"`
	Mood            struct {
		Moods      termList `json:"moods"`
		Atmosphere string   `json:"atmosphere"`
		Tempo      string   `json:"tempo"`
	} `json:"mood"`
	Context    string `json:"context"`
	Confidence string `json:"confidence"`
}

// DetailAugmenter asks a [services.ChatModel] for credits and stylistic descriptors of a track.
type DetailAugmenter struct {
	model services.ChatModel
}

func NewDetailAugmenter(model services.ChatModel) *DetailAugmenter {
	return &DetailAugmenter{model: model}
}

// Augment returns details for t. A response with nothing usable is a [shared.ModelError].
func (a *DetailAugmenter) Augment(ctx context.Context, t models.Track) (*models.Details, error) {
	var known strings.Builder
	fmt.Fprintf(&known, "Song: %q by %s\n", t.Title, strings.Join(t.Artists, ", "))
	if t.Album != "" {
		fmt.Fprintf(&known, "Album: %s\n", t.Album)
	}
	if t.ReleaseDate != "" {
		fmt.Fprintf(&known, "Released: %s\n", t.ReleaseDate)
	}
	if t.Label != "" {
		fmt.Fprintf(&known, "Label: %s\n", t.Label)
	}
	if len(t.Genres) > 0 {
		fmt.Fprintf(&known, "Artist genres: %s\n", strings.Join(t.Genres, ", "))
	}

	raw, err := a.model.Complete(ctx, detailsSystemPrompt, known.String())
	if err != nil {
		return nil, err
	}

	var parsed detailsResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, &shared.ModelError{Reason: "malformed details", Raw: raw, Err: err}
	}

	d := &models.Details{
		Composers:       trimNames(parsed.Composers),
		Producers:       trimNames(parsed.Producers),
		Lyricists:       trimNames(parsed.Lyricists),
		Studios:         trimNames(parsed.Studios),
		SubGenres:       normalizeTerms(parsed.SubGenres),
		Instrumentation: normalizeTerms(parsed.Instrumentation),
		Moods:           normalizeTerms(parsed.Mood.Moods),
		Atmosphere:      strings.TrimSpace(parsed.Mood.Atmosphere),
		Tempo:           strings.ToLower(strings.TrimSpace(parsed.Mood.Tempo)),
		Context:         strings.TrimSpace(parsed.Context),
		Confidence:      strings.TrimSpace(parsed.Confidence),
	}
	if d.Empty() {
		return nil, &shared.ModelError{Reason: "empty details", Raw: raw}
	}
	return d, nil
}

// trimNames trims and de-duplicates proper names, keeping their case.
func trimNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
