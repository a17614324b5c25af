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

// Lyrics beyond this many bytes are cut before analysis.
const maxLyricsBytes = 4000

const insightsSystemPrompt = `You analyze song lyrics. Respond with JSON only, in the form
{"themes":["..."],"keywords":["..."],"mood":"...","summary":"..."}
with 2-5 short lower-case themes, 3-8 lower-case keywords taken from or implied by the lyrics,
a one or two word mood and a one-sentence summary. Stay grounded in the text.`

// InsightAnalyzer extracts themes, keywords and mood from lyrics with a [services.ChatModel].
type InsightAnalyzer struct {
	model services.ChatModel
}

func NewInsightAnalyzer(model services.ChatModel) *InsightAnalyzer {
	return &InsightAnalyzer{model: model}
}

// Analyze returns insights for a track that has lyrics. Unusable output is a [shared.ModelError].
func (a *InsightAnalyzer) Analyze(ctx context.Context, t models.Track) (*models.Insights, error) {
	lyrics := strings.TrimSpace(t.Lyrics)
	if lyrics == "" {
		return nil, &shared.NotFoundError{Service: "insights", What: "lyrics"}
	}
	if len(lyrics) > maxLyricsBytes {
		lyrics = strings.ToValidUTF8(lyrics[:maxLyricsBytes], "")
	}

	user := fmt.Sprintf("Song: %q by %s\n\nLyrics:\n%s", t.Title, t.Artist(), lyrics)
	raw, err := a.model.Complete(ctx, insightsSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var parsed models.Insights
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, &shared.ModelError{Reason: "malformed insights", Raw: raw, Err: err}
	}

	parsed.Themes = normalizeTerms(parsed.Themes)
	parsed.Keywords = normalizeTerms(parsed.Keywords)
	parsed.Mood = strings.ToLower(strings.TrimSpace(parsed.Mood))
	parsed.Summary = strings.TrimSpace(parsed.Summary)
	if parsed.Empty() {
		return nil, &shared.ModelError{Reason: "empty insights", Raw: raw}
	}
	return &parsed, nil
}

// normalizeTerms lower-cases, trims and de-duplicates terms, keeping first occurrences.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
