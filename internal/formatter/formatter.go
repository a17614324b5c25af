// package formatter renders build results, discoveries, tracks and journaled runs as text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
)

// Format names an output encoding accepted by --format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ParseFormat validates s. An empty string selects [FormatText].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatMarkdown, FormatCSV, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (text, markdown, csv, json)", shared.ErrInvalidArgument, s)
	}
}

// selectionJSON is the --format json shape of a build.
type selectionJSON struct {
	RunID      string         `json:"run_id,omitempty"`
	Ranker     string         `json:"ranker"`
	Published  bool           `json:"published"`
	LikedCount int            `json:"liked_count"`
	Duplicates int            `json:"duplicates"`
	Playlist   *playlistJSON  `json:"playlist,omitempty"`
	Tracks     []selectedJSON `json:"tracks"`
}

type playlistJSON struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`
	URL         string `json:"url,omitempty"`
}

type selectedJSON struct {
	Position int      `json:"position"`
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album,omitempty"`
	Duration int      `json:"duration"`
	Reason   string   `json:"reason,omitempty"`
}

// RenderSelection encodes the selected tracks of res in format.
func RenderSelection(res *tasks.BuildResult, format Format) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no build result", shared.ErrInvalidInput)
	}

	switch format {
	case FormatText, "":
		return SelectionToText(res), nil
	case FormatMarkdown:
		return SelectionToMarkdown(res), nil
	case FormatCSV:
		return SelectionToCSV(res)
	case FormatJSON:
		return SelectionToJSON(res)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// SelectionToText lists the selection with reasons indented under each track.
func SelectionToText(res *tasks.BuildResult) []byte {
	var buf bytes.Buffer

	if res.Playlist != nil {
		buf.WriteString(fmt.Sprintf("Playlist: %s\n", res.Playlist.Name))
		if res.Playlist.Description != "" {
			buf.WriteString(fmt.Sprintf("Description: %s\n", res.Playlist.Description))
		}
	}
	buf.WriteString(fmt.Sprintf("Ranker: %s\n", res.Selection.Ranker))
	buf.WriteString(fmt.Sprintf("Tracks: %d of %d liked (%s)\n", len(res.Selected), len(res.Tracks), FormatDuration(totalDuration(res.Selected))))
	buf.WriteString(fmt.Sprintf("Status: %s\n\n", status(res)))

	reasons := reasonsByID(res.Selection)
	for i, t := range res.Selected {
		buf.WriteString(fmt.Sprintf("%2d. %s - %s [%s]\n", i+1, t.Artist(), t.Title, FormatDuration(t.Duration)))
		if r := reasons[t.ID]; r != "" {
			buf.WriteString(fmt.Sprintf("    %s\n", r))
		}
	}

	return buf.Bytes()
}

// SelectionToMarkdown renders the selection as a Markdown document with a numbered track list.
func SelectionToMarkdown(res *tasks.BuildResult) []byte {
	var buf bytes.Buffer

	name := "Selection"
	if res.Playlist != nil {
		name = res.Playlist.Name
	}
	buf.WriteString(fmt.Sprintf("# %s\n\n", name))

	if res.Playlist != nil {
		if res.Playlist.Description != "" {
			buf.WriteString(fmt.Sprintf("**Description**: %s\n\n", res.Playlist.Description))
		}
		if res.Playlist.URL != "" {
			buf.WriteString(fmt.Sprintf("**Link**: <%s>\n", res.Playlist.URL))
		}
		buf.WriteString(fmt.Sprintf("**Visibility**: %s\n", VisibilityString(res.Playlist.Public)))
	}
	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", len(res.Selected)))
	buf.WriteString(fmt.Sprintf("**Ranker**: %s\n\n", res.Selection.Ranker))

	buf.WriteString("## Tracks\n\n")
	reasons := reasonsByID(res.Selection)
	for i, t := range res.Selected {
		albumPart := ""
		if t.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", t.Album)
		}
		buf.WriteString(fmt.Sprintf("%d. %s - %s%s [%s]\n", i+1, t.Artist(), t.Title, albumPart, FormatDuration(t.Duration)))
		if r := reasons[t.ID]; r != "" {
			buf.WriteString(fmt.Sprintf("   - _%s_\n", r))
		}
	}

	return buf.Bytes()
}

// SelectionToCSV writes one row per selected track with columns: Position, ID, Title, Artist, Album, Duration, Reason
func SelectionToCSV(res *tasks.BuildResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Position", "ID", "Title", "Artist", "Album", "Duration", "Reason"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	reasons := reasonsByID(res.Selection)
	for i, t := range res.Selected {
		record := []string{
			strconv.Itoa(i + 1),
			t.ID,
			t.Title,
			strings.Join(t.Artists, "; "),
			t.Album,
			strconv.Itoa(t.Duration),
			reasons[t.ID],
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// SelectionToJSON encodes the selection with playlist metadata, indented.
func SelectionToJSON(res *tasks.BuildResult) ([]byte, error) {
	out := selectionJSON{
		Ranker:     res.Selection.Ranker,
		Published:  res.Published,
		LikedCount: len(res.Tracks),
		Duplicates: res.Duplicates,
		Tracks:     make([]selectedJSON, 0, len(res.Selected)),
	}
	if res.Run != nil {
		out.RunID = res.Run.RunID
	}
	if p := res.Playlist; p != nil {
		out.Playlist = &playlistJSON{ID: p.ID, Name: p.Name, Description: p.Description, Public: p.Public, URL: p.URL}
	}

	reasons := reasonsByID(res.Selection)
	for i, t := range res.Selected {
		out.Tracks = append(out.Tracks, selectedJSON{
			Position: i + 1,
			ID:       t.ID,
			Title:    t.Title,
			Artists:  t.Artists,
			Album:    t.Album,
			Duration: t.Duration,
			Reason:   reasons[t.ID],
		})
	}

	data, err := shared.MarshalJSON(out, true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal selection: %w", err)
	}
	return append(data, '\n'), nil
}

// TrackToText describes one enriched track, listing only the signals that were found.
func TrackToText(t models.Track) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("%s\n", t.String()))
	buf.WriteString(fmt.Sprintf("  ID:        %s\n", t.ID))
	if t.Album != "" {
		buf.WriteString(fmt.Sprintf("  Album:     %s\n", t.Album))
	}
	if t.ReleaseDate != "" {
		buf.WriteString(fmt.Sprintf("  Released:  %s\n", t.ReleaseDate))
	}
	if t.Label != "" {
		buf.WriteString(fmt.Sprintf("  Label:     %s\n", t.Label))
	}
	buf.WriteString(fmt.Sprintf("  Duration:  %s\n", FormatDuration(t.Duration)))
	if len(t.Genres) > 0 {
		buf.WriteString(fmt.Sprintf("  Genres:    %s\n", strings.Join(t.Genres, ", ")))
	}
	if len(t.Tags) > 0 {
		buf.WriteString(fmt.Sprintf("  Tags:      %s\n", strings.Join(t.Tags, ", ")))
	}
	if f := t.Features; f != nil {
		buf.WriteString(fmt.Sprintf("  Features:  energy %.2f, valence %.2f, danceability %.2f, acousticness %.2f, tempo %.0f\n",
			f.Energy, f.Valence, f.Danceability, f.Acousticness, f.Tempo))
	}
	if in := t.Insights; !in.Empty() {
		if len(in.Themes) > 0 {
			buf.WriteString(fmt.Sprintf("  Themes:    %s\n", strings.Join(in.Themes, ", ")))
		}
		if len(in.Keywords) > 0 {
			buf.WriteString(fmt.Sprintf("  Keywords:  %s\n", strings.Join(in.Keywords, ", ")))
		}
		if in.Mood != "" {
			buf.WriteString(fmt.Sprintf("  Mood:      %s\n", in.Mood))
		}
		if in.Summary != "" {
			buf.WriteString(fmt.Sprintf("  Summary:   %s\n", in.Summary))
		}
	}

	if d := t.Details; !d.Empty() {
		for _, row := range []struct {
			label  string
			values []string
		}{
			{"Composers:", d.Composers},
			{"Producers:", d.Producers},
			{"Lyricists:", d.Lyricists},
			{"Studios:", d.Studios},
			{"Styles:", d.SubGenres},
			{"Sound:", d.Instrumentation},
			{"Moods:", d.Moods},
		} {
			if len(row.values) > 0 {
				buf.WriteString(fmt.Sprintf("  %-10s %s\n", row.label, strings.Join(row.values, ", ")))
			}
		}
		if d.Atmosphere != "" || d.Tempo != "" {
			buf.WriteString(fmt.Sprintf("  %-10s %s\n", "Feel:", strings.Trim(d.Atmosphere+", "+d.Tempo, ", ")))
		}
		if d.Context != "" {
			buf.WriteString(fmt.Sprintf("  %-10s %s\n", "Context:", d.Context))
		}
	}

	if t.Lyrics != "" {
		lines := strings.Split(t.Lyrics, "\n")
		buf.WriteString(fmt.Sprintf("  Lyrics:    %d lines\n", len(lines)))
	} else {
		buf.WriteString("  Lyrics:    not found\n")
	}

	return buf.Bytes()
}

// RenderSuggestions encodes discovered songs in format.
func RenderSuggestions(res *tasks.DiscoverResult, format Format) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no discovery result", shared.ErrInvalidInput)
	}

	switch format {
	case FormatText, "":
		return SuggestionsToText(res), nil
	case FormatMarkdown:
		return SuggestionsToMarkdown(res), nil
	case FormatCSV:
		return SuggestionsToCSV(res.Suggestions)
	case FormatJSON:
		data, err := shared.MarshalJSON(discoveryJSON{Seeds: len(res.Seeds), Known: res.Known, Suggestions: nonNil(res.Suggestions)}, true)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal suggestions: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

type discoveryJSON struct {
	Seeds       int                 `json:"seeds"`
	Known       int                 `json:"already_liked"`
	Suggestions []models.Suggestion `json:"suggestions"`
}

func nonNil(s []models.Suggestion) []models.Suggestion {
	if s == nil {
		return []models.Suggestion{}
	}
	return s
}

// SuggestionsToText lists suggestions with their source and reason.
func SuggestionsToText(res *tasks.DiscoverResult) []byte {
	var buf bytes.Buffer

	if len(res.Suggestions) == 0 {
		buf.WriteString("No new tracks found.\n")
		return buf.Bytes()
	}

	buf.WriteString(fmt.Sprintf("Found %d new tracks", len(res.Suggestions)))
	if res.Known > 0 {
		buf.WriteString(fmt.Sprintf(" (%d already liked)", res.Known))
	}
	buf.WriteString(":\n\n")

	for i, s := range res.Suggestions {
		buf.WriteString(fmt.Sprintf("%2d. %s [%s]\n", i+1, s.String(), s.Source))
		if s.Reason != "" {
			buf.WriteString(fmt.Sprintf("    %s\n", s.Reason))
		}
		if s.URL != "" {
			buf.WriteString(fmt.Sprintf("    %s\n", s.URL))
		}
	}
	return buf.Bytes()
}

// SuggestionsToMarkdown renders suggestions as a numbered list, linking resolved tracks.
func SuggestionsToMarkdown(res *tasks.DiscoverResult) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Discoveries\n\n")
	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", len(res.Suggestions)))
	buf.WriteString(fmt.Sprintf("**Already liked**: %d\n\n", res.Known))

	for i, s := range res.Suggestions {
		name := s.String()
		if s.URL != "" {
			name = fmt.Sprintf("[%s](%s)", name, s.URL)
		}
		buf.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, name, s.Source))
		if s.Reason != "" {
			buf.WriteString(fmt.Sprintf("   - _%s_\n", s.Reason))
		}
	}
	return buf.Bytes()
}

// SuggestionsToCSV writes one row per suggestion with columns: Position, Title, Artist, Source, Match, TrackID, Reason
func SuggestionsToCSV(suggestions []models.Suggestion) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Position", "Title", "Artist", "Source", "Match", "TrackID", "Reason"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for i, s := range suggestions {
		record := []string{
			strconv.Itoa(i + 1),
			s.Title,
			s.Artist,
			s.Source,
			strconv.FormatFloat(s.Match, 'f', 2, 64),
			s.TrackID,
			s.Reason,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// TracksToText lists tracks one per line.
func TracksToText(tracks []models.Track) []byte {
	var buf bytes.Buffer
	for i, t := range tracks {
		buf.WriteString(fmt.Sprintf("%d. %s - %s [%s] (%s)\n", i+1, t.Artist(), t.Title, FormatDuration(t.Duration), t.ID))
	}
	return buf.Bytes()
}

// RunsToText renders journaled runs as an aligned table, newest first as given.
func RunsToText(runs []*models.Run) []byte {
	var buf bytes.Buffer
	if len(runs) == 0 {
		buf.WriteString("No runs recorded.\n")
		return buf.Bytes()
	}

	buf.WriteString(fmt.Sprintf("%-8s  %-16s  %-9s  %5s  %-20s  %s\n", "RUN", "STARTED", "STATUS", "PICKS", "RANKER", "PLAYLIST"))
	for _, r := range runs {
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		name := r.PlaylistName
		if r.DryRun {
			name += " (dry run)"
		}
		buf.WriteString(fmt.Sprintf("%-8s  %-16s  %-9s  %5d  %-20s  %s\n",
			id, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.SelectedCount, truncate(r.Ranker, 20), name))
	}
	return buf.Bytes()
}

// RunToText describes one run including its stored tracks.
func RunToText(r *models.Run) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Run:       %s\n", r.RunID))
	buf.WriteString(fmt.Sprintf("Status:    %s\n", r.Status))
	buf.WriteString(fmt.Sprintf("Started:   %s\n", r.StartedAt.Local().Format(time.RFC3339)))
	if r.FinishedAt != nil {
		buf.WriteString(fmt.Sprintf("Duration:  %s\n", r.Duration().Round(time.Second)))
	}
	buf.WriteString(fmt.Sprintf("Ranker:    %s\n", r.Ranker))
	if r.Prompt != "" {
		buf.WriteString(fmt.Sprintf("Prompt:    %s\n", r.Prompt))
	}
	buf.WriteString(fmt.Sprintf("Playlist:  %s", r.PlaylistName))
	if r.PlaylistID != "" {
		buf.WriteString(fmt.Sprintf(" (%s)", r.PlaylistID))
	}
	if r.DryRun {
		buf.WriteString(" [dry run]")
	}
	buf.WriteString("\n")
	buf.WriteString(fmt.Sprintf("Liked:     %d\n", r.LikedCount))
	buf.WriteString(fmt.Sprintf("Selected:  %d\n", r.SelectedCount))
	if r.Error != "" {
		buf.WriteString(fmt.Sprintf("Error:     %s\n", r.Error))
	}

	if len(r.Tracks) > 0 {
		buf.WriteString("\n")
		for _, t := range r.Tracks {
			buf.WriteString(fmt.Sprintf("%2d. %s - %s\n", t.Position, t.Artist, t.Title))
			if t.Reason != "" {
				buf.WriteString(fmt.Sprintf("    %s\n", t.Reason))
			}
		}
	}

	return buf.Bytes()
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("%w: output path is required", shared.ErrMissingArgument)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FormatDuration renders seconds as m:ss, or h:mm:ss past an hour.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// VisibilityString returns "Public" or "Private".
func VisibilityString(public bool) string {
	if public {
		return "Public"
	}
	return "Private"
}

func status(res *tasks.BuildResult) string {
	switch {
	case res.Published && res.Playlist != nil && res.Playlist.URL != "":
		return "published " + res.Playlist.URL
	case res.Published:
		return "published"
	default:
		return "not published (dry run)"
	}
}

func reasonsByID(sel models.Selection) map[string]string {
	reasons := make(map[string]string, len(sel.Picks))
	for _, p := range sel.Picks {
		reasons[p.TrackID] = p.Reason
	}
	return reasons
}

func totalDuration(tracks []models.Track) int {
	total := 0
	for _, t := range tracks {
		total += t.Duration
	}
	return total
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
