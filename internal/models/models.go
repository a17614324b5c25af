package models

import (
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for persisted journal entities.
type Model interface {
	ID() string
	CreatedAt() time.Time
	Validate() error
}

// AudioFeatures are Spotify's numeric descriptors. Ratios are in [0, 1], tempo in BPM and loudness in dB.
type AudioFeatures struct {
	Tempo            float64 `json:"tempo"`
	Energy           float64 `json:"energy"`
	Valence          float64 `json:"valence"`
	Danceability     float64 `json:"danceability"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Speechiness      float64 `json:"speechiness"`
	Liveness         float64 `json:"liveness"`
	Loudness         float64 `json:"loudness"`
	Key              int     `json:"key"`
	Mode             int     `json:"mode"`
}

// Insights summarize a track's lyrics.
type Insights struct {
	Themes   []string `json:"themes,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Mood     string   `json:"mood,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

func (i *Insights) Empty() bool {
	return i == nil || (len(i.Themes) == 0 && len(i.Keywords) == 0 && i.Mood == "" && i.Summary == "")
}

// Details are production credits and stylistic descriptors recalled by a language model.
// They are unverified and only ever used as ranking context.
type Details struct {
	Composers       []string `json:"composers,omitempty"`
	Producers       []string `json:"producers,omitempty"`
	Lyricists       []string `json:"lyricists,omitempty"`
	Studios         []string `json:"recording_studios,omitempty"`
	SubGenres       []string `json:"sub_genres,omitempty"`
	Instrumentation []string `json:"instrumentation,omitempty"`
	Moods           []string `json:"moods,omitempty"`
	Atmosphere      string   `json:"atmosphere,omitempty"`
	Tempo           string   `json:"tempo,omitempty"`
	Context         string   `json:"context,omitempty"`
	Confidence      string   `json:"confidence,omitempty"`
}

func (d *Details) Empty() bool {
	return d == nil || (len(d.Composers) == 0 && len(d.Producers) == 0 && len(d.Lyricists) == 0 &&
		len(d.Studios) == 0 && len(d.SubGenres) == 0 && len(d.Instrumentation) == 0 && len(d.Moods) == 0 &&
		d.Atmosphere == "" && d.Tempo == "" && d.Context == "")
}

// Track is a liked song. Optional enrichment fields stay nil or empty when a lookup found nothing.
type Track struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Artists     []string       `json:"artists"`
	ArtistIDs   []string       `json:"artist_ids,omitempty"`
	Album       string         `json:"album"`
	AlbumID     string         `json:"album_id,omitempty"`
	Label       string         `json:"label,omitempty"`
	ReleaseDate string         `json:"release_date,omitempty"`
	Duration    int            `json:"duration"` // seconds
	ISRC        string         `json:"isrc,omitempty"`
	Popularity  int            `json:"popularity"`
	AddedAt     time.Time      `json:"added_at,omitzero"`
	Genres      []string       `json:"genres,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Features    *AudioFeatures `json:"features,omitempty"`
	Lyrics      string         `json:"lyrics,omitempty"`
	Insights    *Insights      `json:"insights,omitempty"`
	Details     *Details       `json:"details,omitempty"`
}

// Artist returns the primary artist.
func (t Track) Artist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// URI is the spotify:track URI used by the playlist endpoints.
func (t Track) URI() string {
	return "spotify:track:" + t.ID
}

// Clone returns a deep copy so enrichment never mutates the caller's value.
func (t Track) Clone() Track {
	c := t
	c.Artists = append([]string(nil), t.Artists...)
	c.ArtistIDs = append([]string(nil), t.ArtistIDs...)
	c.Genres = append([]string(nil), t.Genres...)
	c.Tags = append([]string(nil), t.Tags...)
	if t.Features != nil {
		f := *t.Features
		c.Features = &f
	}
	if t.Insights != nil {
		in := *t.Insights
		in.Themes = append([]string(nil), t.Insights.Themes...)
		in.Keywords = append([]string(nil), t.Insights.Keywords...)
		c.Insights = &in
	}
	if t.Details != nil {
		d := *t.Details
		d.Composers = append([]string(nil), t.Details.Composers...)
		d.Producers = append([]string(nil), t.Details.Producers...)
		d.Lyricists = append([]string(nil), t.Details.Lyricists...)
		d.Studios = append([]string(nil), t.Details.Studios...)
		d.SubGenres = append([]string(nil), t.Details.SubGenres...)
		d.Instrumentation = append([]string(nil), t.Details.Instrumentation...)
		d.Moods = append([]string(nil), t.Details.Moods...)
		c.Details = &d
	}
	return c
}

// Enrichment lists which optional signals a track carries.
func (t Track) Enrichment() []string {
	var have []string
	if t.Lyrics != "" {
		have = append(have, "lyrics")
	}
	if t.Features != nil {
		have = append(have, "features")
	}
	if len(t.Genres) > 0 {
		have = append(have, "genres")
	}
	if t.Label != "" {
		have = append(have, "label")
	}
	if len(t.Tags) > 0 {
		have = append(have, "tags")
	}
	if !t.Insights.Empty() {
		have = append(have, "insights")
	}
	if !t.Details.Empty() {
		have = append(have, "details")
	}
	return have
}

func (t Track) String() string {
	return fmt.Sprintf("%s - %s", strings.Join(t.Artists, ", "), t.Title)
}

// Pick is one ranked track and the justification for including it.
type Pick struct {
	TrackID string `json:"id"`
	Reason  string `json:"reason,omitempty"`
}

// Selection is the ordered output of a ranker.
type Selection struct {
	Ranker string `json:"ranker"`
	Picks  []Pick `json:"tracks"`
}

// IDs returns the selected ids in rank order.
func (s Selection) IDs() []string {
	ids := make([]string, len(s.Picks))
	for i, p := range s.Picks {
		ids[i] = p.TrackID
	}
	return ids
}

// Playlist is the remote playlist a run creates or replaces.
type Playlist struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Public      bool     `json:"public"`
	TrackIDs    []string `json:"track_ids"`
	URL         string   `json:"url,omitempty"`
}

// Suggestion is a song from outside the liked library proposed by a discovery source.
type Suggestion struct {
	Title   string   `json:"title"`
	Artist  string   `json:"artist"`
	Source  string   `json:"source"`
	Reason  string   `json:"reason,omitempty"`
	Match   float64  `json:"match,omitempty"`
	Seeds   []string `json:"seeds,omitempty"` // liked track ids that led to this suggestion
	TrackID string   `json:"track_id,omitempty"`
	URL     string   `json:"url,omitempty"`
}

func (s Suggestion) String() string {
	return fmt.Sprintf("%s - %s", s.Artist, s.Title)
}

// PlaylistSummary is a user's existing playlist as listed by the streaming API.
type PlaylistSummary struct {
	ID         string
	Name       string
	OwnerID    string
	TrackCount int
	Public     bool
}

// User is the authenticated streaming account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Country     string `json:"country,omitempty"`
	Product     string `json:"product,omitempty"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the journal record for one build.
type Run struct {
	RunID         string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        RunStatus  `json:"status"`
	Ranker        string     `json:"ranker"`
	Prompt        string     `json:"prompt,omitempty"`
	PlaylistID    string     `json:"playlist_id,omitempty"`
	PlaylistName  string     `json:"playlist_name"`
	DryRun        bool       `json:"dry_run"`
	LikedCount    int        `json:"liked_count"`
	SelectedCount int        `json:"selected_count"`
	Error         string     `json:"error,omitempty"`
	Tracks        []RunTrack `json:"tracks,omitempty"`
}

func (r *Run) ID() string           { return r.RunID }
func (r *Run) CreatedAt() time.Time { return r.StartedAt }

func (r *Run) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("run start time is required")
	}
	switch r.Status {
	case RunRunning, RunSucceeded, RunFailed:
	default:
		return fmt.Errorf("invalid run status %q", r.Status)
	}
	return nil
}

// Duration is the elapsed time of a finished run, or zero.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunTrack is a selected track stored with its playlist position.
type RunTrack struct {
	Position int    `json:"position"`
	TrackID  string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Reason   string `json:"reason,omitempty"`
}
