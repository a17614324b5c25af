// package testing contains shared test doubles and helpers
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

var (
	_ services.MusicService   = (*FakeMusic)(nil)
	_ services.LyricsProvider = (*FakeLyrics)(nil)
	_ services.TagService     = (*FakeTags)(nil)
	_ services.ChatModel      = (*FakeChat)(nil)
)

// Call records one invocation of a fake.
type Call struct {
	Method string
	Args   []string
}

// FakeMusic is an in-memory [services.MusicService].
//
// Lookups keyed by id return the zero value and a [shared.NotFoundError] when no entry exists.
// Setting an entry in Errs makes the named method fail, e.g. Errs["AudioFeatures"].
type FakeMusic struct {
	mu sync.Mutex

	User      models.User
	Liked     []models.Track
	Features  map[string]*models.AudioFeatures
	Genres    map[string][]string
	Labels    map[string]string
	Playlists []models.PlaylistSummary
	Catalog   []models.Track // searchable beyond Liked
	Errs      map[string]error

	Calls   []Call
	Items   map[string][]string
	Details []models.Playlist
	nextID  int
}

func NewFakeMusic(liked ...models.Track) *FakeMusic {
	return &FakeMusic{
		User:     models.User{ID: "user1", DisplayName: "Test User"},
		Liked:    liked,
		Features: map[string]*models.AudioFeatures{},
		Genres:   map[string][]string{},
		Labels:   map[string]string{},
		Errs:     map[string]error{},
		Items:    map[string][]string{},
	}
}

func (f *FakeMusic) record(method string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: method, Args: args})
	return f.Errs[method]
}

// Called counts invocations of method.
func (f *FakeMusic) Called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *FakeMusic) CurrentUser(ctx context.Context) (*models.User, error) {
	if err := f.record("CurrentUser"); err != nil {
		return nil, err
	}
	u := f.User
	return &u, nil
}

func (f *FakeMusic) LikedTracks(ctx context.Context, max int) ([]models.Track, error) {
	if err := f.record("LikedTracks", fmt.Sprint(max)); err != nil {
		return nil, err
	}
	tracks := make([]models.Track, 0, len(f.Liked))
	for _, t := range f.Liked {
		if max > 0 && len(tracks) == max {
			break
		}
		tracks = append(tracks, t.Clone())
	}
	return tracks, nil
}

func (f *FakeMusic) Track(ctx context.Context, trackID string) (*models.Track, error) {
	if err := f.record("Track", trackID); err != nil {
		return nil, err
	}
	for _, t := range f.Liked {
		if t.ID == trackID {
			c := t.Clone()
			return &c, nil
		}
	}
	return nil, &shared.NotFoundError{Service: "fake", What: "track"}
}

func (f *FakeMusic) AudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error) {
	if err := f.record("AudioFeatures", trackID); err != nil {
		return nil, err
	}
	if feat, ok := f.Features[trackID]; ok {
		c := *feat
		return &c, nil
	}
	return nil, &shared.NotFoundError{Service: "fake", What: "audio features"}
}

func (f *FakeMusic) ArtistGenres(ctx context.Context, artistID string) ([]string, error) {
	if err := f.record("ArtistGenres", artistID); err != nil {
		return nil, err
	}
	if genres, ok := f.Genres[artistID]; ok {
		return append([]string(nil), genres...), nil
	}
	return nil, &shared.NotFoundError{Service: "fake", What: "genres"}
}

func (f *FakeMusic) AlbumLabel(ctx context.Context, albumID string) (string, error) {
	if err := f.record("AlbumLabel", albumID); err != nil {
		return "", err
	}
	if label, ok := f.Labels[albumID]; ok {
		return label, nil
	}
	return "", &shared.NotFoundError{Service: "fake", What: "label"}
}

func (f *FakeMusic) FindPlaylist(ctx context.Context, userID, name string) (*models.PlaylistSummary, error) {
	if err := f.record("FindPlaylist", userID, name); err != nil {
		return nil, err
	}
	for _, p := range f.Playlists {
		if p.OwnerID == userID && strings.EqualFold(p.Name, name) {
			c := p
			return &c, nil
		}
	}
	return nil, nil
}

func (f *FakeMusic) CreatePlaylist(ctx context.Context, userID string, p models.Playlist) (*models.Playlist, error) {
	if err := f.record("CreatePlaylist", userID, p.Name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.nextID++
	p.ID = fmt.Sprintf("playlist%d", f.nextID)
	f.Playlists = append(f.Playlists, models.PlaylistSummary{ID: p.ID, Name: p.Name, OwnerID: userID, Public: p.Public})
	f.mu.Unlock()

	p.URL = "https://open.spotify.com/playlist/" + p.ID
	p.TrackIDs = nil
	return &p, nil
}

func (f *FakeMusic) UpdatePlaylistDetails(ctx context.Context, p models.Playlist) error {
	if err := f.record("UpdatePlaylistDetails", p.ID); err != nil {
		return err
	}
	f.mu.Lock()
	f.Details = append(f.Details, p)
	f.mu.Unlock()
	return nil
}

func (f *FakeMusic) ReplacePlaylistItems(ctx context.Context, playlistID string, trackIDs []string) error {
	if err := f.record("ReplacePlaylistItems", playlistID); err != nil {
		return err
	}
	f.mu.Lock()
	f.Items[playlistID] = append([]string(nil), trackIDs...)
	f.mu.Unlock()
	return nil
}

func (f *FakeMusic) SearchTrack(ctx context.Context, artist, title string) (*models.Track, error) {
	if err := f.record("SearchTrack", artist, title); err != nil {
		return nil, err
	}
	want := shared.NormalizeTrackKey(title, artist)
	for _, t := range append(append([]models.Track(nil), f.Catalog...), f.Liked...) {
		if shared.NormalizeTrackKey(t.Title, t.Artist()) == want {
			c := t.Clone()
			return &c, nil
		}
	}
	return nil, &shared.NotFoundError{Service: "fake", What: "search results"}
}

// FakeLyrics serves lyrics keyed by "artist|title". Err, when set, is returned for every lookup.
type FakeLyrics struct {
	Texts map[string]string
	Err   error
	Calls int
}

func (f *FakeLyrics) Name() string { return "fake-lyrics" }

func (f *FakeLyrics) Lyrics(ctx context.Context, artist, title string) (string, error) {
	f.Calls++
	if f.Err != nil {
		return "", f.Err
	}
	if text, ok := f.Texts[artist+"|"+title]; ok {
		return text, nil
	}
	return "", &shared.NotFoundError{Service: f.Name(), What: "lyrics"}
}

// FakeTags serves Last.fm-style tags and similar tracks keyed by "artist|title".
type FakeTags struct {
	Tags    map[string][]string
	Similar map[string][]models.Suggestion
	Err     error
}

func (f *FakeTags) TopTags(ctx context.Context, artist, title string) ([]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if tags, ok := f.Tags[artist+"|"+title]; ok {
		return tags, nil
	}
	return nil, &shared.NotFoundError{Service: "fake-tags", What: "tags"}
}

func (f *FakeTags) SimilarTracks(ctx context.Context, artist, title string, limit int) ([]models.Suggestion, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	similar, ok := f.Similar[artist+"|"+title]
	if !ok {
		return nil, &shared.NotFoundError{Service: "fake-tags", What: "similar tracks"}
	}
	if limit > 0 && len(similar) > limit {
		similar = similar[:limit]
	}
	return append([]models.Suggestion(nil), similar...), nil
}

// FakeChat replays Responses in order, then repeats the last one. Errors are paired by index.
type FakeChat struct {
	Responses []string
	Errs      []error

	Systems []string
	Users   []string
}

func (f *FakeChat) Name() string { return "fake-model" }

func (f *FakeChat) Complete(ctx context.Context, system, user string) (string, error) {
	i := len(f.Users)
	f.Systems = append(f.Systems, system)
	f.Users = append(f.Users, user)

	if i < len(f.Errs) && f.Errs[i] != nil {
		return "", f.Errs[i]
	}
	if len(f.Responses) == 0 {
		return "", &shared.ModelError{Reason: "no response configured"}
	}
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	return f.Responses[i], nil
}

// Calls is the number of completions requested.
func (f *FakeChat) Calls() int { return len(f.Users) }

// NewTrack builds a liked track with one artist and album derived from id.
func NewTrack(id, title, artist string) models.Track {
	return models.Track{
		ID:        id,
		Title:     title,
		Artists:   []string{artist},
		ArtistIDs: []string{"artist-" + id},
		Album:     title + " (album)",
		AlbumID:   "album-" + id,
		Duration:  200,
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
