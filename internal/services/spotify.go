// Spotify Web API implementation of [MusicService]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	spotifyPageSize  = 50
	spotifyItemBatch = 100
)

var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-library-read",
	"playlist-read-private",
	"playlist-modify-public",
	"playlist-modify-private",
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	ExternalIDs externalIDs     `json:"external_ids"`
	Popularity  int             `json:"popularity"`
	IsLocal     bool            `json:"is_local"`
	URI         string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist. Genres are only present on the full artist object.
type SpotifyArtist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
}

// SpotifyAlbum represents a Spotify album. Label is only present on the full album object.
type SpotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	ReleaseDate string `json:"release_date"`
}

// SpotifyAudioFeatures is the response of /audio-features/{id}.
type SpotifyAudioFeatures struct {
	ID               string  `json:"id"`
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

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items  []SpotifySavedTrack `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
	Next   *string             `json:"next"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Owner        Owner               `json:"owner"`
	Public       bool                `json:"public"`
	Tracks       simplePlaylistTrack `json:"tracks"`
	ExternalURLs externalURLs        `json:"external_urls"`
}

// SpotifyPaginatedPlaylists represents a paginated response of playlists.
type SpotifyPaginatedPlaylists struct {
	Items  []SpotifySimplePlaylist `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
	Next   *string                 `json:"next"`
}

type playlistDetails struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

type playlistItems struct {
	URIs []string `json:"uris"`
}

type snapshot struct {
	SnapshotID string `json:"snapshot_id"`
}

// SpotifyService implements [MusicService] and [OAuthService] against the Spotify Web API.
// Uses [oauth2] for authentication with automatic token refresh.
type SpotifyService struct {
	config  *oauth2.Config
	baseURL string
	opts    HTTPOptions

	mu     sync.Mutex
	source oauth2.TokenSource
	http   *requester
}

// NewSpotifyService creates a new Spotify service from the configured app credentials.
func NewSpotifyService(cfg shared.SpotifyConfig, opts HTTPOptions) (*SpotifyService, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:  config,
		baseURL: spotifyBaseURL,
		opts:    opts,
		http:    newRequester("spotify", opts),
	}, nil
}

// WithBaseURL points the service at a different API root.
func (s *SpotifyService) WithBaseURL(baseURL string) *SpotifyService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("show_dialog", "false"))
}

// GetOAuthConfig exposes the [oauth2.Config] so the callback handler can exchange codes.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

// OAuthenticate installs token. Expired access tokens are refreshed transparently when a refresh token is present.
func (s *SpotifyService) OAuthenticate(ctx context.Context, token *oauth2.Token) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return &shared.AuthError{Service: "spotify", Detail: "no token; run `crate auth login`"}
	}
	if token.RefreshToken == "" && !token.Expiry.IsZero() && time.Now().After(token.Expiry) {
		return &shared.AuthError{Service: "spotify", Err: shared.ErrNoRefreshToken, Detail: "token expired; run `crate auth login`"}
	}

	base := s.opts.httpClient()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	source := authErrorSource{s.config.TokenSource(ctx, token)}

	client := &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: base.Transport},
		Timeout:   base.Timeout,
	}

	opts := s.opts
	opts.Client = client

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	s.http = newRequester("spotify", opts)
	return nil
}

// Token returns the current, possibly refreshed, token for persisting.
func (s *SpotifyService) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()

	if source == nil {
		return nil, &shared.AuthError{Service: "spotify", Detail: "not authenticated"}
	}
	return source.Token()
}

// authErrorSource reports token failures as [shared.AuthError].
type authErrorSource struct {
	src oauth2.TokenSource
}

func (a authErrorSource) Token() (*oauth2.Token, error) {
	tok, err := a.src.Token()
	if err != nil {
		if authErr := tokenError("spotify", err); authErr != nil {
			return nil, authErr
		}
		return nil, &shared.AuthError{Service: "spotify", Detail: err.Error()}
	}
	return tok, nil
}

// doRequest performs an authenticated request against the API root.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body, result any, what string) error {
	s.mu.Lock()
	source, req := s.source, s.http
	s.mu.Unlock()

	if source == nil {
		return &shared.AuthError{Service: "spotify", Detail: "no token; run `crate auth login`"}
	}
	return req.doJSON(ctx, method, s.baseURL+endpoint, body, result, what, nil)
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, &user, "user"); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SpotifyService) CurrentUser(ctx context.Context) (*models.User, error) {
	u, err := s.UserProfile(ctx)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Country:     u.Country,
		Product:     u.Product,
	}, nil
}

// SavedTracks retrieves one page of the user's saved tracks.
func (s *SpotifyService) SavedTracks(ctx context.Context, limit, offset int) (*SpotifyPaginatedTracks, error) {
	if limit <= 0 || limit > spotifyPageSize {
		limit = spotifyPageSize
	}

	endpoint := fmt.Sprintf("/me/tracks?limit=%d&offset=%d", limit, offset)

	var response SpotifyPaginatedTracks
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response, "saved tracks"); err != nil {
		return nil, err
	}
	return &response, nil
}

// LikedTracks pages through /me/tracks until there is no next page or max tracks were collected.
// Local files and removed tracks are skipped.
func (s *SpotifyService) LikedTracks(ctx context.Context, max int) ([]models.Track, error) {
	var tracks []models.Track
	offset := 0

	for {
		limit := spotifyPageSize
		if max > 0 && max-len(tracks) < limit {
			limit = max - len(tracks)
		}

		page, err := s.SavedTracks(ctx, limit, offset)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track == nil || item.Track.ID == "" || item.Track.IsLocal {
				continue
			}
			track := toTrack(*item.Track)
			if added, err := time.Parse(time.RFC3339, item.AddedAt); err == nil {
				track.AddedAt = added
			}
			tracks = append(tracks, track)
		}

		if page.Next == nil || len(page.Items) == 0 || (max > 0 && len(tracks) >= max) {
			break
		}
		offset += len(page.Items)
	}

	if max > 0 && len(tracks) > max {
		tracks = tracks[:max]
	}
	return tracks, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, trackID string) (*models.Track, error) {
	var track SpotifyTrack
	endpoint := "/tracks/" + url.PathEscape(trackID)
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &track, "track "+trackID); err != nil {
		return nil, err
	}
	t := toTrack(track)
	return &t, nil
}

// AudioFeatures retrieves the feature vector for a track.
//
// Spotify restricts this endpoint for newer applications with a 403, which is reported as
// [shared.NotFoundError] so the track degrades instead of halting the run.
func (s *SpotifyService) AudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error) {
	var f SpotifyAudioFeatures
	endpoint := "/audio-features/" + url.PathEscape(trackID)
	err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &f, "audio features")
	if err != nil {
		var authErr *shared.AuthError
		if errors.As(err, &authErr) && authErr.Status == http.StatusForbidden {
			return nil, &shared.NotFoundError{Service: "spotify", What: "audio features (endpoint restricted)"}
		}
		return nil, err
	}

	if f.ID == "" && f.Tempo == 0 && f.Energy == 0 && f.Valence == 0 && f.Danceability == 0 {
		return nil, &shared.NotFoundError{Service: "spotify", What: "audio features"}
	}

	return &models.AudioFeatures{
		Tempo:            f.Tempo,
		Energy:           f.Energy,
		Valence:          f.Valence,
		Danceability:     f.Danceability,
		Acousticness:     f.Acousticness,
		Instrumentalness: f.Instrumentalness,
		Speechiness:      f.Speechiness,
		Liveness:         f.Liveness,
		Loudness:         f.Loudness,
		Key:              f.Key,
		Mode:             f.Mode,
	}, nil
}

// Artist retrieves a full artist object by ID.
func (s *SpotifyService) Artist(ctx context.Context, artistID string) (*SpotifyArtist, error) {
	var artist SpotifyArtist
	endpoint := "/artists/" + url.PathEscape(artistID)
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &artist, "artist"); err != nil {
		return nil, err
	}
	return &artist, nil
}

func (s *SpotifyService) ArtistGenres(ctx context.Context, artistID string) ([]string, error) {
	artist, err := s.Artist(ctx, artistID)
	if err != nil {
		return nil, err
	}
	if len(artist.Genres) == 0 {
		return nil, &shared.NotFoundError{Service: "spotify", What: "artist genres"}
	}
	return artist.Genres, nil
}

// Album retrieves a full album object by ID.
func (s *SpotifyService) Album(ctx context.Context, albumID string) (*SpotifyAlbum, error) {
	var album SpotifyAlbum
	endpoint := "/albums/" + url.PathEscape(albumID)
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &album, "album"); err != nil {
		return nil, err
	}
	return &album, nil
}

func (s *SpotifyService) AlbumLabel(ctx context.Context, albumID string) (string, error) {
	album, err := s.Album(ctx, albumID)
	if err != nil {
		return "", err
	}
	if album.Label == "" {
		return "", &shared.NotFoundError{Service: "spotify", What: "album label"}
	}
	return album.Label, nil
}

// UserPlaylists retrieves one page of the current user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context, limit, offset int) (*SpotifyPaginatedPlaylists, error) {
	if limit <= 0 || limit > spotifyPageSize {
		limit = spotifyPageSize
	}

	endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", limit, offset)

	var response SpotifyPaginatedPlaylists
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response, "playlists"); err != nil {
		return nil, err
	}
	return &response, nil
}

// FindPlaylist pages through the user's playlists for one owned by userID named name.
// Names compare case-insensitively; the first match wins.
func (s *SpotifyService) FindPlaylist(ctx context.Context, userID, name string) (*models.PlaylistSummary, error) {
	offset := 0
	for {
		page, err := s.UserPlaylists(ctx, spotifyPageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, p := range page.Items {
			if p.Owner.ID == userID && strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
				return &models.PlaylistSummary{
					ID:         p.ID,
					Name:       p.Name,
					OwnerID:    p.Owner.ID,
					TrackCount: p.Tracks.Total,
					Public:     p.Public,
				}, nil
			}
		}

		if page.Next == nil || len(page.Items) == 0 {
			return nil, nil
		}
		offset += len(page.Items)
	}
}

// CreatePlaylist creates an empty playlist for userID.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, userID string, p models.Playlist) (*models.Playlist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(userID))
	body := playlistDetails{Name: p.Name, Description: p.Description, Public: p.Public}

	var created SpotifySimplePlaylist
	if err := s.doRequest(ctx, http.MethodPost, endpoint, body, &created, "user"); err != nil {
		return nil, err
	}

	p.ID = created.ID
	p.URL = created.ExternalURLs.Spotify
	return &p, nil
}

func (s *SpotifyService) UpdatePlaylistDetails(ctx context.Context, p models.Playlist) error {
	endpoint := "/playlists/" + url.PathEscape(p.ID)
	body := playlistDetails{Description: p.Description, Public: p.Public}
	return s.doRequest(ctx, http.MethodPut, endpoint, body, nil, "playlist")
}

// ReplacePlaylistItems replaces the playlist contents with trackIDs in order.
//
// The first batch of 100 replaces via PUT, which also clears the playlist when trackIDs is empty;
// later batches are appended with POST.
func (s *SpotifyService) ReplacePlaylistItems(ctx context.Context, playlistID string, trackIDs []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	uris := make([]string, len(trackIDs))
	for i, id := range trackIDs {
		uris[i] = "spotify:track:" + id
	}

	first := uris[:min(len(uris), spotifyItemBatch)]
	if err := s.doRequest(ctx, http.MethodPut, endpoint, playlistItems{URIs: first}, &snapshot{}, "playlist"); err != nil {
		return fmt.Errorf("replace playlist items: %w", err)
	}

	for start := spotifyItemBatch; start < len(uris); start += spotifyItemBatch {
		batch := uris[start:min(len(uris), start+spotifyItemBatch)]
		if err := s.doRequest(ctx, http.MethodPost, endpoint, playlistItems{URIs: batch}, &snapshot{}, "playlist"); err != nil {
			return fmt.Errorf("add playlist items at %d: %w", start, err)
		}
	}
	return nil
}

type searchResults struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
	} `json:"tracks"`
}

// SearchTrack returns the top catalog result for a field-filtered track and artist query.
func (s *SpotifyService) SearchTrack(ctx context.Context, artist, title string) (*models.Track, error) {
	query := "track:" + strings.TrimSpace(title)
	if artist = strings.TrimSpace(artist); artist != "" {
		query += " artist:" + artist
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", "1")

	var results searchResults
	if err := s.doRequest(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &results, "search results"); err != nil {
		return nil, err
	}
	if len(results.Tracks.Items) == 0 || results.Tracks.Items[0].ID == "" {
		return nil, &shared.NotFoundError{Service: "spotify", What: fmt.Sprintf("track %q by %q", title, artist)}
	}

	t := toTrack(results.Tracks.Items[0])
	return &t, nil
}

func toTrack(st SpotifyTrack) models.Track {
	track := models.Track{
		ID:          st.ID,
		Title:       st.Name,
		Album:       st.Album.Name,
		AlbumID:     st.Album.ID,
		ReleaseDate: st.Album.ReleaseDate,
		Duration:    st.DurationMS / 1000,
		ISRC:        st.ExternalIDs.ISRC,
		Popularity:  st.Popularity,
	}
	for _, a := range st.Artists {
		track.Artists = append(track.Artists, a.Name)
		track.ArtistIDs = append(track.ArtistIDs, a.ID)
	}
	return track
}
