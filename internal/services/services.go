package services

import (
	"context"

	"github.com/desertthunder/crate/internal/models"
	"golang.org/x/oauth2"
)

// MusicService is the streaming account a playlist is built from and published to.
type MusicService interface {
	// CurrentUser returns the authenticated account.
	CurrentUser(ctx context.Context) (*models.User, error)

	// LikedTracks pages through saved tracks, newest first, stopping after max (0 means all).
	LikedTracks(ctx context.Context, max int) ([]models.Track, error)

	// Track retrieves a single track by ID.
	Track(ctx context.Context, trackID string) (*models.Track, error)

	// AudioFeatures retrieves the feature vector for a track.
	AudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error)

	// ArtistGenres returns the genres attached to an artist.
	ArtistGenres(ctx context.Context, artistID string) ([]string, error)

	// AlbumLabel returns the record label of an album.
	AlbumLabel(ctx context.Context, albumID string) (string, error)

	// FindPlaylist returns the user's own playlist with the given name, or nil when there is none.
	FindPlaylist(ctx context.Context, userID, name string) (*models.PlaylistSummary, error)

	// CreatePlaylist creates an empty playlist owned by userID.
	CreatePlaylist(ctx context.Context, userID string, p models.Playlist) (*models.Playlist, error)

	// UpdatePlaylistDetails rewrites the description and visibility of an existing playlist.
	UpdatePlaylistDetails(ctx context.Context, p models.Playlist) error

	// ReplacePlaylistItems sets the playlist contents to trackIDs, in order.
	ReplacePlaylistItems(ctx context.Context, playlistID string, trackIDs []string) error

	// SearchTrack returns the best catalog match for artist and title, or a [shared.NotFoundError].
	SearchTrack(ctx context.Context, artist, title string) (*models.Track, error)
}

// OAuthService is implemented by services that authenticate with an authorization code flow.
type OAuthService interface {
	GetAuthURL(state string) string
	GetOAuthConfig() *oauth2.Config
	OAuthenticate(ctx context.Context, token *oauth2.Token) error
	Token() (*oauth2.Token, error)
}

// LyricsProvider looks up song lyrics. A miss is reported as [shared.NotFoundError].
type LyricsProvider interface {
	Name() string
	Lyrics(ctx context.Context, artist, title string) (string, error)
}

// ChatModel sends one system + user exchange and returns the assistant's raw content.
type ChatModel interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// TagService returns folksonomy tags and listener-based neighbors for a track.
type TagService interface {
	TopTags(ctx context.Context, artist, title string) ([]string, error)

	// SimilarTracks returns up to limit tracks similar to the seed, best match first, excluding the seed.
	SimilarTracks(ctx context.Context, artist, title string, limit int) ([]models.Suggestion, error)
}
