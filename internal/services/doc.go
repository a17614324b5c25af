// Package services implements the HTTP clients a playlist build depends on.
//
// # Spotify
//
// [SpotifyService] implements [MusicService] and [OAuthService]. It uses [oauth2] for the
// authorization code flow; the [oauth2.Transport] refreshes expired access tokens with the stored
// refresh token, and [SpotifyService.Token] exposes the refreshed token so callers can persist it.
//
// # Lyrics
//
// [LyricsOVH] and [Musixmatch] implement [LyricsProvider]. [ChainLyrics] tries them in order,
// retrying each with [CleanTitle] and passing hits through [CleanLyrics]. Both providers are paced
// with a [rate.Limiter].
//
// # Language models
//
// [OpenAIClient] (chat completions) and [OllamaClient] (/api/chat) implement [ChatModel] and always
// request JSON output. [NewChatModel] picks one from [shared.LLMConfig].
//
// # Last.fm
//
// [LastFM] implements [TagService] with track.getTopTags.
//
// # Error Handling
//
// Every client retries network errors, 429 and 5xx responses with exponential backoff, honoring
// Retry-After. Responses that still fail are mapped to the typed errors in the shared package:
//   - 401/403 : [shared.AuthError]
//   - 404 : [shared.NotFoundError]
//   - 429 : [shared.RateLimitError]
//   - unusable model output : [shared.ModelError]
package services
