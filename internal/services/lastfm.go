package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	lastFMBaseURL = "https://ws.audioscrobbler.com/2.0/"

	// Tags below this weight are mostly noise ("seen live", usernames).
	lastFMMinTagCount = 10
	lastFMMaxTags     = 8

	lastFMDefaultSimilar = 10
)

// Last.fm error codes, see https://www.last.fm/api/errorcodes
const (
	lastFMInvalidParams = 6
	lastFMInvalidKey    = 10
	lastFMSuspendedKey  = 26
	lastFMRateLimited   = 29
)

// LastFM fetches top tags and similar tracks.
type LastFM struct {
	apiKey  string
	baseURL string
	http    *requester
}

func NewLastFM(apiKey string, opts HTTPOptions, rps float64) *LastFM {
	return &LastFM{
		apiKey:  apiKey,
		baseURL: lastFMBaseURL,
		http:    newRequester("last.fm", opts).withLimit(rps),
	}
}

func (l *LastFM) WithBaseURL(baseURL string) *LastFM {
	l.baseURL = baseURL
	return l
}

// lastFMStatus is the error envelope Last.fm embeds in every response.
type lastFMStatus struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

type lastFMTags struct {
	lastFMStatus
	TopTags struct {
		Tag []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"tag"`
	} `json:"toptags"`
}

type lastFMSimilar struct {
	lastFMStatus
	SimilarTracks struct {
		Track []struct {
			Name   string      `json:"name"`
			Match  lastFMFloat `json:"match"`
			Artist struct {
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"track"`
	} `json:"similartracks"`
}

// lastFMFloat accepts numbers that Last.fm sometimes sends as strings.
type lastFMFloat float64

func (f *lastFMFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = lastFMFloat(v)
	return nil
}

// TopTags returns up to eight lower-cased tags, retrying once with [CleanTitle] when the raw title is unknown.
func (l *LastFM) TopTags(ctx context.Context, artist, title string) ([]string, error) {
	tags, err := l.topTags(ctx, artist, title)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return tags, err
	}

	if cleaned := CleanTitle(title); cleaned != title {
		return l.topTags(ctx, artist, cleaned)
	}
	return nil, err
}

func (l *LastFM) topTags(ctx context.Context, artist, title string) ([]string, error) {
	var response lastFMTags
	if err := l.get(ctx, "track.gettoptags", artist, title, nil, &response, &response.lastFMStatus); err != nil {
		return nil, err
	}

	var tags []string
	for _, t := range response.TopTags.Tag {
		if t.Count < lastFMMinTagCount {
			continue
		}
		tags = append(tags, strings.ToLower(strings.TrimSpace(t.Name)))
		if len(tags) == lastFMMaxTags {
			break
		}
	}

	if len(tags) == 0 {
		return nil, &shared.NotFoundError{Service: "last.fm", What: "tags"}
	}
	return tags, nil
}

// SimilarTracks returns up to limit tracks Last.fm considers similar, best match first. The seed
// itself is never returned. An unknown title is retried once with [CleanTitle].
func (l *LastFM) SimilarTracks(ctx context.Context, artist, title string, limit int) ([]models.Suggestion, error) {
	if limit <= 0 {
		limit = lastFMDefaultSimilar
	}

	similar, err := l.similarTracks(ctx, artist, title, limit)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return similar, err
	}

	if cleaned := CleanTitle(title); cleaned != title {
		return l.similarTracks(ctx, artist, cleaned, limit)
	}
	return nil, err
}

func (l *LastFM) similarTracks(ctx context.Context, artist, title string, limit int) ([]models.Suggestion, error) {
	// One extra so the seed can be dropped without coming up short.
	extra := url.Values{"limit": {strconv.Itoa(limit + 1)}}

	var response lastFMSimilar
	if err := l.get(ctx, "track.getsimilar", artist, title, extra, &response, &response.lastFMStatus); err != nil {
		return nil, err
	}

	seed := shared.NormalizeTrackKey(title, artist)
	out := make([]models.Suggestion, 0, limit)
	for _, t := range response.SimilarTracks.Track {
		name, by := strings.TrimSpace(t.Name), strings.TrimSpace(t.Artist.Name)
		if name == "" || by == "" || shared.NormalizeTrackKey(name, by) == seed {
			continue
		}
		out = append(out, models.Suggestion{Title: name, Artist: by, Source: "last.fm", Match: float64(t.Match)})
		if len(out) == limit {
			break
		}
	}

	if len(out) == 0 {
		return nil, &shared.NotFoundError{Service: "last.fm", What: "similar tracks"}
	}
	return out, nil
}

// get calls a track method and decodes the body into v, mapping the error envelope in status.
func (l *LastFM) get(ctx context.Context, method, artist, title string, extra url.Values, v any, status *lastFMStatus) error {
	q := url.Values{}
	q.Set("method", method)
	q.Set("artist", artist)
	q.Set("track", title)
	q.Set("autocorrect", "1")
	q.Set("api_key", l.apiKey)
	q.Set("format", "json")
	for k, vals := range extra {
		q[k] = vals
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("last.fm: build request: %w", err)
	}

	resp, err := l.http.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Last.fm reports failures in the body, sometimes alongside a 200.
	decodeErr := json.NewDecoder(resp.Body).Decode(v)

	switch status.Error {
	case 0:
	case lastFMInvalidParams:
		return &shared.NotFoundError{Service: "last.fm", What: "track"}
	case lastFMInvalidKey, lastFMSuspendedKey:
		return &shared.AuthError{Service: "last.fm", Status: resp.StatusCode, Detail: status.Message}
	case lastFMRateLimited:
		return &shared.RateLimitError{Service: "last.fm", RetryAfter: parseRetryAfter(resp)}
	default:
		return fmt.Errorf("%w: last.fm: error %d: %s", shared.ErrAPIRequest, status.Error, status.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("last.fm", resp, "track")
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: last.fm: decode response: %v", shared.ErrAPIRequest, decodeErr)
	}
	return nil
}
