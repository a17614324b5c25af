package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	lyricsOVHBaseURL  = "https://api.lyrics.ovh"
	musixmatchBaseURL = "https://api.musixmatch.com/ws/1.1"
)

var (
	titleBrackets = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	titleSuffix   = regexp.MustCompile(`(?i)\s+-\s+(\d{4}\s+)?(remaster(ed)?|radio edit|single version|album version|live|acoustic|explicit|clean|mono|stereo|demo|edit|version|mix|remix|feat\.?|with)\b.*$`)

	lyricSection    = regexp.MustCompile(`\[[^\]]*\]`)
	lyricEmbed      = regexp.MustCompile(`\d*\s*Embed(Share URLCopyEmbedCopy)?\s*$`)
	lyricPromo      = regexp.MustCompile(`(?i)you might also like`)
	lyricSource     = regexp.MustCompile(`(?im)^\s*(source:|translations\b).*$`)
	lyricMusixmatch = regexp.MustCompile(`(?m)^\*+.*This Lyrics is NOT for Commercial use.*$|^\(\d+\)\s*$`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// CleanTitle strips decorations that lyrics sites don't index: bracketed qualifiers such as
// "(feat. X)" or "[Live]" and suffixes such as "- Remastered 2011" or "- Radio Edit".
func CleanTitle(title string) string {
	cleaned := titleBrackets.ReplaceAllString(title, "")
	cleaned = titleSuffix.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return strings.TrimSpace(title)
	}
	return cleaned
}

// CleanLyrics drops section headers and provider footers, then collapses blank runs.
func CleanLyrics(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = lyricSection.ReplaceAllString(text, "")
	text = lyricPromo.ReplaceAllString(text, "")
	text = lyricSource.ReplaceAllString(text, "")
	text = lyricMusixmatch.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lyricEmbed.ReplaceAllString(line, ""))
	}

	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// LyricsOVH looks up lyrics on lyrics.ovh. No credentials are required.
type LyricsOVH struct {
	baseURL string
	http    *requester
}

func NewLyricsOVH(opts HTTPOptions, rps float64) *LyricsOVH {
	return &LyricsOVH{
		baseURL: lyricsOVHBaseURL,
		http:    newRequester("lyrics.ovh", opts).withLimit(rps),
	}
}

func (l *LyricsOVH) WithBaseURL(baseURL string) *LyricsOVH {
	l.baseURL = strings.TrimRight(baseURL, "/")
	return l
}

func (l *LyricsOVH) Name() string { return "lyrics.ovh" }

func (l *LyricsOVH) Lyrics(ctx context.Context, artist, title string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/%s/%s", l.baseURL, url.PathEscape(strings.TrimSpace(artist)), url.PathEscape(strings.TrimSpace(title)))

	var response struct {
		Lyrics string `json:"lyrics"`
		Error  string `json:"error"`
	}
	if err := l.http.doJSON(ctx, http.MethodGet, endpoint, nil, &response, "lyrics", nil); err != nil {
		return "", err
	}

	if strings.TrimSpace(response.Lyrics) == "" {
		return "", &shared.NotFoundError{Service: l.Name(), What: "lyrics"}
	}
	return response.Lyrics, nil
}

// Musixmatch searches the Musixmatch catalogue, then fetches the lyrics of the best-rated match.
type Musixmatch struct {
	token   string
	baseURL string
	http    *requester
}

func NewMusixmatch(token string, opts HTTPOptions, rps float64) *Musixmatch {
	return &Musixmatch{
		token:   token,
		baseURL: musixmatchBaseURL,
		http:    newRequester("musixmatch", opts).withLimit(rps),
	}
}

func (m *Musixmatch) WithBaseURL(baseURL string) *Musixmatch {
	m.baseURL = strings.TrimRight(baseURL, "/")
	return m
}

func (m *Musixmatch) Name() string { return "musixmatch" }

type musixmatchHeader struct {
	StatusCode int `json:"status_code"`
}

// musixmatchEnvelope wraps every response. Body is an empty array when the header reports an error.
type musixmatchEnvelope struct {
	Message struct {
		Header musixmatchHeader `json:"header"`
		Body   json.RawMessage  `json:"body"`
	} `json:"message"`
}

type musixmatchSearch struct {
	TrackList []struct {
		Track struct {
			TrackID      int `json:"track_id"`
			Instrumental int `json:"instrumental"`
		} `json:"track"`
	} `json:"track_list"`
}

type musixmatchLyrics struct {
	Lyrics struct {
		LyricsBody string `json:"lyrics_body"`
	} `json:"lyrics"`
}

// call performs a Musixmatch method and decodes the body into result once the embedded status is OK.
func (m *Musixmatch) call(ctx context.Context, method string, q url.Values, result any, what string) error {
	q.Set("apikey", m.token)

	var envelope musixmatchEnvelope
	if err := m.http.doJSON(ctx, http.MethodGet, m.baseURL+"/"+method+"?"+q.Encode(), nil, &envelope, what, nil); err != nil {
		return err
	}
	if err := m.headerError(envelope.Message.Header, what); err != nil {
		return err
	}
	if err := json.Unmarshal(envelope.Message.Body, result); err != nil {
		return &shared.NotFoundError{Service: m.Name(), What: what}
	}
	return nil
}

func (m *Musixmatch) Lyrics(ctx context.Context, artist, title string) (string, error) {
	q := url.Values{}
	q.Set("q_artist", artist)
	q.Set("q_track", title)
	q.Set("page_size", "1")
	q.Set("page", "1")
	q.Set("s_track_rating", "desc")

	var search musixmatchSearch
	if err := m.call(ctx, "track.search", q, &search, "track"); err != nil {
		return "", err
	}
	if len(search.TrackList) == 0 {
		return "", &shared.NotFoundError{Service: m.Name(), What: "track"}
	}

	track := search.TrackList[0].Track
	if track.Instrumental == 1 {
		return "", &shared.NotFoundError{Service: m.Name(), What: "lyrics (instrumental)"}
	}

	q = url.Values{}
	q.Set("track_id", strconv.Itoa(track.TrackID))

	var lyrics musixmatchLyrics
	if err := m.call(ctx, "track.lyrics.get", q, &lyrics, "lyrics"); err != nil {
		return "", err
	}

	body := strings.TrimSpace(lyrics.Lyrics.LyricsBody)
	if body == "" {
		return "", &shared.NotFoundError{Service: m.Name(), What: "lyrics"}
	}
	return body, nil
}

// headerError maps the status code Musixmatch embeds in an HTTP 200 body.
func (m *Musixmatch) headerError(h musixmatchHeader, what string) error {
	switch h.StatusCode {
	case 0, http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &shared.AuthError{Service: m.Name(), Status: h.StatusCode}
	case http.StatusNotFound:
		return &shared.NotFoundError{Service: m.Name(), What: what}
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		// 402 is an exhausted plan quota: the key is valid, so the lookup is skipped like a 429.
		return &shared.RateLimitError{Service: m.Name()}
	default:
		return fmt.Errorf("%w: %s: status %d", shared.ErrAPIRequest, m.Name(), h.StatusCode)
	}
}

// ChainLyrics tries each provider in order, first with the raw title and then with [CleanTitle].
//
// Misses and rate limits fall through to the next provider. Authentication failures stop the chain.
// When every provider misses the result is a [shared.NotFoundError]; when at least one was rate limited
// and none succeeded, the last [shared.RateLimitError] is returned.
type ChainLyrics struct {
	providers []LyricsProvider
	logger    *log.Logger
}

func NewChainLyrics(logger *log.Logger, providers ...LyricsProvider) *ChainLyrics {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &ChainLyrics{providers: providers, logger: logger}
}

func (c *ChainLyrics) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

func (c *ChainLyrics) Lyrics(ctx context.Context, artist, title string) (string, error) {
	titles := []string{title}
	if cleaned := CleanTitle(title); cleaned != title {
		titles = append(titles, cleaned)
	}

	var limited error
providers:
	for _, p := range c.providers {
		for _, t := range titles {
			text, err := p.Lyrics(ctx, artist, t)
			if err == nil {
				if cleaned := CleanLyrics(text); cleaned != "" {
					c.logger.Debug("lyrics found", "provider", p.Name(), "artist", artist, "title", t)
					return cleaned, nil
				}
				continue
			}

			switch {
			case errors.Is(err, shared.ErrNotFound):
				continue
			case errors.Is(err, shared.ErrAuth), ctx.Err() != nil:
				return "", err
			case errors.Is(err, shared.ErrRateLimited):
				c.logger.Warn("lyrics provider rate limited", "provider", p.Name())
				limited = err
			default:
				c.logger.Warn("lyrics lookup failed", "provider", p.Name(), "error", err)
			}
			continue providers
		}
	}

	if limited != nil {
		return "", limited
	}
	return "", &shared.NotFoundError{Service: "lyrics", What: "lyrics"}
}
