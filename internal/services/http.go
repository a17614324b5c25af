package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	defaultBackoff = 500 * time.Millisecond

	// Retry-After values above this are surfaced as a rate limit instead of slept through.
	maxRetryWait = 30 * time.Second
)

// HTTPOptions configures the transport shared by every client.
type HTTPOptions struct {
	Client     *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *log.Logger
}

// NewHTTPOptions builds [HTTPOptions] from the [shared.HTTPConfig] section.
func NewHTTPOptions(cfg shared.HTTPConfig, logger *log.Logger) HTTPOptions {
	return HTTPOptions{
		Timeout:    cfg.Timeout(),
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff(),
		Logger:     logger,
	}
}

func (o HTTPOptions) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// requester performs requests for a single named service, retrying transient failures
// (network errors, 429, 5xx) with exponential backoff and honoring Retry-After.
//
// POST is not idempotent: unless retryPosts is set it is only retried on 429,
// where the server guarantees nothing was applied.
type requester struct {
	service    string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	logger     *log.Logger
	retryPosts bool
}

func newRequester(service string, opts HTTPOptions) *requester {
	r := &requester{
		service:    service,
		client:     opts.httpClient(),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     opts.Logger,
	}
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.logger == nil {
		r.logger = shared.NewLogger(io.Discard)
	}
	return r
}

// withLimit paces requests to rps per second. Non-positive rps disables pacing.
func (r *requester) withLimit(rps float64) *requester {
	if rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return r
}

// retryingPosts marks every POST of this service as safe to resend, as for chat completions.
func (r *requester) retryingPosts() *requester {
	r.retryPosts = true
	return r
}

// do sends req. When retries run out on a 429 or 5xx the final response is returned
// unread so the caller can map its status.
func (r *requester) do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: read request body: %w", r.service, err)
		}
		_ = req.Body.Close()
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	ctx := req.Context()
	idempotent := req.Method != http.MethodPost || r.retryPosts
	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", r.service, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: request canceled: %w", r.service, err)
		}

		if req.GetBody != nil && attempt > 0 {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%s: reset request body: %w", r.service, err)
			}
			req.Body = body
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if authErr := tokenError(r.service, err); authErr != nil {
				return nil, authErr
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", r.service, ctx.Err())
			}
		}

		retryAfter, retry := shouldRetry(resp, err, idempotent)
		if !retry || attempt >= r.maxRetries || retryAfter > maxRetryWait {
			if err != nil {
				return nil, fmt.Errorf("%w: %s: request failed after %d attempts: %v", shared.ErrServiceUnavailable, r.service, attempt+1, err)
			}
			return resp, nil
		}

		if err != nil {
			r.logger.Warn("retrying request", "service", r.service, "attempt", attempt+1, "error", err)
		} else {
			r.logger.Warn("retrying request", "service", r.service, "attempt", attempt+1, "status", resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		wait := r.backoff * time.Duration(1<<attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s: request canceled: %w", r.service, err)
		}
	}
}

// doJSON sends a request with an optional JSON body and decodes a 2xx response into result.
// Non-2xx responses are mapped by [statusError] with what naming the missing resource.
func (r *requester) doJSON(ctx context.Context, method, url string, body, result any, what string, header http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", r.service, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", r.service, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(r.service, resp, what)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", shared.ErrAPIRequest, r.service, err)
	}
	return nil
}

// statusError maps a non-2xx response to the typed errors in [shared].
func statusError(service string, resp *http.Response, what string) error {
	detail := errorDetail(resp)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &shared.AuthError{Service: service, Status: resp.StatusCode, Detail: detail}
	case http.StatusNotFound:
		return &shared.NotFoundError{Service: service, What: what}
	case http.StatusTooManyRequests:
		return &shared.RateLimitError{Service: service, RetryAfter: parseRetryAfter(resp)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: status %d: %s", shared.ErrServiceUnavailable, service, resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: %s: status %d: %s", shared.ErrAPIRequest, service, resp.StatusCode, detail)
}

// errorDetail extracts a message from common JSON error envelopes, falling back to the raw body.
func errorDetail(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case json.Unmarshal(envelope.Error, &flat) == nil && flat != "":
			return flat
		case envelope.Message != "":
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// tokenError reports failed token refreshes as authentication errors.
func tokenError(service string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &shared.AuthError{Service: service, Status: status, Detail: "token refresh failed: " + retrieveErr.ErrorCode}
	}
	if errors.Is(err, shared.ErrAuth) {
		return err
	}
	return nil
}

// shouldRetry reports whether a failed attempt may be resent. A request that is not
// idempotent may have been applied on a network error or 5xx, so only 429 qualifies.
func shouldRetry(resp *http.Response, err error, idempotent bool) (time.Duration, bool) {
	if err != nil {
		return 0, idempotent
	}
	if resp == nil {
		return 0, false
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return parseRetryAfter(resp), true
	case resp.StatusCode >= http.StatusInternalServerError && idempotent:
		return parseRetryAfter(resp), true
	}
	return 0, false
}

// parseRetryAfter reads Retry-After as either delay-seconds or an HTTP date.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if when, err := http.ParseTime(value); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
