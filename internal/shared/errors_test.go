package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTypedErrors(t *testing.T) {
	tc := []struct {
		name     string
		err      error
		sentinel error
		fatal    bool
		optional bool
		contains string
	}{
		{
			name:     "auth",
			err:      &AuthError{Service: "spotify", Status: 401},
			sentinel: ErrAuth,
			fatal:    true,
			optional: true,
			contains: "status 401",
		},
		{
			name:     "rate limit",
			err:      &RateLimitError{Service: "spotify", RetryAfter: 2 * time.Second},
			sentinel: ErrRateLimited,
			fatal:    true,
			contains: "retry after 2s",
		},
		{
			name:     "not found",
			err:      &NotFoundError{Service: "lyrics.ovh", What: "lyrics"},
			sentinel: ErrNotFound,
			contains: "lyrics.ovh: lyrics not found",
		},
		{
			name:     "model",
			err:      &ModelError{Reason: "empty content"},
			sentinel: ErrModel,
			contains: "empty content",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("enrich track: %w", tt.err)

			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected wrapped error to match %v", tt.sentinel)
			}
			if IsFatal(wrapped, true) != tt.fatal {
				t.Errorf("IsFatal(required) = %v, want %v", IsFatal(wrapped, true), tt.fatal)
			}
			if IsFatal(wrapped, false) != tt.optional {
				t.Errorf("IsFatal(optional) = %v, want %v", IsFatal(wrapped, false), tt.optional)
			}
			if !strings.Contains(wrapped.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, wrapped.Error())
			}
		})
	}

	t.Run("auth error unwraps cause", func(t *testing.T) {
		err := fmt.Errorf("spotify: %w", &AuthError{Service: "spotify", Err: ErrNoRefreshToken, Detail: "run `crate auth login`"})

		if !errors.Is(err, ErrAuth) || !errors.Is(err, ErrNoRefreshToken) {
			t.Errorf("expected both ErrAuth and ErrNoRefreshToken, got %v", err)
		}
		if !strings.Contains(err.Error(), "no refresh token available: run `crate auth login`") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("model error unwraps cause", func(t *testing.T) {
		cause := errors.New("unexpected end of JSON input")
		err := &ModelError{Reason: "invalid JSON", Err: cause}

		if !errors.Is(err, cause) {
			t.Error("expected ModelError to unwrap its cause")
		}

		var me *ModelError
		if !errors.As(fmt.Errorf("rank: %w", err), &me) || me.Reason != "invalid JSON" {
			t.Error("expected errors.As to recover ModelError")
		}
	})
}
