package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/crate/internal/shared"
)

func TestNewChatModel(t *testing.T) {
	tc := []struct {
		name     string
		cfg      shared.LLMConfig
		want     string
		sentinel error
	}{
		{name: "openai", cfg: shared.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"}, want: "openai:gpt-4o-mini"},
		{name: "default provider", cfg: shared.LLMConfig{APIKey: "k", Model: "m"}, want: "openai:m"},
		{name: "ollama", cfg: shared.LLMConfig{Provider: "ollama", Model: "llama3"}, want: "ollama:llama3"},
		{name: "missing model", cfg: shared.LLMConfig{Provider: "ollama"}, sentinel: shared.ErrMissingCredentials},
		{name: "missing key", cfg: shared.LLMConfig{Provider: "openai", Model: "m"}, sentinel: shared.ErrMissingCredentials},
		{name: "unknown provider", cfg: shared.LLMConfig{Provider: "other", Model: "m"}, sentinel: shared.ErrInvalidConfig},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewChatModel(tt.cfg, HTTPOptions{})
			if tt.sentinel != nil {
				if !errors.Is(err, tt.sentinel) {
					t.Errorf("expected %v, got %v", tt.sentinel, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewChatModel() error = %v", err)
			}
			if model.Name() != tt.want {
				t.Errorf("Name() = %s, want %s", model.Name(), tt.want)
			}
		})
	}
}

func TestOpenAIClient(t *testing.T) {
	t.Run("sends json mode request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer key" {
				t.Errorf("missing bearer token")
			}

			var req openAIRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Model != "m" || req.ResponseFormat["type"] != "json_object" || len(req.Messages) != 2 {
				t.Errorf("unexpected request %+v", req)
			}
			if req.Messages[0].Role != "system" || req.Messages[1].Content != "user prompt" {
				t.Errorf("unexpected messages %+v", req.Messages)
			}

			writeJSON(t, w, map[string]any{
				"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": `{"tracks":[]}`}}},
			})
		}))
		defer server.Close()

		client := NewOpenAIClient(server.URL+"/v1/", "key", "m", HTTPOptions{Client: server.Client()})
		content, err := client.Complete(context.Background(), "system prompt", "user prompt")
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if content != `{"tracks":[]}` {
			t.Errorf("unexpected content %s", content)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tc := []struct {
			name     string
			status   int
			body     string
			sentinel error
		}{
			{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, sentinel: shared.ErrAuth},
			{name: "rate limited", status: http.StatusTooManyRequests, sentinel: shared.ErrRateLimited},
			{name: "bad request", status: http.StatusBadRequest, sentinel: shared.ErrModel},
			{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, sentinel: shared.ErrModel},
			{name: "empty content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"  "}}]}`, sentinel: shared.ErrModel},
			{name: "not json", status: http.StatusOK, body: `<html>`, sentinel: shared.ErrModel},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, tt.body)
				}))
				defer server.Close()

				client := NewOpenAIClient(server.URL, "key", "m", HTTPOptions{Client: server.Client()})
				_, err := client.Complete(context.Background(), "s", "u")
				if !errors.Is(err, tt.sentinel) {
					t.Errorf("expected %v, got %v", tt.sentinel, err)
				}
			})
		}
	})
}

func TestOllamaClient(t *testing.T) {
	t.Run("sends non-streaming json request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/chat" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}

			var req ollamaRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Stream || req.Format != "json" || req.Model != "llama3" {
				t.Errorf("unexpected request %+v", req)
			}

			writeJSON(t, w, map[string]any{"message": map[string]string{"role": "assistant", "content": `{"ok":true}`}})
		}))
		defer server.Close()

		client := NewOllamaClient(server.URL, "llama3", HTTPOptions{Client: server.Client()})
		content, err := client.Complete(context.Background(), "s", "u")
		if err != nil || content != `{"ok":true}` {
			t.Errorf("Complete() = %q, %v", content, err)
		}
	})

	t.Run("error field", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]string{"error": "model 'llama3' not found"})
		}))
		defer server.Close()

		client := NewOllamaClient(server.URL, "llama3", HTTPOptions{Client: server.Client()})
		_, err := client.Complete(context.Background(), "s", "u")

		var modelErr *shared.ModelError
		if !errors.As(err, &modelErr) {
			t.Fatalf("expected ModelError, got %v", err)
		}
	})

	t.Run("default base url", func(t *testing.T) {
		if c := NewOllamaClient("", "m", HTTPOptions{}); c.baseURL != "http://localhost:11434" {
			t.Errorf("unexpected base url %s", c.baseURL)
		}
	})
}
