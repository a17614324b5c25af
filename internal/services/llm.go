package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/crate/internal/shared"
)

const (
	openAIBaseURL = "https://api.openai.com"
	ollamaBaseURL = "http://localhost:11434"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewChatModel builds the client selected by cfg.Provider.
func NewChatModel(cfg shared.LLMConfig, opts HTTPOptions) (ChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: credentials.llm.model is required", shared.ErrMissingCredentials)
	}

	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, opts), nil
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: credentials.llm.api_key is required", shared.ErrMissingCredentials)
		}
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", shared.ErrInvalidConfig, cfg.Provider)
	}
}

// modelError converts transport failures into [shared.ModelError], keeping authentication and rate limit
// errors distinguishable.
func modelError(service string, err error) error {
	if errors.Is(err, shared.ErrAuth) || errors.Is(err, shared.ErrRateLimited) {
		return err
	}
	return &shared.ModelError{Reason: service + " request failed", Err: err}
}

// OpenAIClient talks to any chat-completions compatible API.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *requester
}

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAIClient(baseURL, apiKey, model string, opts HTTPOptions) *OpenAIClient {
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    newRequester("openai", opts).retryingPosts(),
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.model }

// Complete requests a JSON object response for one system + user exchange.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	payload := openAIRequest{
		Model:          c.model,
		Temperature:    0.3,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	var parsed openAIResponse
	if err := c.http.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", payload, &parsed, "model", header); err != nil {
		return "", modelError("openai", err)
	}

	if len(parsed.Choices) == 0 {
		return "", &shared.ModelError{Reason: "openai: no choices in response"}
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &shared.ModelError{Reason: "openai: empty response"}
	}
	return content, nil
}

// OllamaClient talks to a local Ollama instance.
type OllamaClient struct {
	baseURL string
	model   string
	http    *requester
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

func NewOllamaClient(baseURL, model string, opts HTTPOptions) *OllamaClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		http:    newRequester("ollama", opts).retryingPosts(),
	}
}

func (c *OllamaClient) Name() string { return "ollama:" + c.model }

func (c *OllamaClient) Complete(ctx context.Context, system, user string) (string, error) {
	payload := ollamaRequest{
		Model:  c.model,
		Stream: false,
		Format: "json",
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var parsed ollamaResponse
	if err := c.http.doJSON(ctx, http.MethodPost, c.baseURL+"/api/chat", payload, &parsed, "model", nil); err != nil {
		return "", modelError("ollama", err)
	}
	if parsed.Error != "" {
		return "", &shared.ModelError{Reason: "ollama: " + parsed.Error}
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		return "", &shared.ModelError{Reason: "ollama: empty response"}
	}
	return parsed.Message.Content, nil
}
