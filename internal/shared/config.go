package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Builder     BuilderConfig     `toml:"builder"`
	HTTP        HTTPConfig        `toml:"http"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	LLM     LLMConfig     `toml:"llm"`
	Lyrics  LyricsConfig  `toml:"lyrics"`
	LastFM  LastFMConfig  `toml:"lastfm"`
}

// SpotifyConfig contains Spotify API credentials and the persisted OAuth2 token.
type SpotifyConfig struct {
	ClientID     string    `toml:"client_id"`
	ClientSecret string    `toml:"client_secret"`
	RedirectURI  string    `toml:"redirect_uri"`
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	TokenExpiry  time.Time `toml:"token_expiry,omitempty"`
}

// Token converts the stored credentials into an [oauth2.Token]. Returns nil when no token has been saved.
func (s SpotifyConfig) Token() *oauth2.Token {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.TokenExpiry,
	}
}

// SetToken copies tok into the config. A refreshed token without a refresh token keeps the old one.
func (s *SpotifyConfig) SetToken(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	s.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
	s.TokenExpiry = tok.Expiry
}

// LLMConfig selects the language model provider used for ranking.
//
// Provider is "openai" (any chat-completions compatible API) or "ollama".
type LLMConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
}

// Enabled reports whether enough is configured to call the model.
func (l LLMConfig) Enabled() bool {
	switch l.Provider {
	case "ollama":
		return l.Model != ""
	case "openai", "":
		return l.APIKey != "" && l.Model != ""
	default:
		return false
	}
}

type LyricsConfig struct {
	MusixmatchToken string `toml:"musixmatch_token"`
}

type LastFMConfig struct {
	APIKey string `toml:"api_key"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains the OAuth callback server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port for the callback listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BuilderConfig holds defaults for `crate build`, each overridable by flag.
type BuilderConfig struct {
	PlaylistName string `toml:"playlist_name"`
	Size         int    `toml:"size"`
	MaxLiked     int    `toml:"max_liked"`
	Ranker       string `toml:"ranker"`
	Prompt       string `toml:"prompt"`
	Public       bool   `toml:"public"`
}

// HTTPConfig tunes the outbound clients.
type HTTPConfig struct {
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	BackoffMS      int     `toml:"backoff_ms"`
	LyricsRPS      float64 `toml:"lyrics_rps"`
}

func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (h HTTPConfig) Backoff() time.Duration {
	return time.Duration(h.BackoffMS) * time.Millisecond
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values from [DefaultConfig], and environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overrides secrets from CRATE_* environment variables when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CRATE_LLM_API_KEY"); v != "" {
		c.Credentials.LLM.APIKey = v
	}
	if v := os.Getenv("CRATE_SPOTIFY_CLIENT_ID"); v != "" {
		c.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv("CRATE_SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Credentials.Spotify.ClientSecret = v
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Builder.Ranker {
	case "", "model", "heuristic":
	default:
		return fmt.Errorf("%w: builder.ranker must be model or heuristic, got %q", ErrInvalidConfig, c.Builder.Ranker)
	}

	switch c.Credentials.LLM.Provider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("%w: credentials.llm.provider must be openai or ollama, got %q", ErrInvalidConfig, c.Credentials.LLM.Provider)
	}

	if c.Builder.Size < 0 || c.Builder.MaxLiked < 0 {
		return fmt.Errorf("%w: builder sizes must not be negative", ErrInvalidConfig)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// SaveConfig encodes config as TOML and writes it to path, creating parent directories.
func SaveConfig(path string, config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
