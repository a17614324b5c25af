package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sync"

	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/oauth2"
)

const defaultCallbackPath = "/callback"

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>crate: {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: {{if .OK}}#1DB954{{else}}#E22134{{end}}; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>
`))

type callbackView struct {
	OK      bool
	Title   string
	Message string
}

// OAuthHandler handles the Spotify authorization code callback.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	ctx         context.Context
	config      *oauth2.Config
	state       string
	path        string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a handler that exchanges codes with config. The callback path is taken from
// config.RedirectURL and ctx bounds the token exchange.
//
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(ctx context.Context, config *oauth2.Config, state string) *OAuthHandler {
	path := defaultCallbackPath
	if u, err := url.Parse(config.RedirectURL); err == nil && u.Path != "" {
		path = u.Path
	}
	return &OAuthHandler{
		ctx:        ctx,
		config:     config,
		state:      state,
		path:       path,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: h.path}}
}

// ServeHTTP validates state, exchanges the authorization code for tokens and sends the result
// through the result channel. Only the first callback is processed.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.fail(w, http.StatusBadRequest, &shared.AuthError{Service: "spotify", Detail: "invalid state parameter"})
		return
	}

	code := q.Get("code")
	if code == "" {
		detail := q.Get("error")
		if desc := q.Get("error_description"); desc != "" {
			detail += ": " + desc
		}
		h.fail(w, http.StatusBadRequest, &shared.AuthError{Service: "spotify", Detail: "authorization denied: " + detail})
		return
	}

	token, err := h.config.Exchange(h.ctx, code)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, fmt.Errorf("%w: spotify: token exchange failed: %v", shared.ErrAuth, err))
		return
	}

	h.Send(OAuthResult{Token: token})
	render(w, http.StatusOK, callbackView{
		OK:      true,
		Title:   "Authorization Successful",
		Message: "You can close this window and return to the terminal.",
	})
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, err error) {
	h.Send(OAuthResult{err: err})
	render(w, status, callbackView{Title: "Authorization Failed", Message: err.Error()})
}

func render(w http.ResponseWriter, status int, view callbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = callbackPage.Execute(w, view)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}
