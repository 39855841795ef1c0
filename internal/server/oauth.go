package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/desertthunder/crowdspot/internal/shared"
)

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>crowdspot connected</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Connected to Spotify</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`

// OAuthHandler handles the authorization code redirect.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	receiver CodeReceiver
	result   chan error
	once     sync.Once

	mu  sync.Mutex
	hit bool
}

// NewOAuthHandler creates a handler delivering codes to receiver.
func NewOAuthHandler(receiver CodeReceiver) *OAuthHandler {
	return &OAuthHandler{receiver: receiver, result: make(chan error, 1)}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP validates the state parameter and submits the code.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	query := r.URL.Query()

	expected := h.receiver.PendingState()
	if expected == "" {
		h.send(shared.ErrNoPendingLogin)
		http.Error(w, "No login in progress", http.StatusBadRequest)
		return
	}
	if query.Get("state") != expected {
		h.send(shared.ErrStateMismatch)
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.send(fmt.Errorf("%w: %s - %s", shared.ErrAuthFailure, query.Get("error"), query.Get("error_description")))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	if err := h.receiver.SubmitAuthorizationCode(r.Context(), code); err != nil {
		h.send(err)
		status := http.StatusInternalServerError
		if errors.Is(err, shared.ErrAuthFailure) {
			status = http.StatusBadGateway
		}
		http.Error(w, "Token exchange failed", status)
		return
	}

	h.send(nil)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

func (h *OAuthHandler) send(err error) {
	h.once.Do(func() {
		h.result <- err
		close(h.result)
	})
}

// Result receives exactly one outcome, nil on success, and is then closed.
func (h *OAuthHandler) Result() <-chan error {
	return h.result
}
