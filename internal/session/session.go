package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/shared"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Scopes requested during authorization.
var Scopes = []string{
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserLibraryModify,
	spotifyauth.ScopeUserFollowRead,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopeStreaming,
}

// Session is a live authenticated connection.
type Session struct {
	source    oauth2.TokenSource
	deviceID  string
	createdAt time.Time
}

// DeviceID returns the device identity the session was created with.
func (s *Session) DeviceID() string { return s.deviceID }

// CreatedAt returns when the session was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Options configures a [Manager].
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Endpoint defaults to the Spotify accounts service.
	Endpoint   oauth2.Endpoint
	Store      *CredentialStore
	Logger     *log.Logger
	HTTPClient *http.Client
	// OnAuthorize, when set, enables interactive login: it receives the authorization
	// URL whenever a session is needed and no credential is stored.
	OnAuthorize func(authURL string)
}

// login is an authorization-code flow waiting for its redirect.
type login struct {
	state string
	url   string
	done  chan struct{}
	err   error
}

// Manager creates, refreshes and tears down the single [Session].
type Manager struct {
	oauth       *oauth2.Config
	store       *CredentialStore
	logger      *log.Logger
	client      *http.Client
	onAuthorize func(string)
	group       singleflight.Group

	mu           sync.Mutex
	session      *Session
	pending      *login
	forceRefresh bool
}

// NewManager builds a Manager from opts.
func NewManager(opts Options) (*Manager, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: client id", shared.ErrMissingCredentials)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: credential store", shared.ErrMissingArgument)
	}

	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = spotifyauth.AuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = spotifyauth.TokenURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		store:       opts.Store,
		logger:      shared.WithLogger(logger, "component", "session"),
		client:      opts.HTTPClient,
		onAuthorize: opts.OnAuthorize,
	}, nil
}

// Connected reports whether a credential is stored.
func (m *Manager) Connected() bool {
	return m.store.Exists()
}

// Token returns a bearer token, creating the session first if needed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	_, bearer, err := m.acquire(ctx)
	return bearer, err
}

// Do runs fn with a bearer token. If fn fails with [shared.ErrUnauthorized] the
// session is recreated, forcing a token refresh, and fn is replayed once.
func (m *Manager) Do(ctx context.Context, fn func(bearer string) error) error {
	s, bearer, err := m.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(bearer)
	if !errors.Is(err, shared.ErrUnauthorized) {
		return err
	}

	m.logger.Warn("access token rejected, recreating session")
	m.invalidate(s, true)

	_, bearer, err = m.acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(bearer)
	if errors.Is(err, shared.ErrUnauthorized) {
		return &shared.RemoteError{Status: http.StatusUnauthorized, Err: err}
	}
	return err
}

// Session returns the live session, creating it if needed.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	s, _, err := m.acquire(ctx)
	return s, err
}

// Invalidate drops the live session; the next request creates a new one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
}

// Connect starts an interactive login, or returns the one already in progress,
// and reports the authorization URL the user must visit.
func (m *Manager) Connect() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginLogin().url
}

// PendingState returns the state parameter of the login in progress, or "" when none is.
func (m *Manager) PendingState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return ""
	}
	return m.pending.state
}

// SubmitAuthorizationCode completes the login in progress with the code delivered to the redirect URI.
//
// The resulting credential is persisted before any waiter resumes. A rejected exchange
// clears the stored credential and fails every waiter with [shared.ErrAuthFailure].
func (m *Manager) SubmitAuthorizationCode(ctx context.Context, code string) error {
	m.mu.Lock()
	l := m.pending
	m.mu.Unlock()
	if l == nil {
		return shared.ErrNoPendingLogin
	}
	if code == "" {
		return fmt.Errorf("%w: empty authorization code", shared.ErrInvalidInput)
	}

	tok, err := m.oauth.Exchange(m.httpContext(ctx), code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != l {
		return shared.ErrNoPendingLogin
	}
	m.pending = nil

	if err == nil {
		err = m.store.Save(tok)
	} else {
		if cerr := m.store.Clear(); cerr != nil {
			m.logger.Error("failed to clear credential", "error", cerr)
		}
		err = fmt.Errorf("%w: %w", shared.ErrAuthFailure, err)
	}
	if err != nil {
		l.err = err
		close(l.done)
		return err
	}

	m.session = m.newSession(tok)
	m.forceRefresh = false
	close(l.done)
	m.logger.Info("authorization complete")
	return nil
}

// Disconnect removes the stored credential, drops the session and abandons any login in progress.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	if m.pending != nil {
		m.pending.err = shared.ErrAuthRequired
		close(m.pending.done)
		m.pending = nil
	}
	return m.store.Clear()
}

// acquire returns the live session and a bearer token from it.
func (m *Manager) acquire(ctx context.Context) (*Session, string, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if s == nil {
		ch := m.group.DoChan("session", func() (any, error) {
			return m.createSession(ctx)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, "", res.Err
			}
			s = res.Val.(*Session)
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	tok, err := s.source.Token()
	if err != nil {
		return nil, "", m.refreshFailed(s, err)
	}
	return s, tok.AccessToken, nil
}

// createSession runs inside the singleflight group.
func (m *Manager) createSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	force := m.forceRefresh
	m.mu.Unlock()

	tok, err := m.store.Load()
	switch {
	case err == nil:
		if force && tok.RefreshToken != "" {
			tok.Expiry = time.Now().Add(-time.Minute)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.session = m.newSession(tok)
		m.forceRefresh = false
		m.logger.Debug("session created from stored credential", "forced_refresh", force)
		return m.session, nil
	case errors.Is(err, ErrCorruptCredential):
		m.logger.Warn("discarding unreadable credential", "error", err)
		if cerr := m.store.Clear(); cerr != nil {
			return nil, cerr
		}
	case !errors.Is(err, ErrNoCredential):
		return nil, err
	}

	if m.onAuthorize == nil {
		return nil, shared.ErrAuthRequired
	}

	m.mu.Lock()
	l := m.beginLogin()
	m.mu.Unlock()

	m.logger.Info("waiting for authorization")
	m.onAuthorize(l.url)

	select {
	case <-l.done:
		if l.err != nil {
			return nil, l.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, shared.ErrAuthRequired
	}
	return m.session, nil
}

// beginLogin must be called with mu held.
func (m *Manager) beginLogin() *login {
	if m.pending == nil {
		state := shared.GenerateID()
		m.pending = &login{
			state: state,
			url:   m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline),
			done:  make(chan struct{}),
		}
	}
	return m.pending
}

// newSession must be called with mu held.
func (m *Manager) newSession(tok *oauth2.Token) *Session {
	deviceID, err := m.store.DeviceID()
	if err != nil {
		m.logger.Warn("device id not persisted", "error", err)
		deviceID = shared.GenerateID()
	}

	base := m.oauth.TokenSource(m.httpContext(context.Background()), tok)
	s := &Session{deviceID: deviceID, createdAt: time.Now()}
	s.source = newRefreshableTokenSource(base, tok, func(t *oauth2.Token) { m.persist(s, t) })
	return s
}

// persist writes a token refreshed by s back to the store, unless s is no
// longer the live session.
func (m *Manager) persist(s *Session, tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		m.logger.Debug("dropping token refreshed by a closed session")
		return
	}
	if err := m.store.Save(tok); err != nil {
		m.logger.Error("failed to persist refreshed token", "error", err)
		return
	}
	m.logger.Debug("refreshed token persisted")
}

// refreshFailed classifies a token source failure. A refresh rejected by the
// accounts service ends the session and removes the credential.
func (m *Manager) refreshFailed(s *Session, err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return fmt.Errorf("%w: token refresh: %w", shared.ErrRemoteRequestFailed, err)
	}

	m.invalidate(s, false)
	if cerr := m.store.Clear(); cerr != nil {
		m.logger.Error("failed to clear credential", "error", cerr)
	}
	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}
	m.logger.Warn("token refresh rejected", "status", status)
	return fmt.Errorf("%w: %w", shared.ErrAuthFailure, err)
}

func (m *Manager) invalidate(s *Session, forceRefresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.session = nil
		m.forceRefresh = forceRefresh
	}
}

func (m *Manager) httpContext(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}
