package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/crowdspot/internal/shared"
	"golang.org/x/oauth2"
)

// tokenServer fakes the accounts service token endpoint.
type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32

	// A refresh of the "slow" token signals stalled and waits for stall to close.
	stalled chan struct{}
	stall   chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reject := func() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
		}
		grant := func(access, refresh string) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  access,
				"token_type":    "Bearer",
				"refresh_token": refresh,
				"expires_in":    3600,
			})
		}

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			ts.exchanges.Add(1)
			if r.PostForm.Get("code") != "good-code" {
				reject()
				return
			}
			grant("access-from-code", "refresh-from-code")
		case "refresh_token":
			n := ts.refreshes.Add(1)
			if r.PostForm.Get("refresh_token") == "revoked" {
				reject()
				return
			}
			if r.PostForm.Get("refresh_token") == "slow" {
				close(ts.stalled)
				<-ts.stall
			}
			grant(fmt.Sprintf("refreshed-%d", n), "")
		default:
			reject()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T, ts *tokenServer, onAuthorize func(string)) (*Manager, *CredentialStore) {
	t.Helper()
	store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	m, err := NewManager(Options{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://127.0.0.1:8888/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/authorize",
			TokenURL:  ts.URL + "/api/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Store:       store,
		HTTPClient:  ts.Client(),
		OnAuthorize: onAuthorize,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, store
}

func TestCredentialStore(t *testing.T) {
	t.Run("round trips a token", func(t *testing.T) {
		store := NewCredentialStore(filepath.Join(t.TempDir(), "nested", "credentials.json"))
		if store.Exists() {
			t.Fatal("fresh store should not report a credential")
		}

		want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
		if err := store.Save(want); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !store.Exists() {
			t.Fatal("expected credential to exist after save")
		}

		info, err := os.Stat(store.Path())
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("expected mode 0600, got %o", perm)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got.AccessToken != "a" || got.RefreshToken != "r" {
			t.Errorf("unexpected token %+v", got)
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
		if _, err := store.Load(); !errors.Is(err, ErrNoCredential) {
			t.Errorf("expected ErrNoCredential, got %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Errorf("clearing a missing credential should succeed, got %v", err)
		}
	})

	t.Run("corrupt credential", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := NewCredentialStore(path).Load(); !errors.Is(err, ErrCorruptCredential) {
			t.Errorf("expected ErrCorruptCredential, got %v", err)
		}
	})

	t.Run("device id survives clear", func(t *testing.T) {
		store := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
		first, err := store.DeviceID()
		if err != nil {
			t.Fatalf("DeviceID failed: %v", err)
		}
		if err := store.Save(&oauth2.Token{AccessToken: "a"}); err != nil {
			t.Fatal(err)
		}
		if err := store.Clear(); err != nil {
			t.Fatal(err)
		}
		second, err := store.DeviceID()
		if err != nil {
			t.Fatalf("DeviceID failed: %v", err)
		}
		if first == "" || first != second {
			t.Errorf("expected stable device id, got %q then %q", first, second)
		}
	})
}

func TestRefreshableTokenSource(t *testing.T) {
	t.Run("skips callback for the initial token", func(t *testing.T) {
		calls := 0
		initial := &oauth2.Token{AccessToken: "stored"}
		src := newRefreshableTokenSource(&mockTokenSource{token: initial}, initial, func(*oauth2.Token) { calls++ })

		src.Token()
		src.Token()
		if calls != 0 {
			t.Errorf("expected no callback, got %d", calls)
		}
	})

	t.Run("calls callback when token changes", func(t *testing.T) {
		var captured []string
		mock := &mockTokenSource{token: &oauth2.Token{AccessToken: "token1"}}
		src := newRefreshableTokenSource(mock, nil, func(tok *oauth2.Token) { captured = append(captured, tok.AccessToken) })

		src.Token()
		mock.token = &oauth2.Token{AccessToken: "token2"}
		tok, _ := src.Token()
		src.Token()

		if len(captured) != 2 || captured[1] != "token2" {
			t.Errorf("unexpected callbacks %v", captured)
		}
		if tok.AccessToken != "token2" {
			t.Errorf("expected token2, got %s", tok.AccessToken)
		}
	})

	t.Run("propagates source errors", func(t *testing.T) {
		src := newRefreshableTokenSource(&mockTokenSource{err: errors.New("token source error")}, nil, func(*oauth2.Token) {
			t.Error("callback should not be called on error")
		})
		if tok, err := src.Token(); err == nil || tok != nil {
			t.Errorf("expected error and nil token, got %v, %v", tok, err)
		}
	})
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("requires authentication without a credential", func(t *testing.T) {
		ts := newTokenServer(t)
		m, _ := newTestManager(t, ts, nil)

		if m.Connected() {
			t.Error("expected disconnected")
		}
		if _, err := m.Token(ctx); !errors.Is(err, shared.ErrAuthRequired) {
			t.Errorf("expected ErrAuthRequired, got %v", err)
		}
		if ts.exchanges.Load()+ts.refreshes.Load() != 0 {
			t.Error("no network call should be made")
		}
	})

	t.Run("uses the stored credential", func(t *testing.T) {
		ts := newTokenServer(t)
		m, store := newTestManager(t, ts, nil)
		if err := store.Save(&oauth2.Token{AccessToken: "stored", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}

		bearer, err := m.Token(ctx)
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if bearer != "stored" {
			t.Errorf("expected stored token, got %s", bearer)
		}

		s, err := m.Session(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if id, _ := store.DeviceID(); s.DeviceID() != id {
			t.Errorf("session device id %q should match stored %q", s.DeviceID(), id)
		}
	})

	t.Run("concurrent callers share one interactive login", func(t *testing.T) {
		ts := newTokenServer(t)
		var hookCalls atomic.Int32
		urls := make(chan string, 1)
		m, store := newTestManager(t, ts, func(u string) {
			hookCalls.Add(1)
			urls <- u
		})

		const callers = 5
		var wg sync.WaitGroup
		results := make(chan error, callers)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bearer, err := m.Token(ctx)
				if err == nil && bearer != "access-from-code" {
					err = fmt.Errorf("unexpected bearer %s", bearer)
				}
				results <- err
			}()
		}

		authURL := <-urls
		u, err := url.Parse(authURL)
		if err != nil {
			t.Fatalf("bad authorization url: %v", err)
		}
		if state := u.Query().Get("state"); state == "" || state != m.PendingState() {
			t.Errorf("state %q should match pending %q", state, m.PendingState())
		}
		if m.Connect() != authURL {
			t.Error("Connect should return the login already in progress")
		}

		if err := m.SubmitAuthorizationCode(ctx, "good-code"); err != nil {
			t.Fatalf("SubmitAuthorizationCode failed: %v", err)
		}
		wg.Wait()
		close(results)

		for err := range results {
			if err != nil {
				t.Errorf("caller failed: %v", err)
			}
		}
		if hookCalls.Load() != 1 {
			t.Errorf("expected one authorization prompt, got %d", hookCalls.Load())
		}
		if !store.Exists() {
			t.Error("credential should be persisted")
		}
		if m.PendingState() != "" {
			t.Error("pending login should be cleared")
		}
	})

	t.Run("rejected exchange fails waiters", func(t *testing.T) {
		ts := newTokenServer(t)
		urls := make(chan string, 1)
		m, store := newTestManager(t, ts, func(u string) { urls <- u })

		errs := make(chan error, 1)
		go func() {
			_, err := m.Token(ctx)
			errs <- err
		}()
		<-urls

		if err := m.SubmitAuthorizationCode(ctx, "bad-code"); !errors.Is(err, shared.ErrAuthFailure) {
			t.Errorf("expected ErrAuthFailure, got %v", err)
		}
		if err := <-errs; !errors.Is(err, shared.ErrAuthFailure) {
			t.Errorf("waiter expected ErrAuthFailure, got %v", err)
		}
		if store.Exists() {
			t.Error("no credential should be stored")
		}
	})

	t.Run("submit without pending login", func(t *testing.T) {
		ts := newTokenServer(t)
		m, _ := newTestManager(t, ts, nil)
		if err := m.SubmitAuthorizationCode(ctx, "good-code"); !errors.Is(err, shared.ErrNoPendingLogin) {
			t.Errorf("expected ErrNoPendingLogin, got %v", err)
		}
	})

	t.Run("waiting respects cancellation", func(t *testing.T) {
		ts := newTokenServer(t)
		m, _ := newTestManager(t, ts, func(string) {})

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := m.Token(cctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Do replays once after 401 with a refreshed token", func(t *testing.T) {
		ts := newTokenServer(t)
		m, store := newTestManager(t, ts, nil)
		if err := store.Save(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}

		var seen []string
		err := m.Do(ctx, func(bearer string) error {
			seen = append(seen, bearer)
			if bearer == "stale" {
				return shared.ErrUnauthorized
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if len(seen) != 2 || seen[1] != "refreshed-1" {
			t.Errorf("unexpected bearers %v", seen)
		}

		stored, err := store.Load()
		if err != nil {
			t.Fatal(err)
		}
		if stored.AccessToken != "refreshed-1" || stored.RefreshToken != "r1" {
			t.Errorf("refreshed token should be persisted, got %+v", stored)
		}
	})

	t.Run("Do gives up after one replay", func(t *testing.T) {
		ts := newTokenServer(t)
		m, store := newTestManager(t, ts, nil)
		if err := store.Save(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}

		calls := 0
		err := m.Do(ctx, func(string) error {
			calls++
			return shared.ErrUnauthorized
		})
		if !errors.Is(err, shared.ErrUnauthorized) || calls != 2 {
			t.Errorf("expected two attempts ending in ErrUnauthorized, got %d, %v", calls, err)
		}
		if !errors.Is(err, shared.ErrRemoteRequestFailed) {
			t.Errorf("a second rejection should be a remote failure, got %v", err)
		}
		var re *shared.RemoteError
		if !errors.As(err, &re) || re.Status != http.StatusUnauthorized {
			t.Errorf("expected *RemoteError with 401, got %v", err)
		}
	})

	t.Run("refresh finishing after Disconnect is not persisted", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.stalled = make(chan struct{})
		ts.stall = make(chan struct{})
		m, store := newTestManager(t, ts, nil)
		if err := store.Save(&oauth2.Token{AccessToken: "old", RefreshToken: "slow", Expiry: time.Now().Add(-time.Hour)}); err != nil {
			t.Fatal(err)
		}

		errc := make(chan error, 1)
		go func() {
			_, err := m.Token(ctx)
			errc <- err
		}()
		<-ts.stalled

		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect failed: %v", err)
		}
		close(ts.stall)
		if err := <-errc; err != nil {
			t.Fatalf("in-flight refresh failed: %v", err)
		}

		if store.Exists() {
			t.Error("credential should stay removed after Disconnect")
		}
		if m.Connected() {
			t.Error("manager should stay disconnected")
		}
	})

	t.Run("rejected refresh clears the credential", func(t *testing.T) {
		ts := newTokenServer(t)
		m, store := newTestManager(t, ts, nil)
		if err := store.Save(&oauth2.Token{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}); err != nil {
			t.Fatal(err)
		}

		if _, err := m.Token(ctx); !errors.Is(err, shared.ErrAuthFailure) {
			t.Errorf("expected ErrAuthFailure, got %v", err)
		}
		if store.Exists() {
			t.Error("credential should be removed after a rejected refresh")
		}
		if _, err := m.Token(ctx); !errors.Is(err, shared.ErrAuthRequired) {
			t.Errorf("expected ErrAuthRequired afterwards, got %v", err)
		}
	})

	t.Run("Disconnect clears state and abandons pending login", func(t *testing.T) {
		ts := newTokenServer(t)
		urls := make(chan string, 1)
		m, store := newTestManager(t, ts, func(u string) { urls <- u })

		errs := make(chan error, 1)
		go func() {
			_, err := m.Token(ctx)
			errs <- err
		}()
		<-urls

		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect failed: %v", err)
		}
		if err := <-errs; !errors.Is(err, shared.ErrAuthRequired) {
			t.Errorf("expected ErrAuthRequired, got %v", err)
		}
		if store.Exists() || m.Connected() {
			t.Error("expected no credential after disconnect")
		}
	})
}

// mockTokenSource implements [oauth2.TokenSource] for testing
type mockTokenSource struct {
	token *oauth2.Token
	err   error
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return m.token, m.err
}
