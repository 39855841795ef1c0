// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/crowdspot/internal/shared"
)

// FakeAPI is an httptest server with per-path handlers and request counting.
type FakeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	bearers  []string
}

// NewFakeAPI starts a server that is closed when the test ends.
// Unregistered paths answer 404.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{handlers: make(map[string]http.HandlerFunc), hits: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.hits[key]++
	f.bearers = append(f.bearers, r.Header.Get("Authorization"))
	h, ok := f.handlers[key]
	if !ok {
		h, ok = f.handlers[r.URL.Path]
	}
	f.mu.Unlock()

	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"status": 404, "message": "no route"}})
		return
	}
	h(w, r)
}

// Handle registers fn for pattern, either "PATH" or "METHOD PATH".
func (f *FakeAPI) Handle(pattern string, fn http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[pattern] = fn
}

// HandleJSON registers a handler that always answers body with status 200.
func (f *FakeAPI) HandleJSON(pattern string, body string) {
	f.Handle(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
}

// Hits returns how many requests reached "METHOD PATH".
func (f *FakeAPI) Hits(methodPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[methodPath]
}

// Total returns the number of requests served.
func (f *FakeAPI) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

// Bearers returns the Authorization headers seen, in order.
func (f *FakeAPI) Bearers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bearers...)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ContainsHandler answers saved-track contains requests, reporting ids in saved as liked.
func ContainsHandler(saved ...string) http.HandlerFunc {
	set := map[string]bool{}
	for _, id := range saved {
		set[id] = true
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		out := make([]bool, len(ids))
		for i, id := range ids {
			out[i] = set[id]
		}
		WriteJSON(w, http.StatusOK, out)
	}
}

// StaticAuth hands out bearer tokens in order and replays once on [shared.ErrUnauthorized],
// mirroring the session manager without a token endpoint.
type StaticAuth struct {
	mu      sync.Mutex
	Tokens  []string
	Err     error
	Replays int
	next    int
}

func (a *StaticAuth) token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Tokens) == 0 {
		return "test-token"
	}
	tok := a.Tokens[min(a.next, len(a.Tokens)-1)]
	a.next++
	return tok
}

// Do implements the catalog's authorizer contract.
func (a *StaticAuth) Do(ctx context.Context, fn func(bearer string) error) error {
	if a.Err != nil {
		return a.Err
	}
	err := fn(a.token())
	if !errors.Is(err, shared.ErrUnauthorized) {
		return err
	}
	a.mu.Lock()
	a.Replays++
	a.mu.Unlock()
	return fn(a.token())
}

// ForwardOnly hides every method of r except Read and Close.
type ForwardOnly struct {
	r      io.Reader
	Closed bool
}

// NewForwardOnly returns a non-seekable stream over data.
func NewForwardOnly(data []byte) *ForwardOnly {
	return &ForwardOnly{r: bytes.NewReader(data)}
}

func (f *ForwardOnly) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *ForwardOnly) Close() error {
	f.Closed = true
	return nil
}

// SeekCloser is a seekable in-memory stream that records Close.
type SeekCloser struct {
	*bytes.Reader
	Closed bool
}

// NewSeekCloser returns a seekable stream over data.
func NewSeekCloser(data []byte) *SeekCloser {
	return &SeekCloser{Reader: bytes.NewReader(data)}
}

func (s *SeekCloser) Close() error {
	s.Closed = true
	return nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertFileMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
