package session

import (
	"sync"

	"golang.org/x/oauth2"
)

// refreshableTokenSource wraps an [oauth2.TokenSource] and calls callback whenever the
// access token differs from the last one seen, so refreshed tokens can be persisted.
type refreshableTokenSource struct {
	mu       sync.Mutex
	source   oauth2.TokenSource
	last     string
	callback func(*oauth2.Token)
}

func newRefreshableTokenSource(src oauth2.TokenSource, initial *oauth2.Token, callback func(*oauth2.Token)) *refreshableTokenSource {
	ts := &refreshableTokenSource{source: src, callback: callback}
	if initial != nil {
		ts.last = initial.AccessToken
	}
	return ts
}

// Token implements [oauth2.TokenSource].
func (s *refreshableTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.source.Token()
	if err != nil {
		return nil, err
	}

	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if s.callback != nil {
			s.callback(tok)
		}
	}
	return tok, nil
}
