package services

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CursorState is the pagination position of one logical query.
type CursorState int

const (
	// CursorUnset means the query has never been fetched; the next fetch starts at the base URL.
	CursorUnset CursorState = iota
	// CursorURL means the next fetch continues at [Cursor.URL].
	CursorURL
	// CursorExhausted means the last page was served; further non-refresh fetches return nothing.
	CursorExhausted
)

func (s CursorState) String() string {
	switch s {
	case CursorURL:
		return "url"
	case CursorExhausted:
		return "exhausted"
	default:
		return "unset"
	}
}

// Cursor is the stored position of a query.
type Cursor struct {
	State CursorState
	URL   string
}

// FetchFunc fetches the page at url and returns the locator of the following page, or "" when there is none.
type FetchFunc func(ctx context.Context, url string) (next string, err error)

type pageEntry struct {
	step *semaphore.Weighted

	mu     sync.Mutex
	cursor Cursor
}

func (e *pageEntry) load() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

func (e *pageEntry) store(c Cursor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = c
}

// PageCache maps logical query keys to cursors.
//
// Each key has its own step lock, held across the fetch, so reading and advancing
// a cursor is one step for that key while distinct keys proceed in parallel. A
// caller queued on a busy key stops waiting when its context ends.
type PageCache struct {
	mu      sync.Mutex
	entries map[string]*pageEntry
}

// NewPageCache returns an empty cache.
func NewPageCache() *PageCache {
	return &PageCache{entries: make(map[string]*pageEntry)}
}

func (c *PageCache) entry(key string) *pageEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &pageEntry{step: semaphore.NewWeighted(1)}
		c.entries[key] = e
	}
	return e
}

// Next fetches the next page of key.
//
// With refresh set, or when the cursor is unset, fetch starts at base. When the
// cursor is exhausted and refresh is false, Next returns false without calling
// fetch. A successful fetch stores the returned locator, or marks the cursor
// exhausted when it is empty. A failed fetch leaves the cursor unchanged.
func (c *PageCache) Next(ctx context.Context, key, base string, refresh bool, fetch FetchFunc) (bool, error) {
	e := c.entry(key)
	if err := e.step.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer e.step.Release(1)

	target := base
	if !refresh {
		switch cur := e.load(); cur.State {
		case CursorExhausted:
			return false, nil
		case CursorURL:
			target = cur.URL
		}
	}

	next, err := fetch(ctx, target)
	if err != nil {
		return false, err
	}

	if next == "" {
		e.store(Cursor{State: CursorExhausted})
	} else {
		e.store(Cursor{State: CursorURL, URL: next})
	}
	return true, nil
}

// Cursor returns the stored position of key.
func (c *PageCache) Cursor(key string) Cursor {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return Cursor{}
	}
	return e.load()
}

// Reset forgets every stored cursor.
func (c *PageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*pageEntry)
}
