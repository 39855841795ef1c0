package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/shared"
	"golang.org/x/sync/semaphore"
)

// SavedTracks caches the ids of tracks the user has liked.
//
// Bulk refreshes only add ids. [SavedTracks.Toggle] is serialized and changes the
// cache only after the remote change succeeds.
type SavedTracks struct {
	api    LibraryAPI
	logger *log.Logger

	mu  sync.RWMutex
	ids map[string]struct{}

	toggling *semaphore.Weighted
}

// NewSavedTracks returns an empty cache backed by api.
func NewSavedTracks(api LibraryAPI, logger *log.Logger) *SavedTracks {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &SavedTracks{api: api, logger: logger, ids: make(map[string]struct{}), toggling: semaphore.NewWeighted(1)}
}

// TrackID accepts a bare id or a spotify:track:{id} URI and returns the id.
func TrackID(idOrURI string) string {
	if i := strings.LastIndexByte(idOrURI, ':'); i >= 0 {
		return idOrURI[i+1:]
	}
	return idOrURI
}

// Liked reports whether id is cached as saved.
func (s *SavedTracks) Liked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[TrackID(id)]
	return ok
}

// Len returns the number of cached ids.
func (s *SavedTracks) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// RefreshStatus asks the remote which ids are saved, positionally, and adds the saved ones to the cache.
//
// On failure the cache is left untouched.
func (s *SavedTracks) RefreshStatus(ctx context.Context, ids []string) ([]bool, error) {
	status := make([]bool, 0, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerRequest {
		end := min(start+maxIDsPerRequest, len(ids))
		flags, err := s.api.Contains(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		status = append(status, flags...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, saved := range status {
		if saved {
			s.ids[ids[i]] = struct{}{}
		}
	}
	return status, nil
}

// Toggle removes a saved track or saves an unsaved one, returning true when the remote change succeeded.
func (s *SavedTracks) Toggle(ctx context.Context, idOrURI string) bool {
	id := TrackID(idOrURI)
	if id == "" {
		return false
	}

	if err := s.toggling.Acquire(ctx, 1); err != nil {
		s.logger.Warn("toggle abandoned", "track", id, "error", fmt.Errorf("%w: %w", shared.ErrToggleFailed, err))
		return false
	}
	defer s.toggling.Release(1)

	saved := s.Liked(id)
	var err error
	if saved {
		err = s.api.RemoveTracks(ctx, []string{id})
	} else {
		err = s.api.SaveTracks(ctx, []string{id})
	}
	if err != nil {
		s.logger.Warn("toggle failed", "track", id, "error", fmt.Errorf("%w: %w", shared.ErrToggleFailed, err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if saved {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	return true
}
