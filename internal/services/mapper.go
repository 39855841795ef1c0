package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/shared"
)

// Mapper translates catalog records into [models.MediaItem] values.
//
// Mapping is a pure function of the record, except that [Mapper.Album] also records
// the album's embedded tracks in the album-track store.
type Mapper struct {
	albums AlbumTrackStore
	logger *log.Logger
}

// NewMapper returns a Mapper writing album tracks to albums.
func NewMapper(albums AlbumTrackStore, logger *log.Logger) *Mapper {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Mapper{albums: albums, logger: logger}
}

func firstImage(images []SpotifyImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func firstArtist(artists []SpotifyArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Track maps a track; artwork is the album's first image.
func (m *Mapper) Track(t SpotifyTrack, liked bool) models.MediaItem {
	return models.MediaItem{
		ID:       t.ID,
		URI:      t.URI,
		Kind:     models.KindPlayable,
		Source:   models.SourceTrack,
		Title:    t.Name,
		Artist:   firstArtist(t.Artists),
		Album:    t.Album.Name,
		Artwork:  firstImage(t.Album.Images),
		Duration: millis(t.DurationMS),
		Liked:    models.Bool(liked),
	}
}

// Episode maps a podcast episode.
func (m *Mapper) Episode(e SpotifyEpisode) models.MediaItem {
	return models.MediaItem{
		ID:          e.ID,
		URI:         e.URI,
		Kind:        models.KindPlayable,
		Source:      models.SourceEpisode,
		Title:       e.Name,
		Artwork:     firstImage(e.Images),
		Description: strings.TrimSpace(e.Description),
		Duration:    millis(e.DurationMS),
	}
}

// Playlist maps a playlist.
func (m *Mapper) Playlist(p SpotifyPlaylist) models.MediaItem {
	return models.MediaItem{
		ID:          p.ID,
		URI:         p.URI,
		Kind:        models.KindContainer,
		Source:      models.SourcePlaylist,
		Title:       p.Name,
		Artwork:     firstImage(p.Images),
		Description: p.Description,
	}
}

// Album maps an album and stores its embedded tracks, tagged with the album, under the album id,
// along with the locator of the album's next track page.
func (m *Mapper) Album(ctx context.Context, a SpotifyAlbum) models.MediaItem {
	if a.Tracks != nil && m.albums != nil {
		parent := a
		parent.Tracks = nil

		tracks := make([]SpotifyTrack, 0, len(a.Tracks.Items))
		for _, t := range a.Tracks.Items {
			if t.ID == "" {
				continue
			}
			t.Album = parent
			tracks = append(tracks, t)
		}
		next := ""
		if a.Tracks.Next != nil {
			next = *a.Tracks.Next
		}
		if err := m.albums.PutAlbumTracks(ctx, parent, AlbumPage{Tracks: tracks, Next: next}); err != nil {
			m.logger.Warn("failed to store album tracks", "album", a.ID, "error", err)
		}
	}

	return models.MediaItem{
		ID:      a.ID,
		URI:     a.URI,
		Kind:    models.KindContainer,
		Source:  models.SourceAlbum,
		Title:   a.Name,
		Artist:  firstArtist(a.Artists),
		Artwork: firstImage(a.Images),
	}
}

// Artist maps an artist.
func (m *Mapper) Artist(a SpotifyArtist) models.MediaItem {
	return models.MediaItem{
		ID:      a.ID,
		URI:     a.URI,
		Kind:    models.KindContainer,
		Source:  models.SourceArtist,
		Title:   a.Name,
		Artwork: firstImage(a.Images),
	}
}

// Category maps a browse category; artwork is its first icon.
func (m *Mapper) Category(c SpotifyCategory) models.MediaItem {
	return models.MediaItem{
		ID:      c.ID,
		Kind:    models.KindCollection,
		Source:  models.SourceCategory,
		Title:   c.Name,
		Artwork: firstImage(c.Icons),
	}
}

// Show maps a podcast show.
func (m *Mapper) Show(s SpotifyShow) models.MediaItem {
	return models.MediaItem{
		ID:          s.ID,
		URI:         s.URI,
		Kind:        models.KindContainer,
		Source:      models.SourceShow,
		Title:       s.Name,
		Artist:      s.Publisher,
		Artwork:     firstImage(s.Images),
		Description: strings.TrimSpace(s.Description),
	}
}

// MemoryAlbumTracks is an in-process [AlbumTrackStore].
type MemoryAlbumTracks struct {
	mu    sync.RWMutex
	pages map[string]AlbumPage
}

// NewMemoryAlbumTracks returns an empty store.
func NewMemoryAlbumTracks() *MemoryAlbumTracks {
	return &MemoryAlbumTracks{pages: make(map[string]AlbumPage)}
}

// PutAlbumTracks replaces the first page stored for album.
func (s *MemoryAlbumTracks) PutAlbumTracks(_ context.Context, album SpotifyAlbum, page AlbumPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[album.ID] = AlbumPage{Tracks: append([]SpotifyTrack(nil), page.Tracks...), Next: page.Next}
	return nil
}

// AlbumTracks returns the first page stored for albumID.
func (s *MemoryAlbumTracks) AlbumTracks(_ context.Context, albumID string) (AlbumPage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[albumID]
	if !ok {
		return AlbumPage{}, false, nil
	}
	return AlbumPage{Tracks: append([]SpotifyTrack(nil), page.Tracks...), Next: page.Next}, true, nil
}
