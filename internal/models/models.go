// package models defines the generic media entities handed to the host
package models

import (
	"fmt"
	"time"
)

// Kind classifies a [MediaItem] for the host.
type Kind string

const (
	// KindPlayable items can be streamed directly (tracks, episodes).
	KindPlayable Kind = "playable"
	// KindCollection items open into further browsable items (categories).
	KindCollection Kind = "browsable-collection"
	// KindContainer items open into playables (playlists, albums, shows, artists).
	KindContainer Kind = "browsable-container"
)

// Browsable reports whether the host may drill into items of this kind.
func (k Kind) Browsable() bool {
	return k == KindCollection || k == KindContainer
}

// Source identifies which catalog record type produced an item.
type Source string

const (
	SourceTrack    Source = "track"
	SourceEpisode  Source = "episode"
	SourcePlaylist Source = "playlist"
	SourceAlbum    Source = "album"
	SourceArtist   Source = "artist"
	SourceCategory Source = "category"
	SourceShow     Source = "show"
)

// MediaItem is the uniform record handed to the host.
type MediaItem struct {
	ID          string        `json:"id"`
	URI         string        `json:"uri,omitempty"`
	Kind        Kind          `json:"kind"`
	Source      Source        `json:"source"`
	Title       string        `json:"title"`
	Artist      string        `json:"artist,omitempty"`
	Album       string        `json:"album,omitempty"`
	Artwork     string        `json:"artwork,omitempty"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Liked       *bool         `json:"liked,omitempty"`
}

// Playable reports whether the item can be opened as an audio stream.
func (m MediaItem) Playable() bool { return m.Kind == KindPlayable }

// IsLiked reports the saved state, treating an unknown state as not liked.
func (m MediaItem) IsLiked() bool { return m.Liked != nil && *m.Liked }

// Validate checks the fields every item must carry.
func (m MediaItem) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("media item %q has no id", m.Title)
	case m.Kind != KindPlayable && !m.Kind.Browsable():
		return fmt.Errorf("media item %s has unknown kind %q", m.ID, m.Kind)
	}
	return nil
}

// Bool returns a pointer to b, for optional fields such as [MediaItem.Liked].
func Bool(b bool) *bool { return &b }
