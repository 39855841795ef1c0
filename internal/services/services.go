// package services defines the catalog contract and implements it against the Spotify Web API
package services

import (
	"context"

	"github.com/desertthunder/crowdspot/internal/models"
)

// Catalog lists the remote catalog as generic media items.
//
// Every listing takes a refresh flag: true restarts the query from its first page,
// false continues from the stored cursor and returns nothing once the query is exhausted.
type Catalog interface {
	Categories(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	CategoryPlaylists(ctx context.Context, categoryID string, refresh bool) ([]models.MediaItem, error)
	SavedTracks(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	FollowedArtists(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	ArtistTopTracks(ctx context.Context, artistID string, refresh bool) ([]models.MediaItem, error)
	SavedAlbums(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	AlbumTracks(ctx context.Context, albumID string, refresh bool) ([]models.MediaItem, error)
	UserPlaylists(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	PlaylistTracks(ctx context.Context, playlistID string, refresh bool) ([]models.MediaItem, error)
	SavedShows(ctx context.Context, refresh bool) ([]models.MediaItem, error)
	ShowEpisodes(ctx context.Context, showID string, refresh bool) ([]models.MediaItem, error)
	SearchTracks(ctx context.Context, term string, refresh bool) ([]models.MediaItem, error)
	ReleaseRadar(ctx context.Context, refresh bool) ([]models.MediaItem, error)

	// ToggleSaved flips the saved state of a track, reporting whether the remote change succeeded.
	ToggleSaved(ctx context.Context, trackID string) bool
}

// Authorizer runs a request with a bearer token, recreating the session and replaying
// once when the request reports [shared.ErrUnauthorized].
type Authorizer interface {
	Do(ctx context.Context, fn func(bearer string) error) error
}

// LibraryAPI is the saved-tracks part of the remote API.
type LibraryAPI interface {
	Contains(ctx context.Context, ids []string) ([]bool, error)
	SaveTracks(ctx context.Context, ids []string) error
	RemoveTracks(ctx context.Context, ids []string) error
}

// AlbumPage is the first page of an album's tracks as embedded in the album record.
// Next locates the following page, or is empty when the album fits in one page.
type AlbumPage struct {
	Tracks []SpotifyTrack
	Next   string
}

// AlbumTrackStore remembers the tracks embedded in album records so opening a
// saved album needs no extra request.
type AlbumTrackStore interface {
	PutAlbumTracks(ctx context.Context, album SpotifyAlbum, page AlbumPage) error
	AlbumTracks(ctx context.Context, albumID string) (AlbumPage, bool, error)
}
