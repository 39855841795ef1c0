package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/tidwall/gjson"
)

// Query keys. Per-id queries append the id after a colon.
const (
	KeyCategories        = "categories"
	KeyCategoryPlaylists = "category"
	KeySavedTracks       = "saved-tracks"
	KeyFollowedArtists   = "followed-artists"
	KeyArtistTopTracks   = "artist"
	KeySavedAlbums       = "saved-albums"
	KeyAlbumTracks       = "album"
	KeyUserPlaylists     = "playlists"
	KeyPlaylistTracks    = "playlist"
	KeySavedShows        = "saved-shows"
	KeyShowEpisodes      = "show"
	KeySearch            = "search"
)

const releaseRadarQuery = "Release-Radar"

var _ Catalog = (*SpotifyCatalog)(nil)
var _ LibraryAPI = (*SpotifyCatalog)(nil)

func (c *SpotifyCatalog) withLimit(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("limit", strconv.Itoa(c.limit))
	return path + "?" + params.Encode()
}

// Categories lists browse categories.
func (c *SpotifyCatalog) Categories(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{Key: KeyCategories, URL: c.withLimit("/browse/categories", nil), Unwrap: "categories"}
	return listRecords(ctx, c, q, refresh, c.mapper.Category)
}

// CategoryPlaylists lists the playlists of a browse category.
func (c *SpotifyCatalog) CategoryPlaylists(ctx context.Context, categoryID string, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key:    KeyCategoryPlaylists + ":" + categoryID,
		URL:    c.withLimit("/browse/categories/"+url.PathEscape(categoryID)+"/playlists", nil),
		Unwrap: "playlists",
	}
	return listRecords(ctx, c, q, refresh, c.mapper.Playlist)
}

// SavedTracks lists the user's liked tracks.
func (c *SpotifyCatalog) SavedTracks(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{Key: KeySavedTracks, URL: c.withLimit("/me/tracks", nil), Item: "track"}
	return c.listTracks(ctx, q, refresh)
}

// FollowedArtists lists artists the user follows.
func (c *SpotifyCatalog) FollowedArtists(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key:    KeyFollowedArtists,
		URL:    c.withLimit("/me/following", url.Values{"type": {"artist"}}),
		Unwrap: "artists",
	}
	return listRecords(ctx, c, q, refresh, c.mapper.Artist)
}

// ArtistTopTracks lists an artist's top tracks in the configured market.
func (c *SpotifyCatalog) ArtistTopTracks(ctx context.Context, artistID string, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key:    KeyArtistTopTracks + ":" + artistID,
		URL:    "/artists/" + url.PathEscape(artistID) + "/top-tracks?" + url.Values{"market": {c.market}}.Encode(),
		Unwrap: "tracks",
	}
	return c.listTracks(ctx, q, refresh)
}

// SavedAlbums lists the user's saved albums and remembers their embedded tracks.
func (c *SpotifyCatalog) SavedAlbums(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{Key: KeySavedAlbums, URL: c.withLimit("/me/albums", nil), Item: "album"}
	return listRecords(ctx, c, q, refresh, func(a SpotifyAlbum) models.MediaItem {
		return c.mapper.Album(ctx, a)
	})
}

// AlbumTracks lists an album's tracks, each tagged with the album.
//
// The first page of an album seen in [SpotifyCatalog.SavedAlbums] is served from the
// album-track store; later pages continue from the locator stored with it. Other
// albums are fetched from the API.
func (c *SpotifyCatalog) AlbumTracks(ctx context.Context, albumID string, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key:    KeyAlbumTracks + ":" + albumID,
		URL:    "/albums/" + url.PathEscape(albumID) + "?" + url.Values{"market": {c.market}}.Encode(),
		Unwrap: "tracks",
	}

	var tracks []SpotifyTrack
	_, err := c.pages.Next(ctx, q.Key, q.URL, refresh, func(ctx context.Context, target string) (string, error) {
		if target == q.URL {
			cached, ok, err := c.mapper.albums.AlbumTracks(ctx, albumID)
			if err != nil {
				c.logger.Warn("album track store lookup failed", "album", albumID, "error", err)
			}
			if ok {
				if len(cached.Tracks) > 0 {
					c.rememberParent(albumID, cached.Tracks[0].Album)
				}
				tracks = cached.Tracks
				return cached.Next, nil
			}
		}

		body, err := c.doRequest(ctx, http.MethodGet, target)
		if err != nil {
			return "", err
		}
		p, err := parsePage(body, q)
		if err != nil {
			return "", err
		}
		if gjson.GetBytes(body, "tracks").IsObject() {
			var parent SpotifyAlbum
			if err := json.Unmarshal(body, &parent); err == nil && parent.ID != "" {
				parent.Tracks = nil
				c.rememberParent(albumID, parent)
			}
		}
		tracks = c.decodeTracks(q.Key, p.items)
		return p.next, nil
	})
	if err != nil {
		return nil, err
	}

	if parent, ok := c.parent(albumID); ok {
		for i := range tracks {
			if tracks[i].Album.ID == "" {
				tracks[i].Album = parent
			}
		}
	}
	return c.trackItems(ctx, tracks), nil
}

func (c *SpotifyCatalog) rememberParent(albumID string, album SpotifyAlbum) {
	if album.ID == "" {
		return
	}
	c.parentsMu.Lock()
	defer c.parentsMu.Unlock()
	c.parents[albumID] = album
}

func (c *SpotifyCatalog) parent(albumID string) (SpotifyAlbum, bool) {
	c.parentsMu.Lock()
	defer c.parentsMu.Unlock()
	a, ok := c.parents[albumID]
	return a, ok
}

// UserPlaylists lists the user's playlists.
func (c *SpotifyCatalog) UserPlaylists(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{Key: KeyUserPlaylists, URL: c.withLimit("/me/playlists", nil)}
	return listRecords(ctx, c, q, refresh, c.mapper.Playlist)
}

// PlaylistTracks lists a playlist's tracks. Episodes and removed tracks are skipped.
func (c *SpotifyCatalog) PlaylistTracks(ctx context.Context, playlistID string, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key:  KeyPlaylistTracks + ":" + playlistID,
		URL:  c.withLimit("/playlists/"+url.PathEscape(playlistID)+"/tracks", nil),
		Item: "track",
	}
	return c.listTracks(ctx, q, refresh)
}

// SavedShows lists the user's saved podcast shows.
func (c *SpotifyCatalog) SavedShows(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	q := Query{Key: KeySavedShows, URL: c.withLimit("/me/shows", nil), Item: "show"}
	return listRecords(ctx, c, q, refresh, c.mapper.Show)
}

// ShowEpisodes lists the episodes of a show.
func (c *SpotifyCatalog) ShowEpisodes(ctx context.Context, showID string, refresh bool) ([]models.MediaItem, error) {
	q := Query{
		Key: KeyShowEpisodes + ":" + showID,
		URL: c.withLimit("/shows/"+url.PathEscape(showID)+"/episodes", url.Values{"market": {c.market}}),
	}
	return listRecords(ctx, c, q, refresh, c.mapper.Episode)
}

// SearchTracks searches the catalog for tracks matching term.
func (c *SpotifyCatalog) SearchTracks(ctx context.Context, term string, refresh bool) ([]models.MediaItem, error) {
	if term == "" {
		return nil, fmt.Errorf("%w: empty search", shared.ErrInvalidInput)
	}
	q := Query{
		Key:    KeySearch + ":" + term,
		URL:    c.withLimit("/search", url.Values{"q": {term}, "type": {"track"}}),
		Unwrap: "tracks",
	}
	return c.listTracks(ctx, q, refresh)
}

// ReleaseRadar lists the tracks of the user's Release Radar playlist.
//
// The playlist is located by search on first use and again on refresh.
func (c *SpotifyCatalog) ReleaseRadar(ctx context.Context, refresh bool) ([]models.MediaItem, error) {
	id, err := c.releaseRadarID(ctx, refresh)
	if err != nil {
		return nil, err
	}
	return c.PlaylistTracks(ctx, id, refresh)
}

func (c *SpotifyCatalog) releaseRadarID(ctx context.Context, refresh bool) (string, error) {
	if err := c.radarLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.radarLock.Release(1)
	if c.radarID != "" && !refresh {
		return c.radarID, nil
	}

	endpoint := "/search?" + url.Values{"q": {releaseRadarQuery}, "type": {"playlist"}, "limit": {"1"}}.Encode()
	body, err := c.doRequest(ctx, "GET", endpoint)
	if err != nil {
		return "", err
	}
	p, err := parsePage(body, Query{Unwrap: "playlists"})
	if err != nil {
		return "", err
	}
	if len(p.items) == 0 {
		return "", fmt.Errorf("%w: release radar playlist not found", shared.ErrRemoteRequestFailed)
	}

	var playlist SpotifyPlaylist
	if err := json.Unmarshal(p.items[0], &playlist); err != nil || playlist.ID == "" {
		return "", fmt.Errorf("%w: release radar search result", shared.ErrMalformedResponse)
	}
	c.radarID = playlist.ID
	return c.radarID, nil
}

// ToggleSaved flips the saved state of a track.
func (c *SpotifyCatalog) ToggleSaved(ctx context.Context, trackID string) bool {
	return c.saved.Toggle(ctx, trackID)
}

// listTracks fetches a track page, refreshes saved status and maps the tracks.
func (c *SpotifyCatalog) listTracks(ctx context.Context, q Query, refresh bool) ([]models.MediaItem, error) {
	raw, err := c.Fetch(ctx, q, refresh)
	if err != nil {
		return nil, err
	}
	return c.trackItems(ctx, c.decodeTracks(q.Key, raw)), nil
}

// decodeTracks decodes track records, skipping undecodable items, episodes and removed tracks.
func (c *SpotifyCatalog) decodeTracks(key string, raw []json.RawMessage) []SpotifyTrack {
	tracks := make([]SpotifyTrack, 0, len(raw))
	for _, r := range raw {
		var t SpotifyTrack
		if err := json.Unmarshal(r, &t); err != nil {
			c.logger.Warn("skipping undecodable track", "query", key, "error", err)
			continue
		}
		if t.ID == "" || (t.Type != "" && t.Type != "track") {
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks
}

// trackItems maps tracks with their saved state. A failed contains check is
// logged and cached membership is used instead.
func (c *SpotifyCatalog) trackItems(ctx context.Context, tracks []SpotifyTrack) []models.MediaItem {
	if len(tracks) == 0 {
		return []models.MediaItem{}
	}

	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}

	liked, err := c.saved.RefreshStatus(ctx, ids)
	if err != nil {
		c.logger.Warn("saved status unavailable, using cached state", "error", err)
		liked = make([]bool, len(ids))
		for i, id := range ids {
			liked[i] = c.saved.Liked(id)
		}
	}

	items := make([]models.MediaItem, len(tracks))
	for i, t := range tracks {
		items[i] = c.mapper.Track(t, liked[i])
	}
	return items
}

// listRecords fetches a page and decodes each item as T before mapping it.
func listRecords[T any](ctx context.Context, c *SpotifyCatalog, q Query, refresh bool, mapFn func(T) models.MediaItem) ([]models.MediaItem, error) {
	raw, err := c.Fetch(ctx, q, refresh)
	if err != nil {
		return nil, err
	}

	items := make([]models.MediaItem, 0, len(raw))
	for _, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			c.logger.Warn("skipping undecodable record", "query", q.Key, "error", err)
			continue
		}
		items = append(items, mapFn(rec))
	}
	return items, nil
}
