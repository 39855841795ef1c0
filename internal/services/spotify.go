// Spotify Web API transport and record types
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL   = "https://api.spotify.com/v1"
	defaultMarket    = "US"
	defaultPageLimit = 50
	maxIDsPerRequest = 50
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Country     string         `json:"country"`
	Product     string         `json:"product"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track. Tracks nested in an album omit Album.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int64           `json:"duration_ms"`
	IsLocal    bool            `json:"is_local"`
	URI        string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

type albumTracks struct {
	Items []SpotifyTrack `json:"items"`
	Next  *string        `json:"next"`
	Total int            `json:"total"`
}

// SpotifyAlbum represents a Spotify album. Full album objects embed their first page of tracks.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
	Tracks      *albumTracks    `json:"tracks,omitempty"`
}

// Owner is the user owning a playlist.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type playlistTracksRef struct {
	Total int `json:"total"`
}

// SpotifyPlaylist represents a simplified playlist object.
type SpotifyPlaylist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Owner       Owner             `json:"owner"`
	Public      bool              `json:"public"`
	Tracks      playlistTracksRef `json:"tracks"`
	Images      []SpotifyImage    `json:"images"`
	URI         string            `json:"uri"`
}

// SpotifyCategory represents a browse category.
type SpotifyCategory struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Icons []SpotifyImage `json:"icons"`
}

// SpotifyShow represents a podcast show.
type SpotifyShow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Publisher     string         `json:"publisher"`
	Description   string         `json:"description"`
	Images        []SpotifyImage `json:"images"`
	TotalEpisodes int            `json:"total_episodes"`
	URI           string         `json:"uri"`
}

// SpotifyEpisode represents a podcast episode.
type SpotifyEpisode struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	DurationMS  int64          `json:"duration_ms"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

// Query is one logical paginated listing.
type Query struct {
	// Key identifies the query in the [PageCache].
	Key string
	// URL locates the first page, relative to the API base or absolute.
	URL string
	// Unwrap names a key whose object is the page, or whose array is the item list.
	Unwrap string
	// Item names a per-item key holding the record, as in {"added_at": ..., "track": {...}}.
	Item string
}

// page is a parsed listing response.
type page struct {
	items []json.RawMessage
	next  string
}

// CatalogOptions configures a [SpotifyCatalog].
type CatalogOptions struct {
	BaseURL           string
	Market            string
	PageLimit         int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Auth              Authorizer
	Albums            AlbumTrackStore
	Logger            *log.Logger
}

// SpotifyCatalog implements [Catalog] and [LibraryAPI] over the Web API.
type SpotifyCatalog struct {
	baseURL    string
	market     string
	limit      int
	httpClient *http.Client
	auth       Authorizer
	limiter    *rate.Limiter
	pages      *PageCache
	mapper     *Mapper
	saved      *SavedTracks
	logger     *log.Logger

	radarLock *semaphore.Weighted
	radarID   string

	parentsMu sync.Mutex
	parents   map[string]SpotifyAlbum
}

// NewSpotifyCatalog creates a catalog client.
func NewSpotifyCatalog(opts CatalogOptions) (*SpotifyCatalog, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("%w: authorizer", shared.ErrMissingArgument)
	}
	if opts.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("%w: negative request rate", shared.ErrInvalidConfig)
	}

	c := &SpotifyCatalog{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		market:     opts.Market,
		limit:      opts.PageLimit,
		httpClient: opts.HTTPClient,
		auth:       opts.Auth,
		limiter:    newLimiter(opts.RequestsPerSecond),
		pages:      NewPageCache(),
		logger:     opts.Logger,
		radarLock:  semaphore.NewWeighted(1),
		parents:    make(map[string]SpotifyAlbum),
	}
	if c.baseURL == "" {
		c.baseURL = spotifyBaseURL
	}
	if c.market == "" {
		c.market = defaultMarket
	}
	if c.limit <= 0 {
		c.limit = defaultPageLimit
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = shared.DiscardLogger()
	}
	c.logger = shared.WithLogger(c.logger, "component", "catalog")

	albums := opts.Albums
	if albums == nil {
		albums = NewMemoryAlbumTracks()
	}
	c.mapper = NewMapper(albums, c.logger)
	c.saved = NewSavedTracks(c, c.logger)
	return c, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
}

// Saved returns the saved-track cache fed by this catalog.
func (c *SpotifyCatalog) Saved() *SavedTracks { return c.saved }

// Pages returns the pagination cache backing every listing.
func (c *SpotifyCatalog) Pages() *PageCache { return c.pages }

// resolve turns an endpoint into an absolute URL; next links are already absolute.
func (c *SpotifyCatalog) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.baseURL + endpoint
}

// doRequest performs an authenticated request and returns the response body.
func (c *SpotifyCatalog) doRequest(ctx context.Context, method, endpoint string) ([]byte, error) {
	target := c.resolve(endpoint)

	var body []byte
	err := c.auth.Do(ctx, func(bearer string) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", shared.ErrRemoteRequestFailed, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: failed to read response: %w", shared.ErrRemoteRequestFailed, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return shared.NewRemoteError(resp.StatusCode, target, gjson.GetBytes(data, "error.message").String())
		}

		body = data
		return nil
	})
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", target, "error", err)
		return nil, err
	}
	return body, nil
}

// Fetch returns the next page of items for q, honoring the stored cursor.
func (c *SpotifyCatalog) Fetch(ctx context.Context, q Query, refresh bool) ([]json.RawMessage, error) {
	var items []json.RawMessage
	_, err := c.pages.Next(ctx, q.Key, q.URL, refresh, func(ctx context.Context, target string) (string, error) {
		body, err := c.doRequest(ctx, http.MethodGet, target)
		if err != nil {
			return "", err
		}
		p, err := parsePage(body, q)
		if err != nil {
			return "", err
		}
		items = p.items
		return p.next, nil
	})
	return items, err
}

// parsePage extracts items and the next locator from a listing response.
func parsePage(body []byte, q Query) (page, error) {
	if !gjson.ValidBytes(body) {
		return page{}, fmt.Errorf("%w: invalid JSON", shared.ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return page{}, fmt.Errorf("%w: expected an object", shared.ErrMalformedResponse)
	}

	list := root.Get("items")
	if q.Unwrap != "" {
		switch sub := root.Get(q.Unwrap); {
		case sub.IsObject():
			root = sub
			list = root.Get("items")
		case sub.IsArray():
			list = sub
		}
	}
	if !list.IsArray() {
		return page{}, fmt.Errorf("%w: no item list", shared.ErrMalformedResponse)
	}

	var p page
	if next := root.Get("next"); next.Type == gjson.String {
		p.next = next.Str
	}

	list.ForEach(func(_, item gjson.Result) bool {
		if q.Item != "" {
			item = item.Get(q.Item)
		}
		if item.Exists() && item.Type != gjson.Null {
			p.items = append(p.items, json.RawMessage(item.Raw))
		}
		return true
	})
	return p, nil
}

// Contains reports, positionally, whether each id is in the user's saved tracks.
func (c *SpotifyCatalog) Contains(ctx context.Context, ids []string) ([]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxIDsPerRequest {
		return nil, fmt.Errorf("%w: at most %d ids per request", shared.ErrInvalidInput, maxIDsPerRequest)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/me/tracks/contains?ids="+url.QueryEscape(strings.Join(ids, ",")))
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if !gjson.ValidBytes(body) || !result.IsArray() {
		return nil, fmt.Errorf("%w: contains response is not an array", shared.ErrMalformedResponse)
	}
	flags := result.Array()
	if len(flags) != len(ids) {
		return nil, fmt.Errorf("%w: contains returned %d flags for %d ids", shared.ErrMalformedResponse, len(flags), len(ids))
	}

	out := make([]bool, len(flags))
	for i, f := range flags {
		out[i] = f.Type == gjson.True
	}
	return out, nil
}

// SaveTracks adds ids to the user's saved tracks.
func (c *SpotifyCatalog) SaveTracks(ctx context.Context, ids []string) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/me/tracks?ids="+url.QueryEscape(strings.Join(ids, ",")))
	return err
}

// RemoveTracks removes ids from the user's saved tracks.
func (c *SpotifyCatalog) RemoveTracks(ctx context.Context, ids []string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/me/tracks?ids="+url.QueryEscape(strings.Join(ids, ",")))
	return err
}

// UserProfile retrieves the current authenticated user's profile.
func (c *SpotifyCatalog) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/me")
	if err != nil {
		return nil, err
	}
	var user SpotifyUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrMalformedResponse, err)
	}
	return &user, nil
}
