// Package gateway exposes the Spotify catalog through the host's browsing contract.
//
// The host sees named categories, lists their items, drills into browsable items by
// id path, searches, opens playable items as audio sources and toggles favorites.
// Listing failures are logged and surface as empty results; only authentication
// errors reach the host so it can prompt the user to connect.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/audio"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/services"
	"github.com/desertthunder/crowdspot/internal/shared"
)

// Host-visible category names, in display order.
const (
	CategoryBrowse       = "Categories"
	CategoryTracks       = "Tracks"
	CategoryArtists      = "Artists"
	CategoryAlbums       = "Albums"
	CategoryPlaylists    = "Playlists"
	CategoryShows        = "Shows"
	CategoryReleaseRadar = "Release Radar"
)

var categories = []string{
	CategoryBrowse,
	CategoryTracks,
	CategoryArtists,
	CategoryAlbums,
	CategoryPlaylists,
	CategoryShows,
	CategoryReleaseRadar,
}

// PathSeparator joins item ids in a drill-down path.
const PathSeparator = "/"

// Connector is the part of the session manager the host drives directly.
type Connector interface {
	Connected() bool
	Connect() string
	Disconnect() error
}

type listFunc func(ctx context.Context, refresh bool) ([]models.MediaItem, error)
type drillFunc func(ctx context.Context, id string, refresh bool) ([]models.MediaItem, error)

// Gateway implements the host contract over a [services.Catalog].
type Gateway struct {
	catalog   services.Catalog
	connector Connector
	feeder    audio.ContentFeeder
	logger    *log.Logger

	roots  map[string]listFunc
	drills map[string][]drillFunc
}

// Options configures a [Gateway]. Feeder may be nil, in which case [Gateway.Stream] always fails.
type Options struct {
	Catalog   services.Catalog
	Connector Connector
	Feeder    audio.ContentFeeder
	Logger    *log.Logger
}

// New builds a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog", shared.ErrMissingArgument)
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("%w: connector", shared.ErrMissingArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	c := opts.Catalog
	return &Gateway{
		catalog:   c,
		connector: opts.Connector,
		feeder:    opts.Feeder,
		logger:    shared.WithLogger(logger, "component", "gateway"),
		roots: map[string]listFunc{
			CategoryBrowse:       c.Categories,
			CategoryTracks:       c.SavedTracks,
			CategoryArtists:      c.FollowedArtists,
			CategoryAlbums:       c.SavedAlbums,
			CategoryPlaylists:    c.UserPlaylists,
			CategoryShows:        c.SavedShows,
			CategoryReleaseRadar: c.ReleaseRadar,
		},
		drills: map[string][]drillFunc{
			CategoryBrowse:    {c.CategoryPlaylists, c.PlaylistTracks},
			CategoryArtists:   {c.ArtistTopTracks},
			CategoryAlbums:    {c.AlbumTracks},
			CategoryPlaylists: {c.PlaylistTracks},
			CategoryShows:     {c.ShowEpisodes},
		},
	}, nil
}

// CategoryNames returns the category names in display order.
func CategoryNames() []string {
	return append([]string(nil), categories...)
}

// MediaCategories returns the category names in display order.
func (g *Gateway) MediaCategories() []string {
	return CategoryNames()
}

// Items lists the top level of category.
func (g *Gateway) Items(ctx context.Context, category string, refresh bool) ([]models.MediaItem, error) {
	list, ok := g.roots[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownCategory, category)
	}
	items, err := list(ctx, refresh)
	return g.settle(category, items, err)
}

// ItemsAt lists the children of the item addressed by path, a [PathSeparator]-joined
// list of ids starting below the category. Browse categories open into playlists,
// which open into tracks.
func (g *Gateway) ItemsAt(ctx context.Context, category, path string, refresh bool) ([]models.MediaItem, error) {
	if _, ok := g.roots[category]; !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownCategory, category)
	}
	path = strings.Trim(path, PathSeparator)
	if path == "" {
		return g.Items(ctx, category, refresh)
	}

	ids := strings.Split(path, PathSeparator)
	levels := g.drills[category]
	if len(ids) > len(levels) {
		return nil, fmt.Errorf("%w: %s has no items under %q", shared.ErrInvalidInput, category, path)
	}

	items, err := levels[len(ids)-1](ctx, ids[len(ids)-1], refresh)
	return g.settle(category+PathSeparator+path, items, err)
}

// Search lists tracks matching text. An empty text lists category instead.
func (g *Gateway) Search(ctx context.Context, category, text string, refresh bool) ([]models.MediaItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return g.Items(ctx, category, refresh)
	}
	items, err := g.catalog.SearchTracks(ctx, text, refresh)
	return g.settle("search", items, err)
}

// Stream opens a playable item as a random-access audio source.
func (g *Gateway) Stream(ctx context.Context, item models.MediaItem) (audio.Source, error) {
	if !item.Playable() {
		return nil, fmt.Errorf("%w: %s is not playable", shared.ErrContentUnavailable, item.ID)
	}
	if g.feeder == nil {
		return nil, fmt.Errorf("%w: no content feeder configured", shared.ErrContentUnavailable)
	}

	src, err := audio.Open(ctx, g.feeder, item.ID)
	if err != nil {
		g.logger.Error("failed to open stream", "id", item.ID, "error", err)
		return nil, err
	}
	return src, nil
}

// Favorite toggles the saved state of a track id or URI and reports whether it changed.
func (g *Gateway) Favorite(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	return g.catalog.ToggleSaved(ctx, id)
}

// Connected reports whether a credential is stored.
func (g *Gateway) Connected() bool { return g.connector.Connected() }

// Connect starts an interactive login and returns the URL the user must open.
func (g *Gateway) Connect() string { return g.connector.Connect() }

// Disconnect forgets the stored credential.
func (g *Gateway) Disconnect() error { return g.connector.Disconnect() }

// settle turns listing failures into empty results, except authentication failures.
func (g *Gateway) settle(what string, items []models.MediaItem, err error) ([]models.MediaItem, error) {
	switch {
	case err == nil:
		if items == nil {
			items = []models.MediaItem{}
		}
		return items, nil
	case errors.Is(err, shared.ErrAuthRequired), errors.Is(err, shared.ErrAuthFailure):
		return nil, err
	default:
		g.logger.Error("listing failed", "list", what, "error", err)
		return []models.MediaItem{}, nil
	}
}
