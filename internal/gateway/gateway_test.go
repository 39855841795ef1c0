package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/desertthunder/crowdspot/internal/audio"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/services"
	"github.com/desertthunder/crowdspot/internal/shared"
	tu "github.com/desertthunder/crowdspot/internal/testing"
)

// mockCatalog records calls and answers each with one item named after the call.
type mockCatalog struct {
	mu      sync.Mutex
	calls   []string
	err     error
	toggled []string
	toggle  bool
}

func (m *mockCatalog) record(name string, refresh bool) ([]models.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s refresh=%v", name, refresh))
	if m.err != nil {
		return nil, m.err
	}
	return []models.MediaItem{{ID: name, Kind: models.KindPlayable, Title: name}}, nil
}

func (m *mockCatalog) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

func (m *mockCatalog) Categories(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("categories", r)
}
func (m *mockCatalog) CategoryPlaylists(_ context.Context, id string, r bool) ([]models.MediaItem, error) {
	return m.record("category:"+id, r)
}
func (m *mockCatalog) SavedTracks(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("saved-tracks", r)
}
func (m *mockCatalog) FollowedArtists(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("artists", r)
}
func (m *mockCatalog) ArtistTopTracks(_ context.Context, id string, r bool) ([]models.MediaItem, error) {
	return m.record("artist:"+id, r)
}
func (m *mockCatalog) SavedAlbums(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("albums", r)
}
func (m *mockCatalog) AlbumTracks(_ context.Context, id string, r bool) ([]models.MediaItem, error) {
	return m.record("album:"+id, r)
}
func (m *mockCatalog) UserPlaylists(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("playlists", r)
}
func (m *mockCatalog) PlaylistTracks(_ context.Context, id string, r bool) ([]models.MediaItem, error) {
	return m.record("playlist:"+id, r)
}
func (m *mockCatalog) SavedShows(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("shows", r)
}
func (m *mockCatalog) ShowEpisodes(_ context.Context, id string, r bool) ([]models.MediaItem, error) {
	return m.record("show:"+id, r)
}
func (m *mockCatalog) SearchTracks(_ context.Context, term string, r bool) ([]models.MediaItem, error) {
	return m.record("search:"+term, r)
}
func (m *mockCatalog) ReleaseRadar(_ context.Context, r bool) ([]models.MediaItem, error) {
	return m.record("release-radar", r)
}
func (m *mockCatalog) ToggleSaved(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggled = append(m.toggled, id)
	return m.toggle
}

type mockConnector struct {
	connected    bool
	disconnected bool
}

func (c *mockConnector) Connected() bool { return c.connected }
func (c *mockConnector) Connect() string { return "https://accounts.example/authorize" }
func (c *mockConnector) Disconnect() error {
	c.disconnected = true
	c.connected = false
	return nil
}

func newGateway(t *testing.T, catalog services.Catalog, feeder audio.ContentFeeder) *Gateway {
	t.Helper()
	g, err := New(Options{Catalog: catalog, Connector: &mockConnector{connected: true}, Feeder: feeder})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func TestNew(t *testing.T) {
	if _, err := New(Options{Connector: &mockConnector{}}); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument without catalog, got %v", err)
	}
	if _, err := New(Options{Catalog: &mockCatalog{}}); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument without connector, got %v", err)
	}
}

func TestGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("MediaCategories", func(t *testing.T) {
		g := newGateway(t, &mockCatalog{}, nil)
		got := g.MediaCategories()
		if len(got) != 7 || got[0] != CategoryBrowse || got[6] != CategoryReleaseRadar {
			t.Errorf("unexpected categories %v", got)
		}
		got[0] = "mutated"
		if g.MediaCategories()[0] != CategoryBrowse {
			t.Error("MediaCategories should return a copy")
		}
	})

	t.Run("Items routes each category", func(t *testing.T) {
		tests := []struct {
			category string
			want     string
		}{
			{CategoryBrowse, "categories refresh=true"},
			{CategoryTracks, "saved-tracks refresh=true"},
			{CategoryArtists, "artists refresh=true"},
			{CategoryAlbums, "albums refresh=true"},
			{CategoryPlaylists, "playlists refresh=true"},
			{CategoryShows, "shows refresh=true"},
			{CategoryReleaseRadar, "release-radar refresh=true"},
		}

		for _, tt := range tests {
			t.Run(tt.category, func(t *testing.T) {
				cat := &mockCatalog{}
				g := newGateway(t, cat, nil)
				items, err := g.Items(ctx, tt.category, true)
				if err != nil {
					t.Fatalf("Items failed: %v", err)
				}
				if len(items) != 1 {
					t.Errorf("expected 1 item, got %d", len(items))
				}
				if cat.last() != tt.want {
					t.Errorf("expected call %q, got %q", tt.want, cat.last())
				}
			})
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		g := newGateway(t, &mockCatalog{}, nil)
		if _, err := g.Items(ctx, "Podcasts", false); !errors.Is(err, shared.ErrUnknownCategory) {
			t.Errorf("expected ErrUnknownCategory, got %v", err)
		}
		if _, err := g.ItemsAt(ctx, "Podcasts", "x", false); !errors.Is(err, shared.ErrUnknownCategory) {
			t.Errorf("expected ErrUnknownCategory, got %v", err)
		}
	})

	t.Run("ItemsAt drills down", func(t *testing.T) {
		tests := []struct {
			category string
			path     string
			want     string
		}{
			{CategoryBrowse, "toplists", "category:toplists refresh=false"},
			{CategoryBrowse, "toplists/pl1", "playlist:pl1 refresh=false"},
			{CategoryArtists, "ar1", "artist:ar1 refresh=false"},
			{CategoryAlbums, "/al1/", "album:al1 refresh=false"},
			{CategoryPlaylists, "pl2", "playlist:pl2 refresh=false"},
			{CategoryShows, "sh1", "show:sh1 refresh=false"},
			{CategoryTracks, "", "saved-tracks refresh=false"},
		}

		for _, tt := range tests {
			t.Run(tt.category+" "+tt.path, func(t *testing.T) {
				cat := &mockCatalog{}
				g := newGateway(t, cat, nil)
				if _, err := g.ItemsAt(ctx, tt.category, tt.path, false); err != nil {
					t.Fatalf("ItemsAt failed: %v", err)
				}
				if cat.last() != tt.want {
					t.Errorf("expected call %q, got %q", tt.want, cat.last())
				}
			})
		}
	})

	t.Run("ItemsAt rejects paths deeper than the category", func(t *testing.T) {
		cat := &mockCatalog{}
		g := newGateway(t, cat, nil)
		for _, tc := range []struct{ category, path string }{
			{CategoryTracks, "t1"},
			{CategoryReleaseRadar, "t1"},
			{CategoryAlbums, "al1/t1"},
		} {
			if _, err := g.ItemsAt(ctx, tc.category, tc.path, false); !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("%s %s: expected ErrInvalidInput, got %v", tc.category, tc.path, err)
			}
		}
		if cat.last() != "" {
			t.Errorf("no catalog call expected, got %q", cat.last())
		}
	})

	t.Run("listing failures become empty results", func(t *testing.T) {
		cat := &mockCatalog{err: &shared.RemoteError{Status: 500}}
		g := newGateway(t, cat, nil)
		items, err := g.Items(ctx, CategoryTracks, false)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if items == nil || len(items) != 0 {
			t.Errorf("expected empty non-nil items, got %#v", items)
		}
	})

	t.Run("authentication errors reach the host", func(t *testing.T) {
		for _, cause := range []error{shared.ErrAuthRequired, shared.ErrAuthFailure} {
			g := newGateway(t, &mockCatalog{err: cause}, nil)
			if _, err := g.Items(ctx, CategoryTracks, false); !errors.Is(err, cause) {
				t.Errorf("expected %v, got %v", cause, err)
			}
		}
	})

	t.Run("Search", func(t *testing.T) {
		cat := &mockCatalog{}
		g := newGateway(t, cat, nil)

		g.Search(ctx, CategoryTracks, "  blue monday ", true)
		if cat.last() != "search:blue monday refresh=true" {
			t.Errorf("unexpected call %q", cat.last())
		}

		g.Search(ctx, CategoryAlbums, "", false)
		if cat.last() != "albums refresh=false" {
			t.Errorf("empty search should list the category, got %q", cat.last())
		}
	})

	t.Run("Favorite", func(t *testing.T) {
		cat := &mockCatalog{toggle: true}
		g := newGateway(t, cat, nil)
		if !g.Favorite(ctx, "spotify:track:t1") {
			t.Error("expected toggle to succeed")
		}
		if g.Favorite(ctx, "") {
			t.Error("empty id should not toggle")
		}
		if len(cat.toggled) != 1 || cat.toggled[0] != "spotify:track:t1" {
			t.Errorf("unexpected toggles %v", cat.toggled)
		}
	})

	t.Run("connection", func(t *testing.T) {
		conn := &mockConnector{connected: true}
		g, _ := New(Options{Catalog: &mockCatalog{}, Connector: conn})
		if !g.Connected() {
			t.Error("expected connected")
		}
		if g.Connect() == "" {
			t.Error("expected an authorization url")
		}
		if err := g.Disconnect(); err != nil || g.Connected() || !conn.disconnected {
			t.Errorf("disconnect did not propagate: %v", err)
		}
	})
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	data := []byte("abcdefgh")
	track := models.MediaItem{ID: "t1", Kind: models.KindPlayable}

	t.Run("opens playable items", func(t *testing.T) {
		feeder := audio.FeederFunc(func(_ context.Context, id string) (*audio.ContentStream, error) {
			return &audio.ContentStream{Body: tu.NewForwardOnly(data), Length: int64(len(data)), Offset: 2}, nil
		})
		g := newGateway(t, &mockCatalog{}, feeder)

		src, err := g.Stream(ctx, track)
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		defer src.Close()

		buf := make([]byte, 3)
		if _, err := src.ReadAt(buf, 0); err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if string(buf) != "cde" || src.Size() != 6 {
			t.Errorf("unexpected read %q size %d", buf, src.Size())
		}
		if n, err := src.ReadAt(buf, src.Size()); n != 0 || err != io.EOF {
			t.Errorf("expected 0, io.EOF at end; got %d, %v", n, err)
		}
	})

	t.Run("containers are not playable", func(t *testing.T) {
		g := newGateway(t, &mockCatalog{}, audio.FeederFunc(func(context.Context, string) (*audio.ContentStream, error) {
			t.Fatal("feeder should not be called")
			return nil, nil
		}))
		_, err := g.Stream(ctx, models.MediaItem{ID: "al1", Kind: models.KindContainer})
		if !errors.Is(err, shared.ErrContentUnavailable) {
			t.Errorf("expected ErrContentUnavailable, got %v", err)
		}
	})

	t.Run("no feeder", func(t *testing.T) {
		g := newGateway(t, &mockCatalog{}, nil)
		if _, err := g.Stream(ctx, track); !errors.Is(err, shared.ErrContentUnavailable) {
			t.Errorf("expected ErrContentUnavailable, got %v", err)
		}
	})

	t.Run("feeder failure", func(t *testing.T) {
		g := newGateway(t, &mockCatalog{}, audio.FeederFunc(func(context.Context, string) (*audio.ContentStream, error) {
			return nil, shared.ErrAuthRequired
		}))
		src, err := g.Stream(ctx, track)
		if src != nil || !errors.Is(err, shared.ErrContentUnavailable) {
			t.Errorf("expected no source and ErrContentUnavailable, got %v %v", src, err)
		}
	})
}

func TestGatewayWithSpotifyCatalog(t *testing.T) {
	ctx := context.Background()
	api := tu.NewFakeAPI(t)
	api.HandleJSON("GET /me/albums", `{"items":[{"album":{"id":"al1","name":"Low","images":[{"url":"https://img/low"}],
		"artists":[{"name":"David Bowie"}],
		"tracks":{"items":[{"id":"t1","name":"Speed of Life","type":"track","duration_ms":166000}],"next":null}}}],"next":null}`)
	api.HandleJSON("GET /me/tracks/contains", `[true]`)

	catalog, err := services.NewSpotifyCatalog(services.CatalogOptions{
		BaseURL: api.URL,
		Auth:    &tu.StaticAuth{},
		Albums:  services.NewMemoryAlbumTracks(),
	})
	if err != nil {
		t.Fatalf("NewSpotifyCatalog failed: %v", err)
	}
	g := newGateway(t, catalog, nil)

	albums, err := g.Items(ctx, CategoryAlbums, true)
	if err != nil || len(albums) != 1 {
		t.Fatalf("expected one album, got %v %v", albums, err)
	}
	if albums[0].Kind != models.KindContainer || albums[0].Artist != "David Bowie" {
		t.Errorf("unexpected album item %+v", albums[0])
	}

	tracks, err := g.ItemsAt(ctx, CategoryAlbums, albums[0].ID, true)
	if err != nil || len(tracks) != 1 {
		t.Fatalf("expected one track, got %v %v", tracks, err)
	}
	if tracks[0].Album != "Low" || tracks[0].Artwork != "https://img/low" || !tracks[0].IsLiked() {
		t.Errorf("unexpected track item %+v", tracks[0])
	}
	if api.Hits("GET /albums/al1") != 0 {
		t.Error("album tracks should come from the album-track store")
	}

	again, err := g.ItemsAt(ctx, CategoryAlbums, albums[0].ID, false)
	if err != nil || len(again) != 0 {
		t.Errorf("expected exhausted album listing, got %v %v", again, err)
	}
}
