package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/crowdspot/internal/session"
	"github.com/desertthunder/crowdspot/internal/shared"
	tu "github.com/desertthunder/crowdspot/internal/testing"
	"golang.org/x/oauth2"
)

type env struct {
	api    *tu.FakeAPI
	config *shared.Config
	dir    string
}

// newEnv prepares a fake Web API, a config pointing at it and a stored credential.
func newEnv(t *testing.T, connected bool) *env {
	t.Helper()

	dir := t.TempDir()
	api := tu.NewFakeAPI(t)

	config := shared.DefaultConfig()
	config.Spotify.ClientID = "client"
	config.Spotify.ClientSecret = "secret"
	config.Session.CredentialsPath = filepath.Join(dir, "credentials.json")
	config.Cache.Path = filepath.Join(dir, "cache.db")
	config.API.BaseURL = api.URL

	if connected {
		store := session.NewCredentialStore(config.Session.CredentialsPath)
		err := store.Save(&oauth2.Token{
			AccessToken:  "stored-token",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to store credential: %v", err)
		}
	}
	return &env{api: api, config: config, dir: dir}
}

// run executes args against a fresh runner, as a new process would.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	output := &bytes.Buffer{}
	config := *e.config
	runner := NewRunner(RunnerOpts{
		Config:      &config,
		ConfigPath:  filepath.Join(e.dir, "config.toml"),
		Logger:      shared.DiscardLogger(),
		Output:      output,
		OpenBrowser: func(string) error { return errors.New("no browser in tests") },
	})
	defer runner.Close()

	err := newApp(runner).Run(context.Background(), append([]string{"crowdspot"}, args...))
	return output.String(), err
}

func trackItem(id, name string) string {
	return fmt.Sprintf(`{"track":{"id":%q,"name":%q,"type":"track","duration_ms":200000,
		"artists":[{"name":"Artist"}],"album":{"id":"al9","name":"Album","images":[{"url":"https://img/al9"}]}}}`, id, name)
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config != nil {
				t.Error("config should be loaded lazily")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.openBrowser == nil || runner.palette == nil {
				t.Error("expected browser opener and palette defaults")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "{\"key\":\"value\"}\n" {
				t.Errorf("expected compact JSON, got %q", output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})
			if err := runner.writeJSON(map[string]any{"ch": make(chan int)}, false); err == nil {
				t.Error("expected marshal error")
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
			if err := runner.writeJSON("x", false); err == nil {
				t.Error("expected write error")
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("Hello %s\n", "World"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "Hello World\n" {
				t.Errorf("expected 'Hello World\\n', got %q", output.String())
			}
		})

		t.Run("writePlainln surrounds with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})
			runner.writePlainln("done")
			if output.String() != "\ndone\n" {
				t.Errorf("unexpected output %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
			if err := runner.writePlain("test"); err == nil {
				t.Error("expected write error")
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		names := map[string]bool{}
		for _, cmd := range runner.register() {
			names[cmd.Name] = true
		}
		for _, want := range []string{"setup", "connect", "disconnect", "status", "categories", "browse", "search", "like", "backup", "cache"} {
			if !names[want] {
				t.Errorf("missing command %q", want)
			}
		}
	})
}

func TestBefore(t *testing.T) {
	t.Run("loads the config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		content := `log_level = "debug"
[spotify]
client_id = "from-file"
market = "SE"
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		runner := NewRunner(RunnerOpts{Logger: shared.DiscardLogger(), Output: &bytes.Buffer{}})
		if err := newApp(runner).Run(context.Background(), []string{"crowdspot", "--config", path, "categories"}); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if runner.config.Spotify.ClientID != "from-file" || runner.config.Spotify.Market != "SE" {
			t.Errorf("config not loaded: %+v", runner.config.Spotify)
		}
		if runner.config.Spotify.PageLimit != 50 {
			t.Errorf("defaults should fill missing keys, got page limit %d", runner.config.Spotify.PageLimit)
		}
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Logger: shared.DiscardLogger(), Output: &bytes.Buffer{}})
		path := filepath.Join(t.TempDir(), "absent.toml")
		newApp(runner).Run(context.Background(), []string{"crowdspot", "--config", path, "categories"})
		if runner.config == nil || runner.config.Spotify.Market != "US" {
			t.Errorf("expected default config, got %+v", runner.config)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Config: shared.DefaultConfig(), Logger: shared.DiscardLogger(), Output: &bytes.Buffer{}})
		err := newApp(runner).Run(context.Background(), []string{"crowdspot", "--log-level", "loud", "categories"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestCommands(t *testing.T) {
	t.Run("categories", func(t *testing.T) {
		e := newEnv(t, true)
		out, err := e.run(t, "categories")
		if err != nil {
			t.Fatalf("categories failed: %v", err)
		}
		if !strings.Contains(out, "Release Radar") || !strings.HasPrefix(out, "Categories\n") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("browse follows pages until exhausted", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.Handle("GET /me/tracks", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("offset") == "" {
				fmt.Fprintf(w, `{"items":[%s],"next":%q}`, trackItem("t1", "First Song"), e.api.URL+"/me/tracks?offset=1")
				return
			}
			fmt.Fprintf(w, `{"items":[%s],"next":null}`, trackItem("t2", "Second Song"))
		})
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler("t2"))

		out, err := e.run(t, "browse", "--all", "Tracks")
		if err != nil {
			t.Fatalf("browse failed: %v", err)
		}
		for _, want := range []string{"Tracks", "Artist - First Song (Album)", "Artist - Second Song (Album)", "3:20", "♥"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if hits := e.api.Hits("GET /me/tracks"); hits != 2 {
			t.Errorf("expected 2 page requests, got %d", hits)
		}
		for _, b := range e.api.Bearers() {
			if b != "Bearer stored-token" {
				t.Errorf("unexpected authorization header %q", b)
			}
		}
	})

	t.Run("browse without a credential", func(t *testing.T) {
		e := newEnv(t, false)
		_, err := e.run(t, "browse", "Tracks")
		if !errors.Is(err, shared.ErrAuthRequired) {
			t.Errorf("expected ErrAuthRequired, got %v", err)
		}
		if e.api.Total() != 0 {
			t.Error("no request should reach the API")
		}
	})

	t.Run("browse requires a category", func(t *testing.T) {
		e := newEnv(t, true)
		if _, err := e.run(t, "browse"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("saved albums open from the sqlite cache in a later run", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.HandleJSON("GET /me/albums", `{"items":[{"album":{"id":"al1","name":"Low","artists":[{"name":"David Bowie"}],
			"images":[{"url":"https://img/low"}],
			"tracks":{"items":[{"id":"t1","name":"Speed of Life","type":"track","duration_ms":166000}],"next":null}}}],"next":null}`)
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler())

		out, err := e.run(t, "browse", "--json", "Albums")
		if err != nil {
			t.Fatalf("browse albums failed: %v", err)
		}
		if !strings.Contains(out, `"id": "al1"`) || !strings.Contains(out, `"kind": "browsable-container"`) {
			t.Errorf("unexpected JSON output:\n%s", out)
		}

		out, err = e.run(t, "browse", "Albums", "al1")
		if err != nil {
			t.Fatalf("browse album failed: %v", err)
		}
		if !strings.Contains(out, "Speed of Life (Low)") {
			t.Errorf("expected cached track, got:\n%s", out)
		}
		if e.api.Hits("GET /albums/al1") != 0 {
			t.Error("album tracks should come from the cache")
		}

		out, err = e.run(t, "cache", "stats")
		if err != nil || !strings.Contains(out, "Albums: 1\nTracks: 1\n") {
			t.Errorf("unexpected stats %q %v", out, err)
		}

		if _, err := e.run(t, "cache", "clear"); err != nil {
			t.Fatalf("cache clear failed: %v", err)
		}
		out, _ = e.run(t, "cache", "stats")
		if !strings.Contains(out, "Albums: 0") {
			t.Errorf("cache should be empty, got %q", out)
		}
	})

	t.Run("search and export", func(t *testing.T) {
		e := newEnv(t, true)
		var query string
		e.api.Handle("GET /search", func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("q")
			fmt.Fprintf(w, `{"tracks":{"items":[%s],"next":null}}`, strings.TrimSuffix(strings.TrimPrefix(trackItem("t5", "Heroes"), `{"track":`), "}"))
		})
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler())

		exportDir := filepath.Join(e.dir, "export")
		out, err := e.run(t, "search", "--export", exportDir, "--format", "csv", "david", "bowie")
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if query != "david bowie" {
			t.Errorf("expected joined query, got %q", query)
		}
		if !strings.Contains(out, "Exported 1 items") {
			t.Errorf("unexpected output %q", out)
		}
		csv := tu.MustReadFile(t, filepath.Join(exportDir, "listing.csv"))
		if !strings.Contains(csv, "t5,playable,Heroes,Artist,Album,200,false") {
			t.Errorf("unexpected csv:\n%s", csv)
		}
	})

	t.Run("like toggles from the remote state", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler())
		e.api.Handle("PUT /me/tracks", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		e.api.Handle("DELETE /me/tracks", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

		out, err := e.run(t, "like", "spotify:track:t1")
		if err != nil {
			t.Fatalf("like failed: %v", err)
		}
		if !strings.Contains(out, "Liked") || e.api.Hits("PUT /me/tracks") != 1 {
			t.Errorf("expected a PUT and liked output, got %q", out)
		}

		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler("t1"))
		out, err = e.run(t, "like", "t1")
		if err != nil {
			t.Fatalf("second like failed: %v", err)
		}
		if !strings.Contains(out, "Removed") || e.api.Hits("DELETE /me/tracks") != 1 {
			t.Errorf("expected a DELETE and removed output, got %q", out)
		}
	})

	t.Run("like reports a failed toggle", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler())
		e.api.Handle("PUT /me/tracks", func(w http.ResponseWriter, _ *http.Request) {
			tu.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "boom"}})
		})
		if _, err := e.run(t, "like", "t1"); !errors.Is(err, shared.ErrToggleFailed) {
			t.Errorf("expected ErrToggleFailed, got %v", err)
		}
	})

	t.Run("status", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.HandleJSON("GET /me", `{"id":"u1","display_name":"Ziggy","product":"premium"}`)

		out, err := e.run(t, "status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		for _, want := range []string{"Connected", "Ziggy (u1)", "premium", "Device:", "Cache:   0 albums, 0 tracks"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("status when disconnected", func(t *testing.T) {
		e := newEnv(t, false)
		out, err := e.run(t, "status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !strings.Contains(out, "Not connected") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("disconnect removes the credential", func(t *testing.T) {
		e := newEnv(t, true)
		if _, err := e.run(t, "disconnect"); err != nil {
			t.Fatalf("disconnect failed: %v", err)
		}
		tu.AssertFileMissing(t, e.config.Session.CredentialsPath)
	})

	t.Run("connect when already connected", func(t *testing.T) {
		e := newEnv(t, true)
		out, err := e.run(t, "connect")
		if err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !strings.Contains(out, "Already connected") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("backup exports each playlist", func(t *testing.T) {
		e := newEnv(t, true)
		e.api.HandleJSON("GET /me/playlists", `{"items":[
			{"id":"p1","name":"Road Trip","images":[{"url":"https://img/p1"}]},
			{"id":"p2","name":"Focus"}],"next":null}`)
		e.api.Handle("GET /playlists/p1/tracks", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `{"items":[%s,%s],"next":null}`, trackItem("t1", "One"), trackItem("t2", "Two"))
		})
		e.api.Handle("GET /playlists/p2/tracks", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `{"items":[%s],"next":null}`, trackItem("t3", "Three"))
		})
		e.api.Handle("GET /me/tracks/contains", tu.ContainsHandler("t1"))

		dir := filepath.Join(e.dir, "backup")
		out, err := e.run(t, "backup", "-o", dir, "--format", "txt", "--rate", "1000")
		if err != nil {
			t.Fatalf("backup failed: %v", err)
		}
		if !strings.Contains(out, "Backed up 2 of 2 Playlists") {
			t.Errorf("unexpected output %q", out)
		}
		txt := tu.MustReadFile(t, filepath.Join(dir, "p1", "listing.txt"))
		if !strings.Contains(txt, "Artist - One (Album)") || !strings.Contains(txt, "Artist - Two (Album)") {
			t.Errorf("unexpected listing:\n%s", txt)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "p2", "listing.txt"))
		tu.AssertFileExists(t, filepath.Join(dir, "backup_manifest.json"))
	})

	t.Run("backup rejects an unknown format", func(t *testing.T) {
		e := newEnv(t, true)
		if _, err := e.run(t, "backup", "--format", "xml"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if e.api.Total() != 0 {
			t.Error("no request should reach the API")
		}
	})

	t.Run("setup creates the config file and cache", func(t *testing.T) {
		e := newEnv(t, false)
		out, err := e.run(t, "setup")
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		tu.AssertFileExists(t, filepath.Join(e.dir, "config.toml"))
		tu.AssertFileExists(t, e.config.Cache.Path)
		if !strings.Contains(out, "Config file created") || !strings.Contains(out, "Cache database ready") {
			t.Errorf("unexpected output %q", out)
		}
	})
}
