package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/formatter"
	"github.com/desertthunder/crowdspot/internal/gateway"
	"github.com/desertthunder/crowdspot/internal/repositories"
	"github.com/desertthunder/crowdspot/internal/services"
	"github.com/desertthunder/crowdspot/internal/session"
	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The session manager, catalog and gateway are built on first use so commands that only
// touch configuration never open the credential file or the cache database.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	palette     *formatter.Palette
	openBrowser func(string) error

	db      *sql.DB
	albums  services.AlbumTrackStore
	session *session.Manager
	catalog *services.SpotifyCatalog
	gateway *gateway.Gateway
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		palette:     formatter.DefaultPalette,
		openBrowser: opts.OpenBrowser,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, connectCommand, disconnectCommand, statusCommand,
		categoriesCommand, browseCommand, searchCommand, likeCommand, backupCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// Before loads the configuration named by --config, falling back to defaults when the file
// does not exist, then applies environment overrides and the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config == nil {
		r.configPath = cmd.String("config")
		config, err := shared.LoadConfig(r.configPath)
		switch {
		case errors.Is(err, shared.ErrMissingConfig):
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
			config = shared.DefaultConfig()
		case err != nil:
			return ctx, err
		}
		r.config = config
	}

	r.config.ApplyEnv()
	if err := r.config.ExpandPaths(); err != nil {
		return ctx, err
	}

	level := r.config.LogLevel
	if flag := cmd.String("log-level"); flag != "" {
		level = flag
	}
	if err := shared.SetLogLevel(r.logger, level); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// init builds the session manager, catalog and gateway once.
func (r *Runner) init() error {
	if r.gateway != nil {
		return nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	albums, err := r.albumStore()
	if err != nil {
		return err
	}

	manager, err := session.NewManager(session.Options{
		ClientID:     r.config.Spotify.ClientID,
		ClientSecret: r.config.Spotify.ClientSecret,
		RedirectURI:  r.config.Spotify.RedirectURI,
		Store:        session.NewCredentialStore(r.config.Session.CredentialsPath),
		Logger:       r.logger,
		HTTPClient:   r.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	catalog, err := services.NewSpotifyCatalog(services.CatalogOptions{
		BaseURL:           r.config.API.BaseURL,
		Market:            r.config.Spotify.Market,
		PageLimit:         r.config.Spotify.PageLimit,
		RequestsPerSecond: r.config.API.RequestsPerSecond,
		HTTPClient:        r.httpClient,
		Auth:              manager,
		Albums:            albums,
		Logger:            r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}

	gw, err := gateway.New(gateway.Options{Catalog: catalog, Connector: manager, Logger: r.logger})
	if err != nil {
		return err
	}

	r.session, r.catalog, r.gateway = manager, catalog, gw
	return nil
}

// albumStore opens the sqlite album-track cache, or an in-memory one when no path is configured.
func (r *Runner) albumStore() (services.AlbumTrackStore, error) {
	if r.albums != nil {
		return r.albums, nil
	}
	if r.config.Cache.Path == "" {
		r.albums = services.NewMemoryAlbumTracks()
		return r.albums, nil
	}

	repo, err := r.albumRepository()
	if err != nil {
		return nil, err
	}
	r.albums = repo
	return r.albums, nil
}

func (r *Runner) albumRepository() (*repositories.AlbumTrackRepository, error) {
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	if r.db == nil {
		if r.config.Cache.Path == "" {
			return nil, fmt.Errorf("%w: cache.path is not set", shared.ErrInvalidConfig)
		}
		db, err := shared.NewDatabase(r.config.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
		r.db = db
	}
	return repositories.NewAlbumTrackRepository(r.db), nil
}

// Close releases the cache database.
func (r *Runner) Close() {
	if r.db == nil {
		return
	}
	if err := r.db.Close(); err != nil {
		r.logger.Warn("failed to close cache database", "error", err)
	}
	r.db = nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	return r.writePlain("\n"+format+"\n", args...)
}
