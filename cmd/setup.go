package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template when missing and initializes the cache database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Config file created at %s\n", configPath)
		r.writePlain("  Set spotify.client_id and spotify.client_secret, or %s and %s\n", shared.EnvClientID, shared.EnvClientSecret)
	} else {
		r.writePlain("✓ Config file found at %s\n", configPath)
	}

	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	if r.config.Cache.Path == "" {
		r.writePlain("  cache.path is empty, album tracks are cached in memory only\n")
		return nil
	}

	r.logger.Info("initializing cache database", "path", r.config.Cache.Path)
	if _, err := r.albumRepository(); err != nil {
		return err
	}
	r.writePlain("✓ Cache database ready at %s\n", r.config.Cache.Path)
	return nil
}

// CacheStats prints the number of cached albums and tracks.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	repo, err := r.albumRepository()
	if err != nil {
		return err
	}

	albums, tracks, err := repo.Stats(ctx)
	if err != nil {
		return err
	}
	r.writePlain("Albums: %d\nTracks: %d\n", albums, tracks)
	return nil
}

// CacheClear empties the album-track cache.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	repo, err := r.albumRepository()
	if err != nil {
		return err
	}
	if err := repo.Purge(ctx); err != nil {
		return err
	}
	r.writePlain("✓ Cache cleared\n")
	return nil
}
