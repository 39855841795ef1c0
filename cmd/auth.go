package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crowdspot/internal/server"
	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/urfave/cli/v3"
)

// Connect runs the authorization code flow: it serves the redirect address, opens the
// authorization URL and waits for the callback to hand the code to the session manager.
func (r *Runner) Connect(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(); err != nil {
		return err
	}

	if r.session.Connected() && !cmd.Bool("force") {
		r.writePlain("✓ Already connected (use --force to log in again)\n")
		return nil
	}

	authURL := r.session.Connect()

	srv := server.NewCallbackServer(r.config.Server.Addr(), r.session, r.logger)
	if _, err := srv.Start(); err != nil {
		return err
	}

	opened := false
	if !cmd.Bool("no-browser") {
		if err := r.openBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
		} else {
			opened = true
		}
	}
	if opened {
		r.writePlain("→ Opened your browser to authorize crowdspot\n")
	} else {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := srv.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: authorization timed out after %s", shared.ErrAuthRequired, timeout)
		}
		return fmt.Errorf("authorization failed: %w", err)
	}

	r.writePlainln("✓ Connected to Spotify")
	if user, err := r.catalog.UserProfile(ctx); err != nil {
		r.logger.Warn("failed to fetch profile", "error", err)
	} else {
		r.writePlain("  Logged in as %s\n", user.DisplayName)
	}
	return nil
}

// Disconnect removes the stored credential.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.gateway.Disconnect(); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	r.writePlain("✓ Disconnected\n")
	return nil
}

// Status reports whether a credential is stored and, when it is, who it belongs to.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(); err != nil {
		return err
	}

	if !r.gateway.Connected() {
		r.writePlain("%s\n", r.palette.Warn("✗ Not connected"))
		r.writePlain("  Run 'crowdspot connect' to log in\n")
		return nil
	}

	s, err := r.session.Session(ctx)
	if err != nil {
		return err
	}
	user, err := r.catalog.UserProfile(ctx)
	if err != nil {
		return err
	}

	r.writePlain("%s\n", r.palette.OK("✓ Connected"))
	r.writePlain("  User:    %s (%s)\n", user.DisplayName, user.ID)
	if user.Product != "" {
		r.writePlain("  Plan:    %s\n", user.Product)
	}
	r.writePlain("  Device:  %s\n", s.DeviceID())

	if r.config.Cache.Path != "" {
		repo, err := r.albumRepository()
		if err != nil {
			return err
		}
		albums, tracks, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		r.writePlain("  Cache:   %d albums, %d tracks\n", albums, tracks)
	}
	return nil
}
