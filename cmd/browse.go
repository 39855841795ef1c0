package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/crowdspot/internal/formatter"
	"github.com/desertthunder/crowdspot/internal/gateway"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/services"
	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/urfave/cli/v3"
)

// Categories prints the category names accepted by browse.
func (r *Runner) Categories(ctx context.Context, cmd *cli.Command) error {
	for _, c := range gateway.CategoryNames() {
		r.writePlain("%s\n", c)
	}
	return nil
}

// Browse lists a category, or the items under an id path within it.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	category := cmd.StringArg("category")
	if category == "" {
		return fmt.Errorf("%w: category (one of %s)", shared.ErrMissingArgument, strings.Join(gateway.CategoryNames(), ", "))
	}
	if err := r.init(); err != nil {
		return err
	}
	path := cmd.StringArg("path")

	items, err := r.collect(cmd, func(refresh bool) ([]models.MediaItem, error) {
		return r.gateway.ItemsAt(ctx, category, path, refresh)
	})
	if err != nil {
		return err
	}

	title := category
	if path != "" {
		title += " / " + path
	}
	return r.present(ctx, cmd, listing(title, path != "", items))
}

// Search lists tracks matching the query arguments.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(); err != nil {
		return err
	}

	query := strings.Join(cmd.Args().Slice(), " ")
	category := cmd.String("category")

	items, err := r.collect(cmd, func(refresh bool) ([]models.MediaItem, error) {
		return r.gateway.Search(ctx, category, query, refresh)
	})
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Search: %s", query)
	if strings.TrimSpace(query) == "" {
		title = category
	}
	return r.present(ctx, cmd, listing(title, false, items))
}

// Like toggles a track's saved state and reports the new state.
//
// The track's current state is looked up first, since a fresh process has no saved-track history.
func (r *Runner) Like(ctx context.Context, cmd *cli.Command) error {
	track := cmd.StringArg("track")
	if track == "" {
		return fmt.Errorf("%w: track id or URI", shared.ErrMissingArgument)
	}
	if err := r.init(); err != nil {
		return err
	}

	id := services.TrackID(track)
	if _, err := r.catalog.Saved().RefreshStatus(ctx, []string{id}); err != nil {
		return err
	}

	if !r.gateway.Favorite(ctx, track) {
		return fmt.Errorf("%w: %s", shared.ErrToggleFailed, id)
	}

	if r.catalog.Saved().Liked(id) {
		r.writePlain("%s %s\n", r.palette.OK("♥ Liked"), id)
	} else {
		r.writePlain("%s %s\n", r.palette.Help("♡ Removed from liked songs"), id)
	}
	return nil
}

// collect fetches the first page with refresh, then continues from the cursor until the
// page budget is spent or an empty page marks the end.
func (r *Runner) collect(cmd *cli.Command, fetch func(refresh bool) ([]models.MediaItem, error)) ([]models.MediaItem, error) {
	pages := cmd.Int("pages")
	all := cmd.Bool("all")
	if pages < 1 {
		pages = 1
	}

	var items []models.MediaItem
	for i := 0; all || i < pages; i++ {
		page, err := fetch(i == 0)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
	}
	r.logger.Debug("collected listing", "items", len(items))
	return items, nil
}

// present prints the listing, as JSON with --json, or writes it to --export.
func (r *Runner) present(ctx context.Context, cmd *cli.Command, l *formatter.Listing) error {
	if dir := cmd.String("export"); dir != "" {
		format, err := formatter.ParseFormat(cmd.String("format"))
		if err != nil {
			return err
		}
		result, err := formatter.WriteExport(ctx, r.httpClient, l, format, dir, func(err error) {
			r.logger.Warn("failed to save cover image", "error", err)
		})
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported %d items\n", len(l.Items))
		for _, f := range result.Files {
			r.writePlain("  %s\n", f)
		}
		return nil
	}

	if cmd.Bool("json") {
		return r.writeJSON(l, cmd.Bool("pretty"))
	}
	return r.palette.RenderListing(r.output, l)
}

// listing builds a formatter listing; drill-down listings take their artwork from the first item.
func listing(title string, drilled bool, items []models.MediaItem) *formatter.Listing {
	if items == nil {
		items = []models.MediaItem{}
	}
	l := &formatter.Listing{Title: title, Items: items}
	if drilled && len(items) > 0 {
		l.Artwork = items[0].Artwork
	}
	return l
}
