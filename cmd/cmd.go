// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/desertthunder/crowdspot/internal/formatter"
	"github.com/desertthunder/crowdspot/internal/gateway"
	"github.com/urfave/cli/v3"
)

// listingFlags are shared by commands that print a listing.
func listingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "pages",
			Usage: "Number of pages to fetch",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Fetch pages until the listing is exhausted",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
		&cli.StringFlag{
			Name:    "export",
			Aliases: []string{"o"},
			Usage:   "Write the listing to this directory instead of printing it",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Export format (txt, csv, md, json)",
			Value: string(formatter.FormatText),
		},
	}
}

// setupCommand creates the config file and the cache database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file and initialize the cache database",
		Action: r.Setup,
	}
}

// connectCommand runs the interactive Spotify login.
func connectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "connect",
		Aliases: []string{"login"},
		Usage:   "Connect to Spotify using OAuth2",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the authorization redirect",
				Value: 2 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Print the authorization URL instead of opening a browser",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Log in again even when a credential is stored",
			},
		},
		Action: r.Connect,
	}
}

// disconnectCommand forgets the stored credential.
func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "disconnect",
		Aliases: []string{"logout"},
		Usage:   "Remove the stored Spotify credential",
		Action:  r.Disconnect,
	}
}

// statusCommand reports the connection state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show connection and cache status",
		Action: r.Status,
	}
}

// categoriesCommand lists the browsable categories.
func categoriesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "categories",
		Usage:  "List the media categories",
		Action: r.Categories,
	}
}

// browseCommand lists a category or drills into one of its items.
func browseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"ls"},
		Usage:   "List a category, or the items under an id path within it",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "category"},
			&cli.StringArg{Name: "path"},
		},
		Flags:  listingFlags(),
		Action: r.Browse,
	}
}

// searchCommand searches the catalog for tracks.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search Spotify for tracks",
		ArgsUsage: "<query...>",
		Flags: append(listingFlags(), &cli.StringFlag{
			Name:  "category",
			Usage: "Category listed when the query is empty",
			Value: gateway.CategoryTracks,
		}),
		Action: r.Search,
	}
}

// likeCommand toggles the saved state of a track.
func likeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "like",
		Aliases: []string{"fav"},
		Usage:   "Toggle whether a track is in your liked songs",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "track"},
		},
		Action: r.Like,
	}
}

// cacheCommand inspects the album-track cache.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the local album-track cache",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show how many albums and tracks are cached",
				Action: r.CacheStats,
			},
			{
				Name:   "clear",
				Usage:  "Remove every cached album",
				Action: r.CacheClear,
			},
		},
	}
}

// backupCommand exports every container of a category.
func backupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Export every playlist, album, artist or show of a category to its own directory",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "category"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output directory (default: crowdspot_backup_{epoch})",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Export format (txt, csv, md, json)",
				Value: string(formatter.FormatJSON),
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent exports (max 8)",
				Value: 4,
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Container fetches per second",
				Value: 5,
			},
			&cli.IntFlag{
				Name:  "pages",
				Usage: "Page budget per listing (0 for no limit)",
			},
		},
		Action: r.Backup,
	}
}
