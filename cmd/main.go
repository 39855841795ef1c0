package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/crowdspot/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnv(); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}

	runner := NewRunner(RunnerOpts{Logger: logger})
	defer runner.Close()

	app := newApp(runner)

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrAuthRequired) {
			logger.Error("not connected to Spotify, run 'crowdspot connect' first")
			runner.Close()
			os.Exit(1)
		}
		runner.Close()
		logger.Fatalf("application error: %v", err)
	}
}

// newApp builds the root command around runner.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "crowdspot",
		Usage:   "Browse, search and like your Spotify library from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("CROWDSPOT_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides the config file",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}
