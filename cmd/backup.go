package main

import (
	"context"

	"github.com/desertthunder/crowdspot/internal/formatter"
	"github.com/desertthunder/crowdspot/internal/gateway"
	"github.com/desertthunder/crowdspot/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Backup exports each container of a category, Playlists by default, printing progress as it goes.
func (r *Runner) Backup(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	category := cmd.StringArg("category")
	if category == "" {
		category = gateway.CategoryPlaylists
	}
	if err := r.init(); err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			r.writePlain("%s\n", u.Message)
		}
	}()

	result, err := tasks.Backup(ctx, r.gateway, progress, tasks.BackupOpts{
		Category:   category,
		Format:     format,
		OutputDir:  cmd.String("output"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
		MaxPages:   cmd.Int("pages"),
		Client:     r.httpClient,
		Logger:     r.logger,
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	summary := r.palette.OK("✓ Backed up")
	if result.Failed > 0 {
		summary = r.palette.Warn("! Backed up")
	}
	r.writePlain("%s %d of %d %s to %s (%d failed, %d skipped)\n",
		summary, result.Succeeded, result.Total, result.Category, result.OutputDirectory, result.Failed, result.Skipped)
	return nil
}
