package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/formatter"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/shared"
	"golang.org/x/time/rate"
)

// ManifestFile is the name of the summary written into the backup directory.
const ManifestFile = "backup_manifest.json"

const (
	defaultWorkers   = 4
	maxWorkers       = 8
	defaultRateLimit = 5.0
)

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Lister is the part of the gateway a backup reads from.
type Lister interface {
	ItemsAt(ctx context.Context, category, path string, refresh bool) ([]models.MediaItem, error)
}

// BackupOpts contains configuration for [Backup].
type BackupOpts struct {
	Category   string           // Category whose containers are exported
	Format     formatter.Format // Export format of each container
	OutputDir  string           // Base output directory (default: crowdspot_backup_{epoch})
	NumWorkers int              // Concurrent workers (default: 4, max: 8)
	RateLimit  float64          // Container fetches per second (default: 5)
	MaxPages   int              // Page budget per listing, 0 for no limit
	Client     *http.Client     // Used for markdown cover images; nil skips them
	Logger     *log.Logger
}

// ContainerResult is the outcome of exporting one container.
type ContainerResult struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Items   int      `json:"items"`
	Files   []string `json:"files,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Succeeded reports whether the container was written.
func (r ContainerResult) Succeeded() bool { return !r.Skipped && r.Error == "" }

// BackupResult summarizes a backup run. It is also the manifest's content.
type BackupResult struct {
	RunID           string            `json:"run_id"`
	Category        string            `json:"category"`
	Format          formatter.Format  `json:"format"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	OutputDirectory string            `json:"output_directory"`
	Total           int               `json:"total"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	Skipped         int               `json:"skipped"`
	Containers      []ContainerResult `json:"containers"`
	ManifestPath    string            `json:"-"`
}

type job struct {
	index int
	item  models.MediaItem
}

type jobResult struct {
	index  int
	result ContainerResult
}

// Backup exports every browsable item of opts.Category with a rate-limited worker pool.
//
// Listing the category itself must succeed; after that, per-container failures are
// recorded in the result and the manifest. Cancellation is not an error: containers
// that have not started are marked skipped and the manifest is still written.
func Backup(ctx context.Context, lister Lister, progress chan<- ProgressUpdate, opts BackupOpts) (*BackupResult, error) {
	if lister == nil {
		return nil, fmt.Errorf("%w: lister", shared.ErrMissingArgument)
	}
	if opts.Category == "" {
		return nil, fmt.Errorf("%w: category", shared.ErrMissingArgument)
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if _, err := formatter.ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("crowdspot_backup_%d", time.Now().Unix())
	}
	opts.NumWorkers = min(max(opts.NumWorkers, 0), maxWorkers)
	if opts.NumWorkers == 0 {
		opts.NumWorkers = defaultWorkers
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	logger := shared.WithLogger(opts.Logger, "task", "backup", "category", opts.Category)

	result := &BackupResult{
		RunID:           shared.GenerateID(),
		Category:        opts.Category,
		Format:          opts.Format,
		StartedAt:       time.Now().UTC(),
		OutputDirectory: opts.OutputDir,
	}

	containers, err := listContainers(ctx, lister, progress, opts)
	if err != nil {
		return nil, err
	}
	result.Total = len(containers)
	result.Containers = make([]ContainerResult, len(containers))
	sendProgress(progress, foundContainersUpdate(opts.Category, len(containers)))
	logger.Info("backup started", "containers", len(containers), "workers", opts.NumWorkers)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan job, len(containers))
	results := make(chan jobResult, len(containers))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go exportWorker(ctx, &wg, lister, limiter, jobs, results, opts, logger)
	}

	for i, item := range containers {
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Containers[res.index] = res.result

		switch {
		case res.result.Skipped:
			result.Skipped++
			sendProgress(progress, exportSkippedUpdate(completed, result.Total, res.result))
		case res.result.Error != "":
			result.Failed++
			sendProgress(progress, exportFailedUpdate(completed, result.Total, res.result))
		default:
			result.Succeeded++
			sendProgress(progress, exportCompletedUpdate(completed, result.Total, res.result))
		}
	}
	result.FinishedAt = time.Now().UTC()

	path := filepath.Join(opts.OutputDir, ManifestFile)
	if err := writeManifest(result, path); err != nil {
		return result, fmt.Errorf("backup completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = path
	sendProgress(progress, manifestUpdate(path))

	logger.Info("backup finished",
		"succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// listContainers drains the category and keeps the items that can be opened.
func listContainers(ctx context.Context, lister Lister, progress chan<- ProgressUpdate, opts BackupOpts) ([]models.MediaItem, error) {
	page := 0
	items, err := drain(ctx, lister, opts.Category, "", opts.MaxPages, func() {
		page++
		sendProgress(progress, fetchingContainersUpdate(opts.Category, page))
	})
	if err != nil {
		return nil, err
	}

	containers := make([]models.MediaItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !item.Kind.Browsable() || item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		containers = append(containers, item)
	}
	return containers, nil
}

// drain fetches the first page with refresh and continues from the cursor until an
// empty page or the page budget ends the listing.
func drain(ctx context.Context, lister Lister, category, path string, maxPages int, onPage func()) ([]models.MediaItem, error) {
	var all []models.MediaItem
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if onPage != nil {
			onPage()
		}
		items, err := lister.ItemsAt(ctx, category, path, page == 0)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
	}
	return all, nil
}

// exportWorker exports containers from jobs until the channel is closed.
// Every job yields exactly one result.
func exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	lister Lister,
	limiter *rate.Limiter,
	jobs <-chan job,
	results chan<- jobResult,
	opts BackupOpts,
	logger *log.Logger,
) {
	defer wg.Done()

	for j := range jobs {
		res := ContainerResult{ID: j.item.ID, Title: j.item.Title}
		if res.Title == "" {
			res.Title = j.item.ID
		}

		if ctx.Err() != nil || limiter.Wait(ctx) != nil {
			res.Skipped = true
			results <- jobResult{index: j.index, result: res}
			continue
		}

		results <- jobResult{index: j.index, result: exportContainer(ctx, lister, j.item, res, opts, logger)}
	}
}

// exportContainer lists one container and writes it under its own directory.
func exportContainer(ctx context.Context, lister Lister, item models.MediaItem, res ContainerResult, opts BackupOpts, logger *log.Logger) ContainerResult {
	children, err := drain(ctx, lister, opts.Category, item.ID, opts.MaxPages, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Skipped = true
			return res
		}
		res.Error = err.Error()
		return res
	}
	if children == nil {
		children = []models.MediaItem{}
	}
	res.Items = len(children)

	l := &formatter.Listing{Title: res.Title, Artwork: item.Artwork, Items: children}
	dir := filepath.Join(opts.OutputDir, containerDir(item.ID))
	written, err := formatter.WriteExport(ctx, opts.Client, l, opts.Format, dir, func(err error) {
		logger.Warn("failed to save cover image", "container", item.ID, "error", err)
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Files = written.Files
	return res
}

// containerDir turns an item id into a directory name.
func containerDir(id string) string {
	if s := unsafePath.ReplaceAllString(id, "_"); s != "" {
		return s
	}
	return "_"
}

func writeManifest(result *BackupResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
