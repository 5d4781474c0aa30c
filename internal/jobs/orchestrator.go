// Package jobs glues the record store, admission semaphore, fetch engines
// and progress publisher into the per-request download flow.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/LegendarySumit/MediaDL/internal/config"
	"github.com/LegendarySumit/MediaDL/internal/downloader"
	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/progress"
	"github.com/LegendarySumit/MediaDL/internal/semaphore"
	"github.com/LegendarySumit/MediaDL/internal/store"
)

// ErrAtCapacity is the backpressure signal: the queue is full and no new
// job record was created.
var ErrAtCapacity = errors.New("server at capacity, try again later")

// Fetchers selects the engine for a platform.
type Fetchers interface {
	For(platform string) downloader.Fetcher
}

// Orchestrator runs each download as an independent background worker.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	sem      *semaphore.Semaphore
	fetchers Fetchers
	notify   func() // fires on every job transition; may be nil
}

// New wires an orchestrator. notify may be nil.
func New(cfg *config.Config, st *store.Store, sem *semaphore.Semaphore, fetchers Fetchers, notify func()) *Orchestrator {
	return &Orchestrator{cfg: cfg, store: st, sem: sem, fetchers: fetchers, notify: notify}
}

// Start admits a new download request: backpressure check, record
// creation, then a background worker owning the job's whole life cycle.
// StoreUnavailable at this stage is fatal to the request and surfaces
// immediately; without the store no job can be tracked.
func (o *Orchestrator) Start(ctx context.Context, req models.StartRequest) (*models.Job, error) {
	ok, err := o.sem.CanEnqueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("admission check: %w", err)
	}
	if !ok {
		return nil, ErrAtCapacity
	}

	job := &models.Job{
		URL:       req.URL,
		Platform:  downloader.DetectPlatform(req.URL),
		MediaType: req.MediaType,
		Format:    req.Format,
		Quality:   req.Quality,
		Status:    models.StatusQueued,
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}
	slog.Info("job created", "job_id", job.JobID, "platform", job.Platform, "type", job.MediaType)
	o.broadcast()

	go o.run(job)

	return job, nil
}

// Run dispatches an already-persisted queued job (the retry path) to a
// background worker.
func (o *Orchestrator) Run(jobID string) error {
	job, err := o.store.Get(context.Background(), jobID)
	if err != nil {
		return err
	}
	go o.run(job)
	return nil
}

// run owns one job from admission to release. It never returns an error:
// every failure ends up on the job record via the reporter.
func (o *Orchestrator) run(job *models.Job) {
	ctx := context.Background()
	rep := progress.NewReporter(o.store, job.JobID)

	if err := o.sem.Acquire(ctx, job.JobID, o.cfg.AcquireTimeout); err != nil {
		if errors.Is(err, semaphore.ErrAcquireTimeout) {
			rep.Fail("Server busy: no download slot became available")
		} else {
			rep.Fail(err.Error())
		}
		o.broadcast()
		return
	}
	defer func() {
		if err := o.sem.Release(ctx, job.JobID); err != nil {
			slog.Error("slot release failed", "job_id", job.JobID, "error", err)
		}
		o.broadcast()
	}()

	if err := o.store.Update(ctx, job.JobID, map[string]interface{}{
		"status":   models.StatusRunning,
		"progress": 0,
	}); err != nil {
		slog.Error("job start write failed", "job_id", job.JobID, "error", err)
		return
	}
	o.broadcast()
	slog.Info("job started", "job_id", job.JobID)

	dest := o.OutputPath(job)
	err := o.fetchers.For(job.Platform).Fetch(ctx, job, dest, rep)
	if err != nil {
		rep.Fail(err.Error())
		return
	}

	path, found := o.locateArtifact(job, dest)
	if !found {
		rep.Fail("Download completed but output file not found")
		return
	}

	if err := o.store.Update(ctx, job.JobID, map[string]interface{}{
		"status":    models.StatusDone,
		"progress":  100,
		"file_name": filepath.Base(path),
		"file_path": path,
	}); err != nil {
		slog.Error("job finish write failed", "job_id", job.JobID, "error", err)
		return
	}
	slog.Info("job done", "job_id", job.JobID, "file", filepath.Base(path))
}

// OutputPath is the deterministic artifact location for a job, derived
// from its id. Engines must write here; nothing is discovered by
// directory-scan heuristics on the happy path.
func (o *Orchestrator) OutputPath(job *models.Job) string {
	ext := job.Format
	if ext == "" {
		if job.MediaType == models.MediaAudio {
			ext = "m4a"
		} else {
			ext = "mp4"
		}
	}
	return filepath.Join(o.cfg.DownloadDir, fmt.Sprintf("%s_%s.%s", job.MediaType, job.JobID, ext))
}

// locateArtifact resolves the produced file. The deterministic path wins;
// the newest-mtime glob remains only as a fallback for engines that
// rewrite extensions, and is a known correctness gap under concurrency.
func (o *Orchestrator) locateArtifact(job *models.Job, dest string) (string, bool) {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, true
	}

	pattern := filepath.Join(o.cfg.DownloadDir, fmt.Sprintf("%s_%s.*", job.MediaType, job.JobID))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	latest := matches[0]
	var latestMod int64
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.ModTime().Unix() >= latestMod {
			latest = m
			latestMod = info.ModTime().Unix()
		}
	}
	return latest, true
}

func (o *Orchestrator) broadcast() {
	if o.notify != nil {
		o.notify()
	}
}
