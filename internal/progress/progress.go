// Package progress is the callback surface a fetch executor pushes its
// life cycle through. The executor stays ignorant of how updates are
// persisted.
package progress

import (
	"context"
	"log/slog"
	"math"

	"github.com/LegendarySumit/MediaDL/internal/errmsg"
	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/store"
)

// Reporter receives progress and failure events for one job.
type Reporter interface {
	// Progress reports completion as a percentage, 0-100.
	Progress(pct float64)
	// Fail reports a fatal executor error.
	Fail(msg string)
}

// StoreReporter persists events onto the job record. Store failures are
// logged and swallowed: the record is best-effort telemetry, and a failed
// progress write must not abort a download in flight.
type StoreReporter struct {
	store *store.Store
	jobID string
}

// NewReporter binds a reporter to one job id.
func NewReporter(st *store.Store, jobID string) *StoreReporter {
	return &StoreReporter{store: st, jobID: jobID}
}

// Progress writes the clamped, one-decimal percentage and keeps the record
// in the running state. Terminal records are left alone, and the stored
// percentage never moves backward: yt-dlp restarts its counter for each
// file of a merged format.
func (r *StoreReporter) Progress(pct float64) {
	pct = math.Round(clamp(pct)*10) / 10
	ctx := context.Background()

	job, err := r.store.Get(ctx, r.jobID)
	if err != nil {
		slog.Warn("progress read failed", "job_id", r.jobID, "error", err)
		return
	}
	if job.IsTerminal() || pct < job.Progress {
		return
	}

	err = r.store.Update(ctx, r.jobID, map[string]interface{}{
		"progress": pct,
		"status":   models.StatusRunning,
	})
	if err != nil {
		slog.Warn("progress write failed", "job_id", r.jobID, "error", err)
	}
}

// Fail records a terminal error with a normalized, human-oriented message.
func (r *StoreReporter) Fail(msg string) {
	msg = errmsg.Normalize(msg)

	err := r.store.Update(context.Background(), r.jobID, map[string]interface{}{
		"status": models.StatusError,
		"error":  msg,
	})
	if err != nil {
		slog.Error("error write failed", "job_id", r.jobID, "error", err)
		return
	}
	slog.Warn("job failed", "job_id", r.jobID, "error", msg, "severity", errmsg.Severity(msg))
}

func clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
