// Package stream polls a job record and pushes its state changes to one
// client until a terminal state or a hard time ceiling.
//
// The store offers no push notifications, so each subscriber is its own
// cooperative polling loop. Cancellation is the consumer going away: the
// sink returns an error on the next write and the loop ends silently.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/store"
)

// Subscriber streams job state changes. One instance is shared by all
// connections; Stream itself is per-request.
type Subscriber struct {
	store *store.Store

	// PollInterval is the tick between record reads.
	PollInterval time.Duration
	// MaxDuration ends the stream with a timeout event regardless of
	// job state.
	MaxDuration time.Duration
	// StallTicks is the number of zero-progress ticks after which a
	// running job is declared dead.
	StallTicks int
}

// New creates a subscriber with the given polling policy.
func New(st *store.Store, pollInterval, maxDuration time.Duration, stallTicks int) *Subscriber {
	return &Subscriber{
		store:        st,
		PollInterval: pollInterval,
		MaxDuration:  maxDuration,
		StallTicks:   stallTicks,
	}
}

// Stream polls jobID and emits one event payload per state change through
// send. Payloads are "<pct>", "<pct>|<file_name>" or "ERROR:<message>".
// Nothing is emitted while progress is unchanged.
//
// It returns when the job reaches a terminal state, the record vanishes,
// the ceiling elapses, ctx is cancelled, or send fails (client gone).
func (s *Subscriber) Stream(ctx context.Context, jobID string, send func(string) error) {
	maxTicks := int(s.MaxDuration / s.PollInterval)
	lastProgress := -1.0

	for tick := 0; tick < maxTicks; tick++ {
		job, err := s.store.Get(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			send("ERROR:Job not found")
			return
		}
		if err != nil {
			slog.Warn("stream read failed", "job_id", jobID, "error", err)
			send("ERROR:Connection error")
			return
		}

		if job.Progress != lastProgress {
			payload := fmt.Sprintf("%.1f", job.Progress)
			if job.FileName != "" && job.Progress >= 100 {
				payload += "|" + job.FileName
			}
			if send(payload) != nil {
				return
			}
			lastProgress = job.Progress
		}

		if job.Error != "" {
			send("ERROR:" + job.Error)
			return
		}
		if job.Status == models.StatusDone || job.Status == models.StatusError {
			return
		}

		// Stall guard: a running job that never reports progress would
		// otherwise stay non-terminal for every observer. This is the one
		// place the read path writes the record.
		if job.Status == models.StatusRunning && tick > s.StallTicks && job.Progress == 0 {
			err := s.store.Update(ctx, jobID, map[string]interface{}{
				"status": models.StatusError,
				"error":  "Timeout: no progress",
			})
			if err != nil {
				slog.Warn("stall guard write failed", "job_id", jobID, "error", err)
			}
			send("ERROR:Download timed out (no progress)")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}

	send("ERROR:Timeout")
}
