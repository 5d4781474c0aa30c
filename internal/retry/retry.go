// Package retry creates follow-up jobs for failed downloads and tracks
// their lineage.
//
// A retry is a fresh job record linked to its parent; the failed record
// keeps its status and error untouched so failure history survives. Chains
// are simple paths: each record has at most one parent and one child, and
// a record that already spawned a retry refuses to spawn another.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/LegendarySumit/MediaDL/internal/models"
	"github.com/LegendarySumit/MediaDL/internal/store"
)

var (
	// ErrRetryExhausted is returned when the record's state or budget
	// disallow another attempt.
	ErrRetryExhausted = errors.New("job cannot be retried")
	// ErrAlreadyRetried is returned for a record that already has a child;
	// overwriting the link would silently orphan the earlier retry.
	ErrAlreadyRetried = errors.New("job already has a retry")
)

// Chains cannot legitimately grow past the retry budget; the cap only
// guards the walk against corrupted links.
const maxChainLen = 64

// Manager tracks retries against a shared budget.
type Manager struct {
	store      *store.Store
	maxRetries int
}

// New creates a retry manager. maxRetries bounds retry_count across a
// whole chain, not per record.
func New(st *store.Store, maxRetries int) *Manager {
	return &Manager{store: st, maxRetries: maxRetries}
}

// Overrides lets a retry replace individual request parameters of the
// original job. Empty fields inherit.
type Overrides struct {
	URL       string
	Platform  string
	MediaType string
	Format    string
	Quality   string
}

// CanRetry reports whether jobID may be retried: the record exists, ended
// in error or cancelled, and has budget left.
func (m *Manager) CanRetry(ctx context.Context, jobID string) (bool, error) {
	job, err := m.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status != models.StatusError && job.Status != models.StatusCancelled {
		return false, nil
	}
	return job.RetryCount < m.maxRetries, nil
}

// CreateRetry builds a queued copy of the failed job, bumps the retry
// count, and links both records. Returns the new job id.
func (m *Manager) CreateRetry(ctx context.Context, jobID string, ov *Overrides) (string, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.ChildJobID != "" {
		return "", fmt.Errorf("retry %s: %w", jobID, ErrAlreadyRetried)
	}
	if job.Status != models.StatusError && job.Status != models.StatusCancelled {
		return "", fmt.Errorf("retry %s: status %q: %w", jobID, job.Status, ErrRetryExhausted)
	}
	if job.RetryCount >= m.maxRetries {
		return "", fmt.Errorf("retry %s: budget spent (%d/%d): %w", jobID, job.RetryCount, m.maxRetries, ErrRetryExhausted)
	}

	child := &models.Job{
		URL:         job.URL,
		Platform:    job.Platform,
		MediaType:   job.MediaType,
		Format:      job.Format,
		Quality:     job.Quality,
		Status:      models.StatusQueued,
		RetryCount:  job.RetryCount + 1,
		ParentJobID: jobID,
	}
	if ov != nil {
		applyOverrides(child, ov)
	}

	if err := m.store.Create(ctx, child); err != nil {
		return "", err
	}

	// The original keeps its status and error; only the forward link moves.
	if err := m.store.Update(ctx, jobID, map[string]interface{}{
		"child_job_id": child.JobID,
	}); err != nil {
		return "", err
	}
	return child.JobID, nil
}

func applyOverrides(job *models.Job, ov *Overrides) {
	if ov.URL != "" {
		job.URL = ov.URL
	}
	if ov.Platform != "" {
		job.Platform = ov.Platform
	}
	if ov.MediaType != "" {
		job.MediaType = ov.MediaType
	}
	if ov.Format != "" {
		job.Format = ov.Format
	}
	if ov.Quality != "" {
		job.Quality = ov.Quality
	}
}

// Chain returns the full lineage containing jobID, oldest first.
func (m *Manager) Chain(ctx context.Context, jobID string) ([]string, error) {
	if _, err := m.store.Get(ctx, jobID); err != nil {
		return nil, err
	}

	chain := []string{jobID}

	// Walk back to the root.
	current := jobID
	for len(chain) < maxChainLen {
		job, err := m.store.Get(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			break // expired ancestor; chain starts where history survives
		}
		if err != nil {
			return nil, err
		}
		if job.ParentJobID == "" {
			break
		}
		chain = append([]string{job.ParentJobID}, chain...)
		current = job.ParentJobID
	}

	// Walk forward to the newest descendant.
	current = jobID
	for len(chain) < maxChainLen {
		job, err := m.store.Get(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if job.ChildJobID == "" {
			break
		}
		chain = append(chain, job.ChildJobID)
		current = job.ChildJobID
	}

	return chain, nil
}

// Info returns the retry budget and lineage links for one job.
func (m *Manager) Info(ctx context.Context, jobID string) (*models.RetryInfo, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	can, err := m.CanRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	remaining := m.maxRetries - job.RetryCount
	if remaining < 0 {
		remaining = 0
	}
	return &models.RetryInfo{
		JobID:            jobID,
		RetryCount:       job.RetryCount,
		MaxRetries:       m.maxRetries,
		RetriesRemaining: remaining,
		CanRetry:         can,
		ParentJobID:      job.ParentJobID,
		ChildJobID:       job.ChildJobID,
	}, nil
}
