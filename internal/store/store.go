// Package store persists job records in Redis.
//
// Each record is a string-keyed hash under "job:<id>" with a recency index
// list "jobs:all". Record TTLs are refreshed on every write, so history
// bounds itself without a garbage collector.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/LegendarySumit/MediaDL/internal/models"
)

const (
	jobPrefix   = "job:"
	jobsListKey = "jobs:all"

	maxListLimit = 1000
)

// ErrNotFound is returned when a job id is unknown to the store.
var ErrNotFound = errors.New("job not found")

// Store reads and writes job records.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a store. ttl bounds the lifetime of every record; it is
// refreshed on each update.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Create persists a new job record, filling defaults for any zero field,
// and pushes its id onto the recency index. A missing JobID is assigned.
func (s *Store) Create(ctx context.Context, job *models.Job) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	now := time.Now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.StatusQueued
	}

	key := jobPrefix + job.JobID
	if err := s.rdb.HSet(ctx, key, job.Fields()).Err(); err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	if err := s.rdb.LPush(ctx, jobsListKey, job.JobID).Err(); err != nil {
		return fmt.Errorf("index job %s: %w", job.JobID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", job.JobID, err)
	}
	return nil
}

// Get retrieves one job record. Returns ErrNotFound for unknown or
// expired ids.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	h, err := s.rdb.HGetAll(ctx, jobPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return models.JobFromHash(h), nil
}

// Update merges the named fields into an existing record, stamps
// updated_at and refreshes the TTL. There is no upsert: updating an
// unknown id returns ErrNotFound and writes nothing.
func (s *Store) Update(ctx context.Context, jobID string, fields map[string]interface{}) error {
	key := jobPrefix + jobID

	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["updated_at"] = time.Now().Unix()

	if err := s.rdb.HSet(ctx, key, merged).Err(); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire job %s: %w", jobID, err)
	}
	return nil
}

// Delete removes a record and its index entry.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	n, err := s.rdb.Del(ctx, jobPrefix+jobID).Result()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if err := s.rdb.LRem(ctx, jobsListKey, 0, jobID).Err(); err != nil {
		return fmt.Errorf("unindex job %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns up to limit jobs, most recent first. Ids present in
// the index whose records have expired are skipped silently.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	limit = clampLimit(limit)

	ids, err := s.rdb.LRange(ctx, jobsListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ByStatus returns recent jobs matching a status.
func (s *Store) ByStatus(ctx context.Context, status string, limit int) ([]*models.Job, error) {
	return s.filter(ctx, limit, func(j *models.Job) bool { return j.Status == status })
}

// ByPlatform returns recent jobs matching a platform.
func (s *Store) ByPlatform(ctx context.Context, platform string, limit int) ([]*models.Job, error) {
	return s.filter(ctx, limit, func(j *models.Job) bool { return j.Platform == platform })
}

func (s *Store) filter(ctx context.Context, limit int, keep func(*models.Job) bool) ([]*models.Job, error) {
	limit = clampLimit(limit)

	// Overfetch: the predicate drops an unknown share of the scan window.
	all, err := s.ListRecent(ctx, limit*3)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Job, 0, limit)
	for _, j := range all {
		if keep(j) {
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Count returns the number of entries in the recency index.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, jobsListKey).Result()
}

// Stats aggregates the recent history by status, platform, type and format.
func (s *Store) Stats(ctx context.Context) (*models.HistoryStats, error) {
	jobs, err := s.ListRecent(ctx, 500)
	if err != nil {
		return nil, err
	}

	stats := &models.HistoryStats{
		Total:      len(jobs),
		ByStatus:   map[string]int{},
		ByPlatform: map[string]int{},
		ByType:     map[string]int{},
		ByFormat:   map[string]int{},
	}
	for _, j := range jobs {
		stats.ByStatus[orUnknown(j.Status)]++
		stats.ByPlatform[orUnknown(j.Platform)]++
		stats.ByType[orUnknown(j.MediaType)]++
		stats.ByFormat[orUnknown(j.Format)]++
	}
	return stats, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
