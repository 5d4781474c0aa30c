// Package semaphore gates how many downloads run at once across every
// process sharing one Redis instance.
//
// The ledger consists of an active counter, an active set and a FIFO wait
// queue. All mutations go through single atomic Redis commands; callers
// never read-modify-write shared counters locally. Queue order is entry
// order only: waiters re-try acquire independently and whichever observes
// a free slot first wins, so fairness is best-effort, not strict FIFO.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LegendarySumit/MediaDL/internal/models"
)

const (
	countKey  = "download:semaphore:count"
	activeKey = "download:semaphore:active"
	queueKey  = "download:queue"
)

// ErrAcquireTimeout is returned when no slot frees up within the caller's
// deadline. The counter is always rolled back before returning, so a
// timed-out acquire never corrupts the ledger.
var ErrAcquireTimeout = errors.New("no download slot available before timeout")

// Semaphore is the process-shared admission controller.
type Semaphore struct {
	rdb           *redis.Client
	max           int
	maxQueue      int
	retryInterval time.Duration
}

// New creates a semaphore admitting at most max concurrent holders and
// accepting at most maxQueue total jobs (active + waiting).
func New(rdb *redis.Client, max, maxQueue int) *Semaphore {
	return &Semaphore{
		rdb:           rdb,
		max:           max,
		maxQueue:      maxQueue,
		retryInterval: time.Second,
	}
}

// Acquire tries to take a slot for jobID, waiting up to timeout.
//
// The increment-then-check-then-maybe-decrement pattern briefly overshoots
// the counter instead of taking a global lock; the overshoot window is the
// time between the INCR and its corrective DECR.
func (s *Semaphore) Acquire(ctx context.Context, jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		count, err := s.rdb.Incr(ctx, countKey).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", jobID, err)
		}

		if count <= int64(s.max) {
			if err := s.rdb.SAdd(ctx, activeKey, jobID).Err(); err != nil {
				return fmt.Errorf("acquire %s: %w", jobID, err)
			}
			// Drop from the wait queue in case this was a queued retry.
			if err := s.rdb.LRem(ctx, queueKey, 0, jobID).Err(); err != nil {
				return fmt.Errorf("acquire %s: %w", jobID, err)
			}
			return nil
		}

		// Over the limit: roll the increment back and wait.
		if err := s.rdb.Decr(ctx, countKey).Err(); err != nil {
			return fmt.Errorf("acquire rollback %s: %w", jobID, err)
		}
		if err := s.enqueueOnce(ctx, jobID); err != nil {
			return err
		}

		if !time.Now().Before(deadline) {
			// The job stays queued; a later Acquire call picks it up.
			return ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *Semaphore) enqueueOnce(ctx context.Context, jobID string) error {
	_, err := s.rdb.LPos(ctx, queueKey, jobID, redis.LPosArgs{}).Result()
	if err == nil {
		return nil // already waiting
	}
	if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue check %s: %w", jobID, err)
	}
	if err := s.rdb.RPush(ctx, queueKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

// Release returns jobID's slot. Unmatched releases (crash recovery,
// double release) clamp the counter at zero instead of letting it drift
// negative.
func (s *Semaphore) Release(ctx context.Context, jobID string) error {
	if err := s.rdb.SRem(ctx, activeKey, jobID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", jobID, err)
	}
	count, err := s.rdb.Decr(ctx, countKey).Result()
	if err != nil {
		return fmt.Errorf("release %s: %w", jobID, err)
	}
	if count < 0 {
		if err := s.rdb.Set(ctx, countKey, 0, 0).Err(); err != nil {
			return fmt.Errorf("release clamp %s: %w", jobID, err)
		}
	}
	return nil
}

// Status returns a read-only snapshot of the ledger.
func (s *Semaphore) Status(ctx context.Context) (*models.SemaphoreStatus, error) {
	countStr, err := s.rdb.Get(ctx, countKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("semaphore status: %w", err)
	}
	active := parseCount(countStr)

	activeJobs, err := s.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("semaphore status: %w", err)
	}
	queuedJobs, err := s.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("semaphore status: %w", err)
	}

	available := s.max - active
	if available < 0 {
		available = 0
	}
	return &models.SemaphoreStatus{
		Active:         active,
		Max:            s.max,
		AvailableSlots: available,
		Queued:         len(queuedJobs),
		ActiveJobs:     activeJobs,
		QueuedJobs:     queuedJobs,
	}, nil
}

// CanEnqueue is the backpressure gate checked before a job record is even
// created: active + queued must stay under the queue capacity.
func (s *Semaphore) CanEnqueue(ctx context.Context) (bool, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Active+status.Queued < s.maxQueue, nil
}

// Reset clears the whole ledger. Intended only at process startup; it does
// not coordinate with in-flight Acquire calls.
func (s *Semaphore) Reset(ctx context.Context) error {
	if err := s.rdb.Del(ctx, countKey, activeKey, queueKey).Err(); err != nil {
		return fmt.Errorf("semaphore reset: %w", err)
	}
	if err := s.rdb.Set(ctx, countKey, 0, 0).Err(); err != nil {
		return fmt.Errorf("semaphore reset: %w", err)
	}
	return nil
}

// SetRetryInterval shortens the acquire polling interval; used by tests.
func (s *Semaphore) SetRetryInterval(d time.Duration) {
	s.retryInterval = d
}

func parseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
