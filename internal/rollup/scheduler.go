// Package rollup computes pre-aggregated buckets from the raw sample log on
// a timer, decoupled from the ingestion hot path.
package rollup

import (
	"context"
	"log/slog"
	"time"

	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

// Scheduler periodically computes due rollup buckets for each configured
// window size and re-processes the most recent closed buckets to heal gaps
// left by downtime.
type Scheduler struct {
	repo     *store.Repository
	windows  []int // window sizes in seconds
	interval time.Duration
	catchup  int // closed buckets re-processed per window per pass
	now      func() time.Time
}

// NewScheduler creates a scheduler over the given window sizes.
func NewScheduler(repo *store.Repository, windows []int, interval time.Duration, catchup int) *Scheduler {
	return &Scheduler{
		repo:     repo,
		windows:  windows,
		interval: interval,
		catchup:  catchup,
		now:      time.Now,
	}
}

// Run executes passes on a fixed interval until ctx is canceled. One pass
// runs immediately at startup so restarts converge without waiting a tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Pass(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Pass processes every configured window once. A failure in one window or
// bucket never aborts the others; failed buckets are retried next pass.
func (s *Scheduler) Pass(ctx context.Context) {
	for _, window := range s.windows {
		if ctx.Err() != nil {
			return
		}
		if err := s.processWindow(ctx, window); err != nil {
			metrics.RollupFailures.Add(1)
			slog.Error("rollup window failed", "window_seconds", window, "error", err)
		}
	}
}

// bucketStart floors t to the bucket boundary for the given window size.
func bucketStart(t time.Time, windowSeconds int) time.Time {
	w := int64(windowSeconds)
	return time.Unix((t.Unix()/w)*w, 0).UTC()
}

func (s *Scheduler) processWindow(ctx context.Context, windowSeconds int) error {
	windowDur := time.Duration(windowSeconds) * time.Second
	now := s.now()
	lastClosed := bucketStart(now, windowSeconds).Add(-windowDur)

	next, ok, err := s.nextDue(ctx, windowSeconds)
	if err != nil {
		return err
	}

	if ok {
		// Forward fill: every closed bucket after the progress marker. Stop
		// at the first failure so the marker never skips past a gap.
		for due := next; !due.After(lastClosed); due = due.Add(windowDur) {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.computeBucket(ctx, windowSeconds, due); err != nil {
				metrics.RollupFailures.Add(1)
				slog.Error("rollup bucket failed",
					"window_seconds", windowSeconds,
					"bucket_start", due,
					"error", err)
				break
			}
			if err := s.repo.SetRollupProgress(ctx, windowSeconds, due, s.now()); err != nil {
				slog.Error("rollup progress update failed",
					"window_seconds", windowSeconds, "error", err)
				break
			}
		}
	}

	// Catch-up: re-process the K most recent closed buckets regardless of the
	// marker, healing buckets whose samples arrived after they were computed.
	for i := 0; i < s.catchup; i++ {
		if ctx.Err() != nil {
			return nil
		}
		due := lastClosed.Add(-time.Duration(i) * windowDur)
		if err := s.computeBucket(ctx, windowSeconds, due); err != nil {
			metrics.RollupFailures.Add(1)
			slog.Error("rollup catch-up failed",
				"window_seconds", windowSeconds,
				"bucket_start", due,
				"error", err)
		}
	}
	return nil
}

// nextDue returns the first bucket start that needs computing: the bucket
// after the progress marker, or the bucket containing the earliest stored
// sample when the window has never been processed. ok=false means there is
// no data at all yet.
func (s *Scheduler) nextDue(ctx context.Context, windowSeconds int) (time.Time, bool, error) {
	windowDur := time.Duration(windowSeconds) * time.Second

	progress, ok, err := s.repo.RollupProgress(ctx, windowSeconds)
	if err != nil {
		return time.Time{}, false, err
	}
	if ok {
		return progress.Add(windowDur), true, nil
	}

	earliest, ok, err := s.repo.EarliestSampleTime(ctx)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return bucketStart(earliest, windowSeconds), true, nil
}

// computeBucket recomputes one bucket from raw samples and replaces its
// rollup rows. Buckets with no samples are omitted entirely.
func (s *Scheduler) computeBucket(ctx context.Context, windowSeconds int, start time.Time) error {
	buckets, err := s.repo.ComputeBuckets(ctx, windowSeconds, start)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		if err := s.repo.UpsertRollup(ctx, b); err != nil {
			return err
		}
	}
	if len(buckets) > 0 {
		metrics.RollupBuckets.Add(int64(len(buckets)))
	}
	return nil
}
