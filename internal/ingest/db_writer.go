package ingest

import (
	"context"
	"log/slog"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

const dbWriteRetries = 3

// DBWriter drains the persistence channel into the repository in batches,
// flushing when the batch fills or the flush interval elapses. Repository
// slowness backs up only this channel, never the ingestion path.
type DBWriter struct {
	ch        <-chan *domain.TelemetrySample
	repo      *store.Repository
	batchSize int
	flush     time.Duration
}

// NewDBWriter creates a writer over the dispatcher's persistence channel.
func NewDBWriter(ch <-chan *domain.TelemetrySample, repo *store.Repository, batchSize int, flush time.Duration) *DBWriter {
	return &DBWriter{ch: ch, repo: repo, batchSize: batchSize, flush: flush}
}

// Run consumes until the channel closes, flushing the final partial batch
// before returning so accepted in-flight samples are not lost on shutdown.
func (w *DBWriter) Run(ctx context.Context) error {
	batch := make([]*domain.TelemetrySample, 0, w.batchSize)
	ticker := time.NewTicker(w.flush)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-w.ch:
			if !ok {
				w.flushBatch(batch)
				return nil
			}
			batch = append(batch, s)
			if len(batch) >= w.batchSize {
				w.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// flushBatch commits with a bounded retry; after the last attempt the batch
// is counted as lost and the writer moves on, so one bad batch cannot stall
// the pipeline for subsequent messages.
func (w *DBWriter) flushBatch(batch []*domain.TelemetrySample) {
	if len(batch) == 0 {
		return
	}

	backoff := 250 * time.Millisecond
	var err error
	for attempt := 1; attempt <= dbWriteRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = w.repo.AppendBatch(ctx, batch)
		cancel()

		if err == nil {
			metrics.DBWriteSuccess.Add(int64(len(batch)))
			return
		}
		slog.Warn("db write retry", "batch", len(batch), "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}

	metrics.DBWriteFailures.Add(int64(len(batch)))
	slog.Error("db write permanently failed", "batch", len(batch), "error", err)
}
