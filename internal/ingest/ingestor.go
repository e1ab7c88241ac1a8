// Package ingest implements the ingestion pipeline: transport consumption,
// validation, enrichment, and fan-out to the persistence, mirror, push, and
// alert stages.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/state"
)

// Ingestor validates raw transport payloads on a bounded work queue drained
// by a pool of workers, decoupling transport delivery rate from processing
// rate. Each accepted sample updates the vehicle cache (which enriches the
// distance delta), records the rate tick, and is dispatched downstream.
type Ingestor struct {
	queue    chan []byte
	workers  int
	vehicles *state.VehicleStore
	rate     *state.RateTracker
	disp     *Dispatcher
	now      func() time.Time
}

// NewIngestor creates an ingestor with the given queue depth and worker count.
func NewIngestor(vehicles *state.VehicleStore, rate *state.RateTracker, disp *Dispatcher, queueSize, workers int) *Ingestor {
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{
		queue:    make(chan []byte, queueSize),
		workers:  workers,
		vehicles: vehicles,
		rate:     rate,
		disp:     disp,
		now:      time.Now,
	}
}

// Enqueue hands a raw payload to the worker pool without blocking the
// transport callback. A full queue drops the payload, counted.
func (in *Ingestor) Enqueue(raw []byte) {
	select {
	case in.queue <- raw:
	default:
		metrics.IngestQueueDrops.Add(1)
	}
}

// Run drains the queue with the worker pool until ctx is canceled. On
// cancellation, payloads already queued are still processed before the
// dispatcher channels close, so downstream stages flush them.
func (in *Ingestor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < in.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case raw := <-in.queue:
					in.process(raw)
				case <-ctx.Done():
					for {
						select {
						case raw := <-in.queue:
							in.process(raw)
						default:
							return
						}
					}
				}
			}
		}()
	}
	wg.Wait()
	in.disp.Close()
	return nil
}

// Process validates, enriches, and dispatches a single raw payload. It is
// exported for transports that bypass the queue (tests, replays).
func (in *Ingestor) Process(raw []byte) (*domain.TelemetrySample, error) {
	metrics.MessagesReceived.Add(1)

	s, err := ParseSample(raw)
	if err != nil {
		metrics.MessagesInvalid.Add(1)
		slog.Debug("message rejected", "error", err)
		return nil, err
	}

	// Put serializes same-vehicle updates and sets DistanceDeltaKm from the
	// previous cached position.
	in.vehicles.Put(s)
	in.rate.Record(in.now())
	in.disp.Dispatch(s)
	return s, nil
}

func (in *Ingestor) process(raw []byte) {
	_, _ = in.Process(raw)
}
