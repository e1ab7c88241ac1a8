package ingest

import (
	"context"
	"log/slog"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

// StateMirror drains the mirror channel into Redis so external dashboards
// see near-real-time vehicle state. Mirror failures are logged and counted;
// the durable path and the push path never depend on this stage.
type StateMirror struct {
	ch     <-chan *domain.TelemetrySample
	mirror *store.RedisMirror
}

// NewStateMirror creates a mirror stage over the dispatcher's mirror channel.
func NewStateMirror(ch <-chan *domain.TelemetrySample, mirror *store.RedisMirror) *StateMirror {
	return &StateMirror{ch: ch, mirror: mirror}
}

// Run consumes until the channel closes.
func (m *StateMirror) Run(ctx context.Context) error {
	for s := range m.ch {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.mirror.UpdateState(writeCtx, s); err != nil {
			metrics.MirrorWriteFailures.Add(1)
			slog.Warn("state mirror update failed", "vehicle_id", s.VehicleID, "error", err)
		}
		cancel()
	}
	return nil
}
