package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/fanout"
)

// Pusher drains the push channel into the fan-out hub, wrapping each sample
// in the versioned wire envelope.
type Pusher struct {
	ch  <-chan *domain.TelemetrySample
	hub *fanout.Hub
}

// NewPusher creates a push stage over the dispatcher's push channel.
func NewPusher(ch <-chan *domain.TelemetrySample, hub *fanout.Hub) *Pusher {
	return &Pusher{ch: ch, hub: hub}
}

// Run consumes until the channel closes.
func (p *Pusher) Run(ctx context.Context) error {
	for s := range p.ch {
		payload, err := json.Marshal(domain.NewEnvelope(*s))
		if err != nil {
			slog.Error("envelope marshal failed", "vehicle_id", s.VehicleID, "error", err)
			continue
		}
		p.hub.Broadcast(payload)
	}
	return nil
}
