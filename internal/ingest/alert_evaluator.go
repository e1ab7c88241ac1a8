package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

// AlertEvaluator runs the alert rules against each accepted sample,
// persisting fired alerts and publishing them to the Redis alert channel
// when the mirror is enabled. A per-vehicle/rule dedup window keeps a
// sustained violation from firing on every sample.
type AlertEvaluator struct {
	ch     <-chan *domain.TelemetrySample
	repo   *store.Repository
	mirror *store.RedisMirror // may be nil
	rules  []domain.AlertRule

	dedupTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewAlertEvaluator creates an evaluator using the default rule set.
func NewAlertEvaluator(ch <-chan *domain.TelemetrySample, repo *store.Repository, mirror *store.RedisMirror, dedupTTL time.Duration) *AlertEvaluator {
	return &AlertEvaluator{
		ch:        ch,
		repo:      repo,
		mirror:    mirror,
		rules:     domain.DefaultAlertRules,
		dedupTTL:  dedupTTL,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// Run consumes until the channel closes.
func (e *AlertEvaluator) Run(ctx context.Context) error {
	for s := range e.ch {
		e.evaluate(s)
	}
	return nil
}

func (e *AlertEvaluator) evaluate(s *domain.TelemetrySample) {
	for _, rule := range e.rules {
		if !rule.Evaluator(s) {
			continue
		}
		if e.isDuplicate(s.VehicleID, rule.Type) {
			continue
		}

		alert := &domain.Alert{
			VehicleID:    s.VehicleID,
			Type:         rule.Type,
			Severity:     rule.Severity,
			TriggerValue: rule.Value(s),
			CreatedAt:    e.now().UTC(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.repo.InsertAlert(ctx, alert); err != nil {
			cancel()
			slog.Error("alert insert failed", "vehicle_id", s.VehicleID, "type", rule.Type, "error", err)
			continue
		}
		metrics.AlertsFired.Add(1)
		e.markFired(s.VehicleID, rule.Type)

		if e.mirror != nil {
			if err := e.mirror.PublishAlert(ctx, alert); err != nil {
				slog.Warn("alert publish failed", "vehicle_id", s.VehicleID, "error", err)
			}
		}
		cancel()
	}
}

func (e *AlertEvaluator) isDuplicate(vehicleID string, t domain.AlertType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	fired, ok := e.lastFired[vehicleID+"|"+string(t)]
	return ok && e.now().Sub(fired) < e.dedupTTL
}

func (e *AlertEvaluator) markFired(vehicleID string, t domain.AlertType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFired[vehicleID+"|"+string(t)] = e.now()
}
