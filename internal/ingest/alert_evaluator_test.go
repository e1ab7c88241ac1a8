package ingest

import (
	"context"
	"testing"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/store"
)

func runEvaluator(t *testing.T, e *AlertEvaluator, ch chan *domain.TelemetrySample, samples ...*domain.TelemetrySample) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(context.Background())
	}()
	for _, s := range samples {
		ch <- s
	}
	close(ch)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("evaluator did not exit after channel close")
	}
}

func TestAlertEvaluatorFiresAndDedups(t *testing.T) {
	repo := openTestRepo(t)
	ch := make(chan *domain.TelemetrySample, 8)
	e := NewAlertEvaluator(ch, repo, nil, time.Minute)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	speeding := storedSample("V1", ts, 135)
	again := storedSample("V1", ts.Add(time.Second), 140)
	lowFuel := storedSample("V1", ts.Add(2*time.Second), 40)
	lowFuel.FuelPct = 5

	runEvaluator(t, e, ch, speeding, again, lowFuel)

	alerts, err := repo.QueryAlerts(context.Background(), "V1", 10)
	if err != nil {
		t.Fatalf("query alerts: %v", err)
	}
	// Second speeding sample within the dedup window is suppressed; the low
	// fuel sample fires a distinct rule.
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(alerts), alerts)
	}
	types := map[domain.AlertType]bool{}
	for _, a := range alerts {
		types[a.Type] = true
	}
	if !types[domain.AlertSpeeding] || !types[domain.AlertLowFuel] {
		t.Fatalf("alert types = %v, want SPEEDING and LOW_FUEL", types)
	}
}

func TestAlertEvaluatorRefiresAfterDedupTTL(t *testing.T) {
	repo := openTestRepo(t)
	ch := make(chan *domain.TelemetrySample, 8)
	e := NewAlertEvaluator(ch, repo, nil, time.Minute)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	first := storedSample("V2", clock, 150)
	second := storedSample("V2", clock.Add(2*time.Minute), 150)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(context.Background())
	}()
	ch <- first
	// Let the first fire record its dedup mark before moving the clock.
	waitForAlerts(t, repo, "V2", 1)
	clock = clock.Add(2 * time.Minute)
	ch <- second
	close(ch)
	<-done

	waitForAlerts(t, repo, "V2", 2)
}

func TestAlertEvaluatorIgnoresNormalSamples(t *testing.T) {
	repo := openTestRepo(t)
	ch := make(chan *domain.TelemetrySample, 8)
	e := NewAlertEvaluator(ch, repo, nil, time.Minute)

	runEvaluator(t, e, ch, storedSample("V3", time.Now().UTC(), 80))

	alerts, err := repo.QueryAlerts(context.Background(), "V3", 10)
	if err != nil {
		t.Fatalf("query alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts for a normal sample, want 0", len(alerts))
	}
}

func waitForAlerts(t *testing.T, repo *store.Repository, vehicleID string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		alerts, err := repo.QueryAlerts(context.Background(), vehicleID, 10)
		if err != nil {
			t.Fatalf("query alerts: %v", err)
		}
		if len(alerts) >= want {
			if len(alerts) != want {
				t.Fatalf("got %d alerts, want %d", len(alerts), want)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d alerts, have %d", want, len(alerts))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
