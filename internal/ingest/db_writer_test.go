package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/store"
)

func openTestRepo(t *testing.T) *store.Repository {
	t.Helper()
	repo, err := store.Open(filepath.Join(t.TempDir(), "ingest_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func storedSample(id string, ts time.Time, speed float64) *domain.TelemetrySample {
	return &domain.TelemetrySample{
		VehicleID:    id,
		Latitude:     48.85,
		Longitude:    2.35,
		SpeedKmh:     speed,
		FuelPct:      60,
		EngineStatus: domain.EngineOn,
		Timestamp:    ts,
	}
}

func TestDBWriterFlushesFinalBatchOnClose(t *testing.T) {
	repo := openTestRepo(t)
	ch := make(chan *domain.TelemetrySample, 16)
	w := NewDBWriter(ch, repo, 100, time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ch <- storedSample("V1", base.Add(time.Duration(i)*time.Second), 40)
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not exit after channel close")
	}

	got, err := repo.QueryHistory(context.Background(), store.HistoryQuery{
		VehicleIDs: []string{"V1"},
		Start:      base.Add(-time.Minute),
		End:        base.Add(time.Minute),
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("persisted %d samples, want 3", len(got))
	}
}

func TestDBWriterFlushesWhenBatchFills(t *testing.T) {
	repo := openTestRepo(t)
	ch := make(chan *domain.TelemetrySample, 16)
	w := NewDBWriter(ch, repo, 2, time.Hour)

	go w.Run(context.Background())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ch <- storedSample("V2", base, 40)
	ch <- storedSample("V2", base.Add(time.Second), 45)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := repo.QueryHistory(context.Background(), store.HistoryQuery{
			VehicleIDs: []string{"V2"},
			Start:      base.Add(-time.Minute),
			End:        base.Add(time.Minute),
			Limit:      10,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch never flushed, have %d rows", len(got))
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(ch)
}
