package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"fleetwatch/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "fleetwatch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return repo
}

func testSample(id string, ts time.Time, speed, fuel, distance float64) *domain.TelemetrySample {
	return &domain.TelemetrySample{
		VehicleID:       id,
		Latitude:        48.85,
		Longitude:       2.35,
		SpeedKmh:        speed,
		FuelPct:         fuel,
		EngineStatus:    domain.EngineOn,
		Timestamp:       ts,
		DistanceDeltaKm: distance,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0).UTC()

	s := testSample("V1", ts, 50, 80, 0)
	if err := repo.Append(ctx, s); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := repo.QueryHistory(ctx, HistoryQuery{
		Start: ts.Add(-time.Minute),
		End:   ts.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if got[0].VehicleID != "V1" || !got[0].Timestamp.Equal(ts) ||
		got[0].SpeedKmh != 50 || got[0].FuelPct != 80 ||
		got[0].EngineStatus != domain.EngineOn {
		t.Errorf("round-trip mismatch: %+v", got[0])
	}

	// A range that excludes the sample yields an empty, non-error result.
	empty, err := repo.QueryHistory(ctx, HistoryQuery{
		Start: ts.Add(time.Hour),
		End:   ts.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("QueryHistory excluding range: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d samples from excluding range, want 0", len(empty))
	}
}

func TestHistoryRangeIsInclusive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0).UTC()

	if err := repo.Append(ctx, testSample("V1", ts, 50, 80, 0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := repo.QueryHistory(ctx, HistoryQuery{Start: ts, End: ts})
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("inclusive bounds returned %d samples, want 1", len(got))
	}
}

func TestHistoryOrderFilterLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	var batch []*domain.TelemetrySample
	for i := 4; i >= 0; i-- { // insert out of order on purpose
		batch = append(batch, testSample("V1", base.Add(time.Duration(i)*time.Minute), float64(40+i), 80, 0))
	}
	batch = append(batch, testSample("V2", base.Add(2*time.Minute), 99, 50, 0))
	if err := repo.AppendBatch(ctx, batch); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	got, err := repo.QueryHistory(ctx, HistoryQuery{
		VehicleIDs: []string{"V1"},
		Start:      base,
		End:        base.Add(time.Hour),
		Limit:      3,
	})
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d samples, want 3", len(got))
	}
	for i, s := range got {
		if s.VehicleID != "V1" {
			t.Errorf("sample %d vehicle = %s, want V1", i, s.VehicleID)
		}
		if i > 0 && got[i-1].Timestamp.After(s.Timestamp) {
			t.Errorf("samples not ordered by timestamp at index %d", i)
		}
	}
}

func TestUpsertRollupReplaces(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0).UTC()

	b := domain.RollupBucket{
		VehicleID: "V1", WindowSeconds: 300, BucketStart: start,
		AvgSpeed: 50, MaxSpeed: 60, TotalDistanceKm: 1.5, MinFuelLevel: 70,
		SampleCount: 4,
	}
	if err := repo.UpsertRollup(ctx, b); err != nil {
		t.Fatalf("UpsertRollup: %v", err)
	}

	// Re-upserting the same key replaces, never accumulates.
	b.AvgSpeed = 55
	b.SampleCount = 5
	if err := repo.UpsertRollup(ctx, b); err != nil {
		t.Fatalf("second UpsertRollup: %v", err)
	}

	got, err := repo.QueryRollups(ctx, RollupQuery{WindowSeconds: 300})
	if err != nil {
		t.Fatalf("QueryRollups: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d buckets, want 1", len(got))
	}
	if got[0].AvgSpeed != 55 || got[0].SampleCount != 5 {
		t.Errorf("bucket not replaced: %+v", got[0])
	}
}

func TestQueryRollupsUnknownWindowIsEmpty(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	b := domain.RollupBucket{
		VehicleID: "V1", WindowSeconds: 300,
		BucketStart: time.Unix(1700000000, 0).UTC(), SampleCount: 1,
	}
	if err := repo.UpsertRollup(ctx, b); err != nil {
		t.Fatalf("UpsertRollup: %v", err)
	}

	got, err := repo.QueryRollups(ctx, RollupQuery{WindowSeconds: 7})
	if err != nil {
		t.Fatalf("QueryRollups: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unknown window returned %d buckets, want 0", len(got))
	}
}

func TestComputeBucketsFormulas(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0).UTC()

	err := repo.AppendBatch(ctx, []*domain.TelemetrySample{
		testSample("V1", t0, 50, 80, 0),
		testSample("V1", t0.Add(50*time.Second), 55, 78, 1.331),
	})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	buckets, err := repo.ComputeBuckets(ctx, 60, t0)
	if err != nil {
		t.Fatalf("ComputeBuckets: %v", err)
	}
	// One V1 bucket plus the fleet-wide bucket.
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}

	for _, b := range buckets {
		if b.AvgSpeed != 52.5 {
			t.Errorf("%q avgSpeed = %v, want 52.5", b.VehicleID, b.AvgSpeed)
		}
		if b.MaxSpeed != 55 {
			t.Errorf("%q maxSpeed = %v, want 55", b.VehicleID, b.MaxSpeed)
		}
		if math.Abs(b.TotalDistanceKm-1.331) > 1e-9 {
			t.Errorf("%q totalDistance = %v, want 1.331", b.VehicleID, b.TotalDistanceKm)
		}
		if b.MinFuelLevel != 78 {
			t.Errorf("%q minFuel = %v, want 78", b.VehicleID, b.MinFuelLevel)
		}
		if b.SampleCount != 2 {
			t.Errorf("%q sampleCount = %v, want 2", b.VehicleID, b.SampleCount)
		}
	}
}

func TestComputeBucketsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0).UTC()

	err := repo.AppendBatch(ctx, []*domain.TelemetrySample{
		testSample("V1", t0, 50, 80, 0),
		testSample("V2", t0.Add(10*time.Second), 70, 40, 2.0),
		testSample("V1", t0.Add(50*time.Second), 55, 78, 1.331),
	})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	first, err := repo.ComputeBuckets(ctx, 60, t0)
	if err != nil {
		t.Fatalf("first ComputeBuckets: %v", err)
	}
	second, err := repo.ComputeBuckets(ctx, 60, t0)
	if err != nil {
		t.Fatalf("second ComputeBuckets: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("bucket counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("bucket %d differs between runs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestComputeBucketsEmptyWindow(t *testing.T) {
	repo := openTestRepo(t)
	buckets, err := repo.ComputeBuckets(context.Background(), 60, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("ComputeBuckets: %v", err)
	}
	if len(buckets) != 0 {
		t.Errorf("empty window produced %d buckets, want 0", len(buckets))
	}
}

func TestRollupProgress(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.RollupProgress(ctx, 300); err != nil || ok {
		t.Fatalf("RollupProgress on fresh db = ok=%v err=%v, want absent", ok, err)
	}

	mark := time.Unix(1700000300, 0).UTC()
	if err := repo.SetRollupProgress(ctx, 300, mark, mark.Add(time.Minute)); err != nil {
		t.Fatalf("SetRollupProgress: %v", err)
	}

	got, ok, err := repo.RollupProgress(ctx, 300)
	if err != nil || !ok {
		t.Fatalf("RollupProgress = ok=%v err=%v", ok, err)
	}
	if !got.Equal(mark) {
		t.Errorf("progress = %v, want %v", got, mark)
	}
}

func TestEarliestSampleTime(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.EarliestSampleTime(ctx); err != nil || ok {
		t.Fatalf("EarliestSampleTime on empty log = ok=%v err=%v, want absent", ok, err)
	}

	t0 := time.Unix(1700000000, 0).UTC()
	if err := repo.AppendBatch(ctx, []*domain.TelemetrySample{
		testSample("V1", t0.Add(time.Hour), 50, 80, 0),
		testSample("V2", t0, 60, 70, 0),
	}); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	got, ok, err := repo.EarliestSampleTime(ctx)
	if err != nil || !ok {
		t.Fatalf("EarliestSampleTime = ok=%v err=%v", ok, err)
	}
	if !got.Equal(t0) {
		t.Errorf("earliest = %v, want %v", got, t0)
	}
}

func TestAlertRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	a := &domain.Alert{
		VehicleID:    "V1",
		Type:         domain.AlertSpeeding,
		Severity:     domain.SeverityWarning,
		TriggerValue: 131.5,
		CreatedAt:    time.Unix(1700000000, 0).UTC(),
	}
	if err := repo.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if a.ID == 0 {
		t.Error("InsertAlert did not assign an ID")
	}

	got, err := repo.QueryAlerts(ctx, "V1", 10)
	if err != nil {
		t.Fatalf("QueryAlerts: %v", err)
	}
	if len(got) != 1 || got[0].Type != domain.AlertSpeeding || got[0].TriggerValue != 131.5 {
		t.Errorf("alert round-trip mismatch: %+v", got)
	}

	other, err := repo.QueryAlerts(ctx, "V2", 10)
	if err != nil {
		t.Fatalf("QueryAlerts V2: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("V2 alerts = %d, want 0", len(other))
	}
}
