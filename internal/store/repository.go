package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fleetwatch/internal/domain"
)

// HistoryQuery filters a raw-sample read. A nil/empty VehicleIDs set means
// all vehicles; zero Start/End leave that bound open. The range is inclusive.
type HistoryQuery struct {
	VehicleIDs []string
	Start      time.Time
	End        time.Time
	Limit      int
}

// RollupQuery filters a rollup-bucket read. WindowSeconds selects one
// configured window size; an unknown size simply matches no rows.
type RollupQuery struct {
	VehicleIDs    []string
	Start         time.Time
	End           time.Time
	WindowSeconds int
}

// Append durably stores a single sample.
func (r *Repository) Append(ctx context.Context, s *domain.TelemetrySample) error {
	_, err := r.conn.ExecContext(ctx, queryInsertSample,
		s.VehicleID, s.Timestamp.UnixMilli(), s.Latitude, s.Longitude,
		s.SpeedKmh, s.FuelPct, s.EngineStatus, s.DistanceDeltaKm,
	)
	if err != nil {
		return fmt.Errorf("insert sample %s: %w", s.VehicleID, err)
	}
	return nil
}

// AppendBatch durably stores samples in one transaction. Callers only see
// success after commit, so a committed sample is visible to history reads.
func (r *Repository) AppendBatch(ctx context.Context, samples []*domain.TelemetrySample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, queryInsertSample)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx,
			s.VehicleID, s.Timestamp.UnixMilli(), s.Latitude, s.Longitude,
			s.SpeedKmh, s.FuelPct, s.EngineStatus, s.DistanceDeltaKm,
		); err != nil {
			return fmt.Errorf("insert sample %s: %w", s.VehicleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// QueryHistory returns committed samples matching q, ordered by timestamp
// ascending. An empty result is a valid response, not an error.
func (r *Repository) QueryHistory(ctx context.Context, q HistoryQuery) ([]domain.TelemetrySample, error) {
	query := querySelectHistory
	conditions, args := historyConditions(q.VehicleIDs, q.Start, q.End, "ts_ms")
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts_ms"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.TelemetrySample
	for rows.Next() {
		var s domain.TelemetrySample
		var tsMs int64
		if err := rows.Scan(&s.VehicleID, &tsMs, &s.Latitude, &s.Longitude,
			&s.SpeedKmh, &s.FuelPct, &s.EngineStatus, &s.DistanceDeltaKm); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(tsMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertRollup writes b, replacing any existing row for the same bucket key.
func (r *Repository) UpsertRollup(ctx context.Context, b domain.RollupBucket) error {
	_, err := r.conn.ExecContext(ctx, queryUpsertRollup,
		b.VehicleID, b.WindowSeconds, b.BucketStart.UnixMilli(),
		b.AvgSpeed, b.MaxSpeed, b.TotalDistanceKm, b.MinFuelLevel, b.SampleCount,
	)
	if err != nil {
		return fmt.Errorf("upsert rollup %s/%d/%d: %w",
			b.VehicleID, b.WindowSeconds, b.BucketStart.UnixMilli(), err)
	}
	return nil
}

// QueryRollups returns buckets matching q ordered by bucket start then
// vehicle. A window size that was never computed yields an empty result.
func (r *Repository) QueryRollups(ctx context.Context, q RollupQuery) ([]domain.RollupBucket, error) {
	query := querySelectRollups
	conditions, args := historyConditions(q.VehicleIDs, q.Start, q.End, "bucket_start_ms")
	conditions = append(conditions, "window_seconds = ?")
	args = append(args, q.WindowSeconds)
	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY bucket_start_ms, vehicle_id"

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var out []domain.RollupBucket
	for rows.Next() {
		var b domain.RollupBucket
		var startMs int64
		if err := rows.Scan(&b.VehicleID, &b.WindowSeconds, &startMs,
			&b.AvgSpeed, &b.MaxSpeed, &b.TotalDistanceKm, &b.MinFuelLevel,
			&b.SampleCount); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		b.BucketStart = time.UnixMilli(startMs).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// ComputeBuckets aggregates raw samples for one bucket: one row per vehicle
// that reported in the window plus a fleet-wide row. Buckets with no samples
// produce an empty slice.
func (r *Repository) ComputeBuckets(ctx context.Context, windowSeconds int, bucketStart time.Time) ([]domain.RollupBucket, error) {
	startMs := bucketStart.UnixMilli()
	endMs := bucketStart.Add(time.Duration(windowSeconds) * time.Second).UnixMilli()

	rows, err := r.conn.QueryContext(ctx, queryAggregatePerVehicle, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("aggregate per vehicle: %w", err)
	}
	defer rows.Close()

	var out []domain.RollupBucket
	for rows.Next() {
		b := domain.RollupBucket{WindowSeconds: windowSeconds, BucketStart: bucketStart.UTC()}
		if err := rows.Scan(&b.VehicleID, &b.AvgSpeed, &b.MaxSpeed,
			&b.TotalDistanceKm, &b.MinFuelLevel, &b.SampleCount); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	fleet := domain.RollupBucket{
		VehicleID:     domain.FleetScope,
		WindowSeconds: windowSeconds,
		BucketStart:   bucketStart.UTC(),
	}
	err = r.conn.QueryRowContext(ctx, queryAggregateFleet, startMs, endMs).Scan(
		&fleet.AvgSpeed, &fleet.MaxSpeed, &fleet.TotalDistanceKm,
		&fleet.MinFuelLevel, &fleet.SampleCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate fleet: %w", err)
	}
	return append(out, fleet), nil
}

// RollupProgress returns the start of the last computed bucket for a window
// size, or ok=false when that window has never been computed.
func (r *Repository) RollupProgress(ctx context.Context, windowSeconds int) (time.Time, bool, error) {
	var startMs int64
	err := r.conn.QueryRowContext(ctx, querySelectProgress, windowSeconds).Scan(&startMs)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query rollup progress: %w", err)
	}
	return time.UnixMilli(startMs).UTC(), true, nil
}

// SetRollupProgress records the last computed bucket for a window size.
func (r *Repository) SetRollupProgress(ctx context.Context, windowSeconds int, bucketStart, computedAt time.Time) error {
	_, err := r.conn.ExecContext(ctx, queryUpsertProgress,
		windowSeconds, bucketStart.UnixMilli(), computedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert rollup progress: %w", err)
	}
	return nil
}

// EarliestSampleTime returns the timestamp of the oldest stored sample, or
// ok=false when the log is empty.
func (r *Repository) EarliestSampleTime(ctx context.Context) (time.Time, bool, error) {
	var tsMs sql.NullInt64
	err := r.conn.QueryRowContext(ctx, queryEarliestSample).Scan(&tsMs)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query earliest sample: %w", err)
	}
	if !tsMs.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(tsMs.Int64).UTC(), true, nil
}

// InsertAlert persists a fired alert.
func (r *Repository) InsertAlert(ctx context.Context, a *domain.Alert) error {
	res, err := r.conn.ExecContext(ctx, queryInsertAlert,
		a.VehicleID, string(a.Type), string(a.Severity), a.TriggerValue,
		a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// QueryAlerts returns recent alerts, newest first, optionally for one vehicle.
func (r *Repository) QueryAlerts(ctx context.Context, vehicleID string, limit int) ([]domain.Alert, error) {
	query := querySelectAlerts
	var args []any
	if vehicleID != "" {
		query += " WHERE vehicle_id = ?"
		args = append(args, vehicleID)
	}
	query += " ORDER BY created_at_ms DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var createdMs int64
		if err := rows.Scan(&a.ID, &a.VehicleID, &a.Type, &a.Severity,
			&a.TriggerValue, &createdMs); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// historyConditions builds shared WHERE fragments for time-ranged,
// vehicle-filtered reads over the named timestamp column.
func historyConditions(vehicleIDs []string, start, end time.Time, tsColumn string) ([]string, []any) {
	var conditions []string
	var args []any

	if len(vehicleIDs) > 0 {
		placeholders := strings.Repeat("?,", len(vehicleIDs))
		conditions = append(conditions,
			fmt.Sprintf("vehicle_id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range vehicleIDs {
			args = append(args, id)
		}
	}
	if !start.IsZero() {
		conditions = append(conditions, tsColumn+" >= ?")
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		conditions = append(conditions, tsColumn+" <= ?")
		args = append(args, end.UnixMilli())
	}
	return conditions, args
}
