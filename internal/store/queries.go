package store

// Static SQL is collected here so it is easy to audit; history and rollup
// reads build their WHERE clauses dynamically in repository.go.
const (
	queryInsertSample = `
		INSERT INTO telemetry_samples
			(vehicle_id, ts_ms, latitude, longitude, speed_kmh, fuel_pct,
			 engine_status, distance_delta_km)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectHistory = `
		SELECT vehicle_id, ts_ms, latitude, longitude, speed_kmh, fuel_pct,
		       engine_status, distance_delta_km
		FROM telemetry_samples`

	// queryUpsertRollup replaces the whole bucket row. Recomputation is
	// idempotent: repeated runs over the same samples write identical values
	// instead of accumulating.
	queryUpsertRollup = `
		INSERT INTO telemetry_rollups
			(vehicle_id, window_seconds, bucket_start_ms, avg_speed, max_speed,
			 total_distance_km, min_fuel_level, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id, window_seconds, bucket_start_ms) DO UPDATE SET
			avg_speed = excluded.avg_speed,
			max_speed = excluded.max_speed,
			total_distance_km = excluded.total_distance_km,
			min_fuel_level = excluded.min_fuel_level,
			sample_count = excluded.sample_count`

	querySelectRollups = `
		SELECT vehicle_id, window_seconds, bucket_start_ms, avg_speed, max_speed,
		       total_distance_km, min_fuel_level, sample_count
		FROM telemetry_rollups`

	queryAggregatePerVehicle = `
		SELECT vehicle_id, AVG(speed_kmh), MAX(speed_kmh),
		       SUM(distance_delta_km), MIN(fuel_pct), COUNT(*)
		FROM telemetry_samples
		WHERE ts_ms >= ? AND ts_ms < ?
		GROUP BY vehicle_id`

	queryAggregateFleet = `
		SELECT AVG(speed_kmh), MAX(speed_kmh),
		       SUM(distance_delta_km), MIN(fuel_pct), COUNT(*)
		FROM telemetry_samples
		WHERE ts_ms >= ? AND ts_ms < ?`

	querySelectProgress = `
		SELECT last_bucket_start_ms FROM rollup_progress WHERE window_seconds = ?`

	queryUpsertProgress = `
		INSERT INTO rollup_progress (window_seconds, last_bucket_start_ms, computed_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (window_seconds) DO UPDATE SET
			last_bucket_start_ms = excluded.last_bucket_start_ms,
			computed_at_ms = excluded.computed_at_ms`

	queryEarliestSample = `SELECT MIN(ts_ms) FROM telemetry_samples`

	queryInsertAlert = `
		INSERT INTO vehicle_alerts
			(vehicle_id, alert_type, severity, trigger_value, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`

	querySelectAlerts = `
		SELECT id, vehicle_id, alert_type, severity, trigger_value, created_at_ms
		FROM vehicle_alerts`
)
