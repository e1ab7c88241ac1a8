package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/domain"
)

// stateKeyTTL bounds how long a mirrored vehicle state outlives its last
// update in Redis.
const stateKeyTTL = 60 * time.Second

const (
	alertChannel     = "fleet:alerts"
	telemetryChannel = "fleet:telemetry"
	geoKey           = "fleet:geo"
)

// RedisMirror mirrors the latest vehicle state into Redis for external
// dashboards: a hash per vehicle, a fleet geo set, and a pub/sub feed.
// It is an optional sink; the core never depends on it for correctness.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror connects to Redis and verifies connectivity.
func NewRedisMirror(ctx context.Context, addr, password string, db int) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

// Close releases the connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// Ping reports Redis reachability.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// UpdateState writes one sample's state into Redis: HSET + EXPIRE on the
// vehicle hash, a GEOADD into the fleet geo set, and a publish of the full
// sample for pub/sub consumers. All four commands go in one pipeline.
func (m *RedisMirror) UpdateState(ctx context.Context, s *domain.TelemetrySample) error {
	stateData := map[string]interface{}{
		"vehicle_id":        s.VehicleID,
		"lat":               s.Latitude,
		"lng":               s.Longitude,
		"speed_kmh":         s.SpeedKmh,
		"fuel_pct":          s.FuelPct,
		"engine_status":     s.EngineStatus,
		"distance_delta_km": s.DistanceDeltaKm,
		"timestamp":         s.Timestamp.Unix(),
	}

	pubPayload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("vehicle:%s:state", s.VehicleID)

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, stateKeyTTL)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      s.VehicleID,
		Longitude: s.Longitude,
		Latitude:  s.Latitude,
	})
	pipe.Publish(ctx, telemetryChannel, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// PublishAlert pushes a fired alert onto the shared alert channel.
func (m *RedisMirror) PublishAlert(ctx context.Context, a *domain.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return m.client.Publish(ctx, alertChannel, payload).Err()
}
