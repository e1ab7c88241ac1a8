package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string

	// HTTP
	HTTPAddr string

	// SQLite
	DBPath string

	// Vehicle cache
	CacheCapacity int
	CacheTTL      time.Duration

	// Ingestion rate window
	RateWindow time.Duration

	// Rollup scheduler
	RollupWindows        []int
	RollupInterval       time.Duration
	RollupCatchupBuckets int

	// Ingestion pipeline
	IngestWorkers     int
	IngestQueueSize   int
	DBChannelSize     int
	MirrorChannelSize int
	PushChannelSize   int
	AlertChannelSize  int

	// Batch writer tuning
	DBBatchSize     int
	DBFlushInterval time.Duration

	// Push fan-out
	FanoutQueueDepth     int
	SnapshotPollInterval time.Duration

	// Redis live-state mirror, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string
}

func Load() *Config {
	// Missing .env is fine, the environment alone is enough.
	_ = godotenv.Load()

	return &Config{
		MQTTBrokerURL:        getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTTopic:            getEnv("MQTT_TOPIC", "fleet/+/telemetry"),
		MQTTClientID:         getEnv("MQTT_CLIENT_ID", "fleetwatch-ingest"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DBPath:               getEnv("DB_PATH", "fleetwatch.db"),
		CacheCapacity:        getEnvInt("CACHE_CAPACITY", 10000),
		CacheTTL:             getEnvDuration("CACHE_TTL", 5*time.Minute),
		RateWindow:           getEnvDuration("RATE_WINDOW", time.Minute),
		RollupWindows:        getEnvIntList("ROLLUP_WINDOWS", []int{300, 3600}),
		RollupInterval:       getEnvDuration("ROLLUP_INTERVAL", time.Minute),
		RollupCatchupBuckets: getEnvInt("ROLLUP_CATCHUP_BUCKETS", 3),
		IngestWorkers:        getEnvInt("INGEST_WORKERS", 4),
		IngestQueueSize:      getEnvInt("INGEST_QUEUE_SIZE", 10000),
		DBChannelSize:        getEnvInt("DB_CHANNEL_SIZE", 10000),
		MirrorChannelSize:    getEnvInt("MIRROR_CHANNEL_SIZE", 10000),
		PushChannelSize:      getEnvInt("PUSH_CHANNEL_SIZE", 10000),
		AlertChannelSize:     getEnvInt("ALERT_CHANNEL_SIZE", 10000),
		DBBatchSize:          getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushInterval:      getEnvDuration("DB_FLUSH_INTERVAL", 100*time.Millisecond),
		FanoutQueueDepth:     getEnvInt("FANOUT_QUEUE_DEPTH", 256),
		SnapshotPollInterval: getEnvDuration("SNAPSHOT_POLL_INTERVAL", 2*time.Second),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getEnvIntList parses a comma-separated list of integers, e.g. "300,3600".
func getEnvIntList(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
