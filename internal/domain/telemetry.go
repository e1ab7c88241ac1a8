package domain

import (
	"fmt"
	"strconv"
	"time"
)

// EnvelopeVersion is the wire version tag carried by every push-stream frame.
const EnvelopeVersion = 1

// Engine status values commonly reported by vehicle units. The ingestion
// boundary only requires the field to be present; unknown values pass through.
const (
	EngineOn   = "on"
	EngineOff  = "off"
	EngineIdle = "idle"
)

// TelemetrySample is a single validated, enriched position/status report.
// It is immutable once it leaves the ingestion pipeline.
type TelemetrySample struct {
	VehicleID       string    `json:"vehicleId"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	SpeedKmh        float64   `json:"speed"`
	FuelPct         float64   `json:"fuelLevel"`
	EngineStatus    string    `json:"engineStatus"`
	Timestamp       time.Time `json:"timestamp"`
	DistanceDeltaKm float64   `json:"distanceDeltaKm"`
}

// Envelope wraps a sample for the push stream.
type Envelope struct {
	Version int `json:"version"`
	TelemetrySample
}

// NewEnvelope tags a sample with the current wire version.
func NewEnvelope(s TelemetrySample) Envelope {
	return Envelope{Version: EnvelopeVersion, TelemetrySample: s}
}

// FleetScope is the vehicle identity used for fleet-wide rollup rows.
const FleetScope = ""

// RollupBucket is a pre-aggregated summary of samples over one time bucket.
// VehicleID == FleetScope means the bucket spans the whole fleet.
type RollupBucket struct {
	VehicleID       string    `json:"vehicleId"`
	WindowSeconds   int       `json:"windowSeconds"`
	BucketStart     time.Time `json:"bucketStart"`
	AvgSpeed        float64   `json:"avgSpeed"`
	MaxSpeed        float64   `json:"maxSpeed"`
	TotalDistanceKm float64   `json:"totalDistanceKm"`
	MinFuelLevel    float64   `json:"minFuelLevel"`
	SampleCount     int64     `json:"sampleCount"`
}

// AggregateType enumerates the rollup aggregates a caller can request.
type AggregateType string

const (
	AggregateAvgSpeed      AggregateType = "AVG_SPEED"
	AggregateMaxSpeed      AggregateType = "MAX_SPEED"
	AggregateTotalDistance AggregateType = "TOTAL_DISTANCE"
	AggregateMinFuel       AggregateType = "MIN_FUEL"
	AggregateSampleCount   AggregateType = "SAMPLE_COUNT"
)

// KnownAggregate reports whether t is a supported aggregate enumerator.
func KnownAggregate(t AggregateType) bool {
	switch t {
	case AggregateAvgSpeed, AggregateMaxSpeed, AggregateTotalDistance,
		AggregateMinFuel, AggregateSampleCount:
		return true
	}
	return false
}

// AlertType identifies an alert rule.
type AlertType string

const (
	AlertSpeeding AlertType = "SPEEDING"
	AlertLowFuel  AlertType = "LOW_FUEL"
)

// AlertSeverity grades a fired alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is a persisted rule violation for one sample.
type Alert struct {
	ID           int64         `json:"id"`
	VehicleID    string        `json:"vehicleId"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	TriggerValue float64       `json:"triggerValue"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AlertRule pairs an alert type with its trigger predicate.
type AlertRule struct {
	Type      AlertType
	Severity  AlertSeverity
	Evaluator func(s *TelemetrySample) bool
	Value     func(s *TelemetrySample) float64
}

// DefaultAlertRules are the rules evaluated against every accepted sample.
var DefaultAlertRules = []AlertRule{
	{
		Type:     AlertSpeeding,
		Severity: SeverityWarning,
		Evaluator: func(s *TelemetrySample) bool {
			return s.SpeedKmh > 120.0
		},
		Value: func(s *TelemetrySample) float64 { return s.SpeedKmh },
	},
	{
		Type:     AlertLowFuel,
		Severity: SeverityCritical,
		Evaluator: func(s *TelemetrySample) bool {
			return s.FuelPct < 10.0
		},
		Value: func(s *TelemetrySample) float64 { return s.FuelPct },
	},
}

// ParseTimestamp accepts epoch seconds (integer or fractional) or a handful
// of common textual layouts, RFC3339 first.
func ParseTimestamp(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		whole := int64(sec)
		frac := sec - float64(whole)
		return time.Unix(whole, int64(frac*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", v)
}
