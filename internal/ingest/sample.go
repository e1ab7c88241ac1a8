package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"fleetwatch/internal/domain"
)

// RejectReason classifies why an inbound report was refused.
type RejectReason string

const (
	RejectMalformed    RejectReason = "malformed"
	RejectMissingField RejectReason = "missing_field"
	RejectOutOfRange   RejectReason = "out_of_range"
	RejectBadTimestamp RejectReason = "bad_timestamp"
)

// RejectError is returned when an inbound report fails validation. Rejection
// is counted and logged, never fatal, and never mutates downstream state.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason RejectReason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// wireReport is the loosely-typed transport payload. Pointer fields
// distinguish absent from zero.
type wireReport struct {
	VehicleID    string          `json:"vehicleId"`
	Lat          *float64        `json:"lat"`
	Lng          *float64        `json:"lng"`
	Speed        *float64        `json:"speed"`
	FuelLevel    *float64        `json:"fuelLevel"`
	EngineStatus string          `json:"engineStatus"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// ParseSample validates a raw transport payload into a strict sample.
// Speed is the only optional field and defaults to 0. The returned sample's
// DistanceDeltaKm is unset; enrichment happens on the VehicleStore put.
func ParseSample(raw []byte) (*domain.TelemetrySample, error) {
	var r wireReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, reject(RejectMalformed, "invalid JSON: %v", err)
	}

	if r.VehicleID == "" {
		return nil, reject(RejectMissingField, "vehicleId is required")
	}
	if r.Lat == nil || r.Lng == nil {
		return nil, reject(RejectMissingField, "lat/lng are required")
	}
	if r.FuelLevel == nil {
		return nil, reject(RejectMissingField, "fuelLevel is required")
	}
	if r.EngineStatus == "" {
		return nil, reject(RejectMissingField, "engineStatus is required")
	}
	if len(r.Timestamp) == 0 {
		return nil, reject(RejectMissingField, "timestamp is required")
	}

	if *r.Lat < -90 || *r.Lat > 90 || math.IsNaN(*r.Lat) {
		return nil, reject(RejectOutOfRange, "latitude %v outside [-90,90]", *r.Lat)
	}
	if *r.Lng < -180 || *r.Lng > 180 || math.IsNaN(*r.Lng) {
		return nil, reject(RejectOutOfRange, "longitude %v outside [-180,180]", *r.Lng)
	}
	if *r.FuelLevel < 0 || *r.FuelLevel > 100 || math.IsNaN(*r.FuelLevel) {
		return nil, reject(RejectOutOfRange, "fuelLevel %v outside [0,100]", *r.FuelLevel)
	}

	speed := 0.0
	if r.Speed != nil {
		if *r.Speed < 0 || math.IsNaN(*r.Speed) {
			return nil, reject(RejectOutOfRange, "speed %v is negative", *r.Speed)
		}
		speed = *r.Speed
	}

	ts, err := parseWireTimestamp(r.Timestamp)
	if err != nil {
		return nil, reject(RejectBadTimestamp, "%v", err)
	}

	return &domain.TelemetrySample{
		VehicleID:    r.VehicleID,
		Latitude:     *r.Lat,
		Longitude:    *r.Lng,
		SpeedKmh:     speed,
		FuelPct:      *r.FuelLevel,
		EngineStatus: r.EngineStatus,
		Timestamp:    ts,
	}, nil
}

// parseWireTimestamp accepts epoch seconds as a JSON number or a textual
// timestamp (RFC3339 and friends) as a JSON string.
func parseWireTimestamp(raw json.RawMessage) (time.Time, error) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		whole := int64(asNumber)
		frac := asNumber - float64(whole)
		return time.Unix(whole, int64(frac*float64(time.Second))).UTC(), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return domain.ParseTimestamp(asString)
	}

	return time.Time{}, fmt.Errorf("timestamp is neither epoch seconds nor a string")
}
