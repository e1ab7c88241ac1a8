package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/state"
	"fleetwatch/internal/store"
)

const defaultHistoryLimit = 1000

type snapshotResponse struct {
	Vehicles []state.CacheEntry `json:"vehicles"`
	Metrics  *ingestMetrics     `json:"metrics,omitempty"`
}

type ingestMetrics struct {
	TrackedVehicles int     `json:"trackedVehicles"`
	RatePerSecond   float64 `json:"ratePerSecond"`
	WindowCount     int     `json:"windowCount"`
}

// handleSnapshot returns the latest cached sample per vehicle, optionally
// with ingestion-rate metrics.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ids := parseIDList(r.URL.Query().Get("vehicle_ids"))
	resp := snapshotResponse{Vehicles: s.vehicles.List(ids)}
	if resp.Vehicles == nil {
		resp.Vehicles = []state.CacheEntry{}
	}
	if parseBool(r.URL.Query().Get("include_metrics")) {
		resp.Metrics = &ingestMetrics{
			TrackedVehicles: s.vehicles.Len(),
			RatePerSecond:   s.rate.Rate(),
			WindowCount:     s.rate.Count(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory streams matching samples as NDJSON, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := parseTimeRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	samples, err := s.repo.QueryHistory(r.Context(), store.HistoryQuery{
		VehicleIDs: parseIDList(q.Get("vehicle_ids")),
		Start:      start,
		End:        end,
		Limit:      limit,
	})
	if err != nil {
		slog.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleStream emits a fleet snapshot frame at a fixed cadence until the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ids := parseIDList(r.URL.Query().Get("vehicle_ids"))
	withMetrics := parseBool(r.URL.Query().Get("include_metrics"))

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	emit := func() bool {
		entries := s.vehicles.List(ids)
		if entries == nil {
			entries = []state.CacheEntry{}
		}
		frame := snapshotResponse{Vehicles: entries}
		if withMetrics {
			frame.Metrics = &ingestMetrics{
				TrackedVehicles: s.vehicles.Len(),
				RatePerSecond:   s.rate.Rate(),
				WindowCount:     s.rate.Count(),
			}
		}
		if err := enc.Encode(frame); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if !emit() {
		return
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}

// aggregateBucket carries only the aggregates the caller asked for.
type aggregateBucket struct {
	VehicleID       string    `json:"vehicleId"`
	WindowSeconds   int       `json:"windowSeconds"`
	BucketStart     time.Time `json:"bucketStart"`
	AvgSpeed        *float64  `json:"avgSpeed,omitempty"`
	MaxSpeed        *float64  `json:"maxSpeed,omitempty"`
	TotalDistanceKm *float64  `json:"totalDistanceKm,omitempty"`
	MinFuelLevel    *float64  `json:"minFuelLevel,omitempty"`
	SampleCount     *int64    `json:"sampleCount,omitempty"`
}

// handleAggregates reads pre-computed rollup buckets for one window size.
// An unconfigured window size matches no rows and yields an empty list.
func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowSeconds, err := strconv.Atoi(q.Get("window_seconds"))
	if err != nil || windowSeconds < 1 {
		writeError(w, http.StatusBadRequest, "window_seconds must be a positive integer")
		return
	}
	start, end, err := parseTimeRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wanted := make(map[domain.AggregateType]bool)
	if raw := q.Get("aggregates"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := domain.AggregateType(strings.ToUpper(strings.TrimSpace(part)))
			if !domain.KnownAggregate(t) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown aggregate %q", part))
				return
			}
			wanted[t] = true
		}
	}

	buckets, err := s.repo.QueryRollups(r.Context(), store.RollupQuery{
		VehicleIDs:    parseIDList(q.Get("vehicle_ids")),
		Start:         start,
		End:           end,
		WindowSeconds: windowSeconds,
	})
	if err != nil {
		slog.Error("rollup query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]aggregateBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, projectBucket(b, wanted))
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": out})
}

// projectBucket keeps the requested aggregates; an empty selection keeps all.
func projectBucket(b domain.RollupBucket, wanted map[domain.AggregateType]bool) aggregateBucket {
	all := len(wanted) == 0
	out := aggregateBucket{
		VehicleID:     b.VehicleID,
		WindowSeconds: b.WindowSeconds,
		BucketStart:   b.BucketStart,
	}
	if all || wanted[domain.AggregateAvgSpeed] {
		out.AvgSpeed = &b.AvgSpeed
	}
	if all || wanted[domain.AggregateMaxSpeed] {
		out.MaxSpeed = &b.MaxSpeed
	}
	if all || wanted[domain.AggregateTotalDistance] {
		out.TotalDistanceKm = &b.TotalDistanceKm
	}
	if all || wanted[domain.AggregateMinFuel] {
		out.MinFuelLevel = &b.MinFuelLevel
	}
	if all || wanted[domain.AggregateSampleCount] {
		out.SampleCount = &b.SampleCount
	}
	return out
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	alerts, err := s.repo.QueryAlerts(r.Context(), q.Get("vehicle_id"), limit)
	if err != nil {
		slog.Error("alert query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// parseTimeRange resolves the optional start/end parameters. A missing start
// means the beginning of time, a missing end means now. An inverted range is
// an argument error, not an empty result.
func parseTimeRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	var start time.Time
	end := time.Now().UTC()
	var err error
	if startRaw != "" {
		start, err = domain.ParseTimestamp(startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
	}
	if endRaw != "" {
		end, err = domain.ParseTimestamp(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

func parseIDList(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
