package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		wantKm                 float64
		tolKm                  float64
	}{
		{
			name: "same point",
			lat1: 48.85, lng1: 2.35, lat2: 48.85, lng2: 2.35,
			wantKm: 0, tolKm: 0.0001,
		},
		{
			name: "paris city blocks",
			lat1: 48.85, lng1: 2.35, lat2: 48.86, lng2: 2.36,
			wantKm: 1.331, tolKm: 0.002,
		},
		{
			name: "paris to london",
			lat1: 48.8566, lng1: 2.3522, lat2: 51.5074, lng2: -0.1278,
			wantKm: 343.5, tolKm: 1.0,
		},
		{
			name: "across the antimeridian",
			lat1: 0, lng1: 179.9, lat2: 0, lng2: -179.9,
			wantKm: 22.24, tolKm: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolKm {
				t.Errorf("HaversineKm = %.4f, want %.4f ± %.4f", got, tt.wantKm, tt.tolKm)
			}
		})
	}
}

func TestHaversineKmSymmetry(t *testing.T) {
	ab := HaversineKm(48.85, 2.35, 48.86, 2.36)
	ba := HaversineKm(48.86, 2.36, 48.85, 2.35)
	if math.Abs(ab-ba) > 1e-12 {
		t.Errorf("distance not symmetric: %v vs %v", ab, ba)
	}
}
