package database

import (
	"testing"
	"time"

	"telemetry-ingest/internal/models"
)

func TestPointTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		ts     float64
		useNow bool
		want   time.Time
	}{
		{"frame time", 1700000000.25, false, time.Unix(1700000000, 250_000_000).UTC()},
		{"use now", 1700000000.25, true, now},
		{"missing time", 0, false, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PointTime(models.Point{Timestamp: tt.ts}, tt.useNow, now)
			if !got.Equal(tt.want) {
				t.Fatalf("PointTime() = %v, want %v", got, tt.want)
			}
		})
	}
}
