package influxdb

import (
	"testing"
	"time"

	"telemetry-ingest/internal/models"
)

func TestToRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := models.Point{Name: "SOC", Class: "BatteryStatus", Source: "BMS", Value: 87.5, Timestamp: 1700000000.5}

	r := toRecord(p, false, now)
	if r.Measurement != "BMS" {
		t.Fatalf("measurement = %q, want BMS", r.Measurement)
	}
	if r.Tags["class"] != "BatteryStatus" {
		t.Fatalf("class tag = %q", r.Tags["class"])
	}
	if v, ok := r.Fields["SOC"].(float64); !ok || v != 87.5 {
		t.Fatalf("SOC field = %v", r.Fields["SOC"])
	}
	if v, ok := r.Fields["can_timestamp"].(float64); !ok || v != 1700000000.5 {
		t.Fatalf("can_timestamp field = %v", r.Fields["can_timestamp"])
	}
	if want := time.Unix(1700000000, 500_000_000).UTC(); !r.Time.Equal(want) {
		t.Fatalf("time = %v, want %v", r.Time, want)
	}

	r = toRecord(p, true, now)
	if !r.Time.Equal(now) {
		t.Fatalf("time with use-now = %v, want %v", r.Time, now)
	}
}
