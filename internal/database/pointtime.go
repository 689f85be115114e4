package database

import (
	"time"

	"telemetry-ingest/internal/models"
)

// PointTime returns the storage timestamp for a point: the frame time, or
// now when the deployment prefers ingest time over device time.
func PointTime(p models.Point, useNow bool, now time.Time) time.Time {
	if useNow || p.Timestamp <= 0 {
		return now.UTC()
	}
	return models.SecondsToTime(p.Timestamp)
}
