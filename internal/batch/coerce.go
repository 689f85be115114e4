package batch

import "telemetry-ingest/internal/models"

// Coerce converts a measurement value for numeric storage. Booleans become
// 1.0 or 0.0; values that are not numeric are dropped.
func Coerce(m models.Measurement) (models.Point, bool) {
	var v float64
	switch x := m.Value.(type) {
	case bool:
		if x {
			v = 1
		}
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int64:
		v = float64(x)
	case int:
		v = float64(x)
	case uint64:
		v = float64(x)
	default:
		return models.Point{}, false
	}
	return models.Point{
		Name:      m.Name,
		Class:     m.Class,
		Source:    m.Source,
		Value:     v,
		Timestamp: m.Timestamp,
	}, true
}
