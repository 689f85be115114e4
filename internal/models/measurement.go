package models

// UnknownSource is used when a record's sender cannot be resolved
const UnknownSource = "UNKNOWN"

// SignalValue is one decoded signal of a CAN message.
// Value is an int64, float64 or bool.
type SignalValue struct {
	Name  string
	Value any
}

// Measurement is a single named value extracted from a decoded record
type Measurement struct {
	Name      string  `json:"name"`
	Class     string  `json:"class"`
	Source    string  `json:"source"`
	Value     any     `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// Point is a measurement whose value has been coerced to a float for storage
type Point struct {
	Name      string  `json:"name"`
	Class     string  `json:"class"`
	Source    string  `json:"source"`
	Value     float64 `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// PointBatch is the JSON body exchanged by the HTTP sink, the points API and
// the live feed
type PointBatch struct {
	BatchID string  `json:"batch_id"`
	Points  []Point `json:"points"`
}
