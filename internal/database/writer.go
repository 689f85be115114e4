package database

import (
	"context"

	"telemetry-ingest/internal/models"
)

// Ack reports how many items a sink accepted
type Ack struct {
	Accepted int
}

// Writer delivers batches to a storage or streaming collaborator.
// Write may be called again with the same batch after a failure; sinks
// must not assume the previous attempt had no effect.
type Writer[T any] interface {
	// Name identifies the sink in logs
	Name() string

	// Write sends one batch
	Write(ctx context.Context, batch models.Batch[T]) (Ack, error)

	// Close releases the connection
	Close() error
}
