// Package batch groups decoded items into bounded batches and feeds them to sinks.
package batch

import (
	"time"

	"github.com/google/uuid"

	"telemetry-ingest/internal/models"
)

// Profiles observed on the two kinds of links
const (
	LinkMaxSize    = 200
	LinkMaxAge     = 50 * time.Millisecond
	StorageMaxSize = 1000
	StorageMaxAge  = 500 * time.Millisecond
)

// Batcher accumulates items and reports when a batch is due.
// It is not safe for concurrent use.
type Batcher[T any] struct {
	maxSize  int
	maxAge   time.Duration
	items    []T
	openedAt time.Time
}

// NewBatcher flushes at maxSize items or maxAge after the first insert
func NewBatcher[T any](maxSize int, maxAge time.Duration) *Batcher[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Batcher[T]{
		maxSize: maxSize,
		maxAge:  maxAge,
		items:   make([]T, 0, maxSize),
	}
}

// Add inserts item and returns the flushed batch when a threshold is reached
func (b *Batcher[T]) Add(item T, now time.Time) (models.Batch[T], bool) {
	if len(b.items) == 0 {
		b.openedAt = now
	}
	b.items = append(b.items, item)
	if b.Due(now) {
		return b.Flush(), true
	}
	return models.Batch[T]{}, false
}

// Due reports whether the open batch has reached its size or age limit
func (b *Batcher[T]) Due(now time.Time) bool {
	if len(b.items) == 0 {
		return false
	}
	return len(b.items) >= b.maxSize || now.Sub(b.openedAt) >= b.maxAge
}

// Flush hands out the open batch and starts a new empty one
func (b *Batcher[T]) Flush() models.Batch[T] {
	out := models.Batch[T]{
		ID:       uuid.NewString(),
		Items:    b.items,
		OpenedAt: b.openedAt,
	}
	b.items = make([]T, 0, b.maxSize)
	b.openedAt = time.Time{}
	return out
}

// Len returns the number of items in the open batch
func (b *Batcher[T]) Len() int { return len(b.items) }

// OpenedAt returns the time of the first insert into the open batch
func (b *Batcher[T]) OpenedAt() time.Time { return b.openedAt }

// MaxAge returns the age threshold
func (b *Batcher[T]) MaxAge() time.Duration { return b.maxAge }
