package models

import "time"

// Batch is a group of items handed to a sink in one write
type Batch[T any] struct {
	// ID is unique per batch and stable across retries
	ID       string
	Items    []T
	OpenedAt time.Time
}

// Len returns the number of items in the batch
func (b Batch[T]) Len() int { return len(b.Items) }
