package batch

import "errors"

// Submitter accepts items without blocking
type Submitter[T any] interface {
	Submit(item T) bool
}

// Group fans every item out to a set of runners
type Group[T any] []*Runner[T]

// Start starts every runner
func (g Group[T]) Start() {
	for _, r := range g {
		r.Start()
	}
}

// Submit offers item to every runner and reports whether all accepted it
func (g Group[T]) Submit(item T) bool {
	ok := true
	for _, r := range g {
		if !r.Submit(item) {
			ok = false
		}
	}
	return ok
}

// Close closes every runner, in order
func (g Group[T]) Close() error {
	var errs []error
	for _, r := range g {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
