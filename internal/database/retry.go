package database

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

// RetryPolicy is a bounded exponential backoff
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
	// AttemptTimeout bounds each individual write; zero means no bound
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy retries 5 times starting at 5s, doubling up to 30s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		BaseDelay:      5 * time.Second,
		Factor:         2,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay returns the wait before retry n (0-based), capped at MaxDelay
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(n))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Validate checks the policy for nonsensical values
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry count must not be negative")
	}
	if p.Factor < 1 {
		return fmt.Errorf("backoff factor must be at least 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("invalid backoff delays %v..%v", p.BaseDelay, p.MaxDelay)
	}
	return nil
}

type retryWriter[T any] struct {
	Writer[T]
	policy  RetryPolicy
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps w so failed writes are retried per policy
func WithRetry[T any](w Writer[T], policy RetryPolicy, m *metrics.Metrics) Writer[T] {
	return &retryWriter[T]{Writer: w, policy: policy, metrics: m, sleep: sleepContext}
}

// Write implements Writer
func (r *retryWriter[T]) Write(ctx context.Context, batch models.Batch[T]) (Ack, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		ack, err := r.attempt(ctx, batch)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		r.metrics.WriteErrors.Add(1)

		if attempt >= r.policy.MaxRetries || ctx.Err() != nil {
			break
		}
		delay := r.policy.Delay(attempt)
		log.Printf("%s: write of batch %s failed (attempt %d/%d), retrying in %v: %v",
			r.Name(), batch.ID, attempt+1, r.policy.MaxRetries+1, delay, err)
		r.metrics.WriteRetries.Add(1)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return Ack{}, fmt.Errorf("%s: giving up on batch %s: %w", r.Name(), batch.ID, lastErr)
}

func (r *retryWriter[T]) attempt(ctx context.Context, batch models.Batch[T]) (Ack, error) {
	if r.policy.AttemptTimeout <= 0 {
		return r.Writer.Write(ctx, batch)
	}
	ctx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	return r.Writer.Write(ctx, batch)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
