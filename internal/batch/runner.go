package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

// Config sizes a runner
type Config struct {
	MaxSize   int
	MaxAge    time.Duration
	QueueSize int
	// Grace bounds the final flush at Close
	Grace time.Duration
}

// Runner feeds one sink from a bounded queue. Writes happen on the runner's
// goroutine, so at most one write per sink is ever in flight.
type Runner[T any] struct {
	cfg     Config
	writer  database.Writer[T]
	metrics *metrics.Metrics
	batcher *Batcher[T]

	in     chan T
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// mu guards closed against Submit racing Close
	mu     sync.RWMutex
	closed bool

	started    atomic.Bool
	dropped    atomic.Uint64
	failureLog uint64
}

// NewRunner creates a runner for writer; call Start before Submit
func NewRunner[T any](writer database.Writer[T], cfg Config, m *metrics.Metrics) *Runner[T] {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxSize * 2
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner[T]{
		cfg:     cfg,
		writer:  writer,
		metrics: m,
		batcher: NewBatcher[T](cfg.MaxSize, cfg.MaxAge),
		in:      make(chan T, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name returns the sink name
func (r *Runner[T]) Name() string { return r.writer.Name() }

// Start begins processing queued items
func (r *Runner[T]) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.loop()
	}
}

// Submit queues an item without blocking. It returns false and counts a drop
// when the queue is full or the runner is closed. Submit is safe for
// concurrent use, including with Close.
func (r *Runner[T]) Submit(item T) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop("closed")
		return false
	}
	select {
	case r.in <- item:
		return true
	default:
		r.drop("full")
		return false
	}
}

func (r *Runner[T]) drop(reason string) {
	n := r.dropped.Add(1)
	r.metrics.QueueDrops.Add(1)
	if n == 1 || n%1000 == 0 {
		log.Printf("Warning: %s queue %s, dropped %d items", r.writer.Name(), reason, n)
	}
}

func (r *Runner[T]) loop() {
	defer close(r.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case item, ok := <-r.in:
			if !ok {
				if r.batcher.Len() > 0 {
					r.write(r.batcher.Flush())
				}
				return
			}
			if r.ctx.Err() != nil {
				r.abandon(item)
				return
			}
			wasEmpty := r.batcher.Len() == 0
			if b, full := r.batcher.Add(item, time.Now()); full {
				timer.Stop()
				r.write(b)
			} else if wasEmpty {
				timer.Reset(r.cfg.MaxAge)
			}

		case <-timer.C:
			if r.batcher.Len() > 0 {
				r.write(r.batcher.Flush())
			}
		}
	}
}

// write blocks until the sink reports success or failure
func (r *Runner[T]) write(b models.Batch[T]) {
	start := time.Now()
	ack, err := r.writer.Write(r.ctx, b)
	r.metrics.ObserveWrite(time.Since(start))

	if err != nil {
		r.failureLog++
		r.metrics.BatchesLost.Add(1)
		r.metrics.ItemsLost.Add(uint64(b.Len()))
		if r.failureLog <= 10 || r.failureLog%100 == 0 {
			log.Printf("Error: %s lost batch %s of %d items: %v", r.writer.Name(), b.ID, b.Len(), err)
		}
		return
	}
	r.metrics.BatchesWritten.Add(1)
	r.metrics.ItemsWritten.Add(uint64(ack.Accepted))
}

// abandon counts item, the open batch and everything still queued as lost.
// It runs after Close cancelled the runner, so the queue is already closed.
func (r *Runner[T]) abandon(item T) {
	n := uint64(1 + r.batcher.Len())
	r.batcher.Flush()
	for range r.in {
		n++
	}
	r.metrics.BatchesLost.Add(1)
	r.metrics.ItemsLost.Add(n)
	log.Printf("Error: %s abandoned %d queued items at shutdown", r.writer.Name(), n)
}

// Close stops accepting items, flushes the open batch and waits up to the
// grace period for the last write. Past the grace period the in-flight write
// is cancelled, queued items are counted lost and Close waits one more grace
// period for the writer to return. The writer is closed afterwards. Closing a
// runner that was never started only closes the writer.
func (r *Runner[T]) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.in)
		r.mu.Unlock()

		if !r.started.Load() {
			r.cancel()
			err = r.writer.Close()
			return
		}

		grace := time.NewTimer(r.cfg.Grace)
		defer grace.Stop()
		select {
		case <-r.done:
		case <-grace.C:
			log.Printf("Warning: %s did not flush within %v, abandoning in-flight write", r.writer.Name(), r.cfg.Grace)
			r.cancel()
			grace.Reset(r.cfg.Grace)
			select {
			case <-r.done:
			case <-grace.C:
				// the stuck write still owns the writer, so it is not closed
				err = fmt.Errorf("%s: write did not return after cancellation", r.writer.Name())
				return
			}
		}
		r.cancel()
		err = r.writer.Close()
	})
	return err
}
