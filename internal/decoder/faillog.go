package decoder

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"telemetry-ingest/internal/models"
)

const failQueueSize = 10000

// FailureLog appends undecodable CAN frames to a file from a background goroutine.
// Record never blocks; lines are dropped when the queue is full or the log
// is closed.
type FailureLog struct {
	w       io.WriteCloser
	queue   chan string
	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

// OpenFailureLog writes to a rotating file at path
func OpenFailureLog(path string, maxSizeMB, maxBackups int) *FailureLog {
	return NewFailureLog(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

// NewFailureLog writes lines to w and closes it on Close
func NewFailureLog(w io.WriteCloser) *FailureLog {
	f := &FailureLog{
		w:     w,
		queue: make(chan string, failQueueSize),
	}
	f.wg.Add(1)
	go f.writeLoop()
	return f
}

// Record implements FailureRecorder
func (f *FailureLog) Record(frame *models.CanFrame, reason string) {
	line := FormatFailure(time.Now(), frame, reason)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- line:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of lines discarded on a full queue
func (f *FailureLog) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *FailureLog) writeLoop() {
	defer f.wg.Done()
	for line := range f.queue {
		if _, err := io.WriteString(f.w, line); err != nil {
			log.Printf("Warning: failed to write failure log: %v", err)
		}
	}
}

// Close drains pending lines and closes the file
func (f *FailureLog) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
		f.wg.Wait()
		err = f.w.Close()
	})
	return err
}

// FormatFailure renders one failure log line
func FormatFailure(now time.Time, frame *models.CanFrame, reason string) string {
	ext := 0
	if frame.Frame.Extended {
		ext = 1
	}
	payload := frame.Payload()
	return fmt.Sprintf("%s can_id=0x%X ext=%d len=%d data=%s reason=%s\n",
		now.UTC().Format("2006-01-02T15:04:05.000000Z"),
		frame.Frame.ID, ext, len(payload), hex.EncodeToString(payload), reason)
}
