// Package metrics holds the pipeline counters shared by every stage and connection.
package metrics

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe for concurrent use by multiple pipelines
type Metrics struct {
	BytesRead         atomic.Uint64
	BytesDropped      atomic.Uint64
	BufferTruncations atomic.Uint64
	NoiseSegments     atomic.Uint64

	FramesSeen           atomic.Uint64
	Decoded              atomic.Uint64
	UnknownIDs           atomic.Uint64
	DecodeErrors         atomic.Uint64
	MeasurementsProduced atomic.Uint64
	PointsDropped        atomic.Uint64

	QueueDrops     atomic.Uint64
	BatchesWritten atomic.Uint64
	ItemsWritten   atomic.Uint64
	WriteErrors    atomic.Uint64
	WriteRetries   atomic.Uint64
	BatchesLost    atomic.Uint64
	ItemsLost      atomic.Uint64

	writeLatency prometheus.Histogram
	collectors   map[string]prometheus.Collector
	started      time.Time
}

// New creates a zeroed metrics set
func New() *Metrics {
	return &Metrics{
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_sink_write_seconds",
			Help:    "Latency of sink batch writes, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		started: time.Now(),
	}
}

// ObserveWrite records the duration of one batch write
func (m *Metrics) ObserveWrite(d time.Duration) {
	m.writeLatency.Observe(d.Seconds())
}

// Register exposes every counter on reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"telemetry_bytes_read_total", "Bytes read from the transport.", &m.BytesRead},
		{"telemetry_bytes_dropped_total", "Bytes discarded while resynchronizing.", &m.BytesDropped},
		{"telemetry_buffer_truncations_total", "Framing buffer truncations during prolonged desync.", &m.BufferTruncations},
		{"telemetry_noise_segments_total", "Delimited segments discarded as noise.", &m.NoiseSegments},
		{"telemetry_frames_seen_total", "Raw records extracted from the byte stream.", &m.FramesSeen},
		{"telemetry_frames_decoded_total", "Records decoded successfully.", &m.Decoded},
		{"telemetry_unknown_ids_total", "CAN records whose identifier is not in the signal table.", &m.UnknownIDs},
		{"telemetry_decode_errors_total", "Records that failed to classify or decode.", &m.DecodeErrors},
		{"telemetry_measurements_total", "Measurements produced by the decoder.", &m.MeasurementsProduced},
		{"telemetry_points_dropped_total", "Measurements dropped for having a non-numeric value.", &m.PointsDropped},
		{"telemetry_queue_drops_total", "Items dropped because a sink queue was full.", &m.QueueDrops},
		{"telemetry_batches_written_total", "Batches acknowledged by a sink.", &m.BatchesWritten},
		{"telemetry_items_written_total", "Items acknowledged by a sink.", &m.ItemsWritten},
		{"telemetry_write_errors_total", "Failed sink write attempts.", &m.WriteErrors},
		{"telemetry_write_retries_total", "Sink write retries.", &m.WriteRetries},
		{"telemetry_batches_lost_total", "Batches dropped after exhausting retries.", &m.BatchesLost},
		{"telemetry_items_lost_total", "Items dropped after exhausting retries.", &m.ItemsLost},
	}

	m.collectors = make(map[string]prometheus.Collector, len(counters)+1)
	for _, c := range counters {
		v := c.v
		cf := prometheus.NewCounterFunc(prometheus.CounterOpts{Name: c.name, Help: c.help}, func() float64 {
			return float64(v.Load())
		})
		if err := reg.Register(cf); err != nil {
			return fmt.Errorf("failed to register %s: %w", c.name, err)
		}
		m.collectors[c.name] = cf
	}
	if err := reg.Register(m.writeLatency); err != nil {
		return fmt.Errorf("failed to register write latency: %w", err)
	}
	m.collectors["telemetry_sink_write_seconds"] = m.writeLatency
	return nil
}

// Snapshot is a point-in-time copy of the headline counters
type Snapshot struct {
	FramesSeen   uint64
	Decoded      uint64
	UnknownIDs   uint64
	DecodeErrors uint64
	ItemsWritten uint64
	WriteErrors  uint64
	ItemsLost    uint64
	BytesDropped uint64
	Elapsed      time.Duration
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesSeen:   m.FramesSeen.Load(),
		Decoded:      m.Decoded.Load(),
		UnknownIDs:   m.UnknownIDs.Load(),
		DecodeErrors: m.DecodeErrors.Load(),
		ItemsWritten: m.ItemsWritten.Load(),
		WriteErrors:  m.WriteErrors.Load(),
		ItemsLost:    m.ItemsLost.Load(),
		BytesDropped: m.BytesDropped.Load(),
		Elapsed:      time.Since(m.started),
	}
}

// Summary formats a stats line; rate is frames per second since prev
func (s Snapshot) Summary(prev Snapshot) string {
	rate := 0.0
	if dt := (s.Elapsed - prev.Elapsed).Seconds(); dt > 0 {
		rate = float64(s.FramesSeen-prev.FramesSeen) / dt
	}
	return fmt.Sprintf("frames=%d decoded=%d unknown=%d dec_err=%d written=%d write_err=%d lost=%d resync_bytes=%d rate=%.1f fps",
		s.FramesSeen, s.Decoded, s.UnknownIDs, s.DecodeErrors, s.ItemsWritten, s.WriteErrors, s.ItemsLost, s.BytesDropped, rate)
}

// StartReporter logs a summary line every interval until ctx is cancelled
func (m *Metrics) StartReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := m.Snapshot()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur := m.Snapshot()
				log.Printf("[STATS] %s", cur.Summary(prev))
				prev = cur
			}
		}
	}()
}

// LogFinal logs the totals for the whole run
func (m *Metrics) LogFinal() {
	log.Printf("[FINAL] %s", m.Snapshot().Summary(Snapshot{}))
}
