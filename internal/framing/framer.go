// Package framing extracts records from a noisy serial or radio byte stream.
package framing

import (
	"bytes"
	"errors"
	"io"

	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

// CRLF terminates records on every binary link
var CRLF = []byte{0x0D, 0x0A}

const (
	readChunk = 4096

	// maxBacklog bounds the buffer to this many records during desync
	maxBacklog = 128
	// keepBacklog is how many records worth of bytes survive a truncation
	keepBacklog = 2
)

// Framer yields records in arrival order until the source is exhausted
type Framer interface {
	// Next blocks until a record is available. It returns io.EOF once the
	// source has closed and the buffer is drained.
	Next() (models.RawRecord, error)
}

// FixedFramer extracts records of exactly Size bytes ending in Terminator.
// On a mismatch it drops a single byte and tries again.
type FixedFramer struct {
	r          io.Reader
	size       int
	terminator []byte
	validate   func([]byte) bool
	metrics    *metrics.Metrics

	buf   []byte
	chunk []byte
	seq   uint64
	err   error
}

// FixedOption configures a FixedFramer
type FixedOption func(*FixedFramer)

// WithTerminator overrides the CRLF record terminator
func WithTerminator(t []byte) FixedOption {
	return func(f *FixedFramer) { f.terminator = t }
}

// WithValidator adds a format check applied after the terminator matches
func WithValidator(v func([]byte) bool) FixedOption {
	return func(f *FixedFramer) { f.validate = v }
}

// NewFixedFramer creates a framer for size-byte records read from r
func NewFixedFramer(r io.Reader, size int, m *metrics.Metrics, opts ...FixedOption) *FixedFramer {
	f := &FixedFramer{
		r:          r,
		size:       size,
		terminator: CRLF,
		metrics:    m,
	}
	// a single read can never push a drained buffer past the backlog bound
	f.chunk = make([]byte, min(readChunk, (maxBacklog-keepBacklog)*size))
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Next implements Framer
func (f *FixedFramer) Next() (models.RawRecord, error) {
	for {
		if rec, ok := f.scan(); ok {
			return rec, nil
		}

		if f.err != nil {
			// whatever is left can never complete a record
			if n := len(f.buf); n > 0 {
				f.metrics.BytesDropped.Add(uint64(n))
				f.buf = f.buf[:0]
			}
			return models.RawRecord{}, f.err
		}

		f.fill()
	}
}

// scan slides over the buffer until a valid window is found or fewer than size bytes remain
func (f *FixedFramer) scan() (models.RawRecord, bool) {
	start := 0
	defer func() {
		if start > 0 {
			f.buf = append(f.buf[:0], f.buf[start:]...)
		}
	}()

	for len(f.buf)-start >= f.size {
		window := f.buf[start : start+f.size]
		if f.valid(window) {
			start += f.size
			f.seq++
			f.metrics.FramesSeen.Add(1)
			return models.RawRecord{Bytes: bytes.Clone(window), Seq: f.seq}, true
		}
		start++
		f.metrics.BytesDropped.Add(1)
	}
	return models.RawRecord{}, false
}

func (f *FixedFramer) valid(window []byte) bool {
	if !bytes.HasSuffix(window, f.terminator) {
		return false
	}
	return f.validate == nil || f.validate(window)
}

// fill performs one read and enforces the backlog bound
func (f *FixedFramer) fill() {
	n, err := f.r.Read(f.chunk)
	if n > 0 {
		f.metrics.BytesRead.Add(uint64(n))
		f.buf = append(f.buf, f.chunk[:n]...)
	}
	if err != nil {
		f.err = normalizeEOF(err)
	}

	if len(f.buf) > maxBacklog*f.size {
		keep := keepBacklog * f.size
		drop := len(f.buf) - keep
		f.metrics.BytesDropped.Add(uint64(drop))
		f.metrics.BufferTruncations.Add(1)
		f.buf = append(f.buf[:0], f.buf[drop:]...)
	}
}

// DelimitedFramer splits the stream on a delimiter. The trailing partial
// segment is carried over to the next read.
type DelimitedFramer struct {
	r         io.Reader
	delimiter []byte
	minLength int
	maxLength int
	metrics   *metrics.Metrics

	buf   []byte
	chunk []byte
	seq   uint64
	err   error
}

// NewDelimitedFramer creates a framer that keeps segments of minLength to
// maxLength bytes. A maxLength of zero disables the upper bound.
func NewDelimitedFramer(r io.Reader, delimiter []byte, minLength, maxLength int, m *metrics.Metrics) *DelimitedFramer {
	return &DelimitedFramer{
		r:         r,
		delimiter: delimiter,
		minLength: minLength,
		maxLength: maxLength,
		metrics:   m,
		chunk:     make([]byte, readChunk),
	}
}

// Next implements Framer
func (f *DelimitedFramer) Next() (models.RawRecord, error) {
	for {
		for {
			i := bytes.Index(f.buf, f.delimiter)
			if i < 0 {
				break
			}
			segment := f.buf[:i]
			f.buf = f.buf[i+len(f.delimiter):]

			if len(segment) < f.minLength || (f.maxLength > 0 && len(segment) > f.maxLength) {
				f.metrics.NoiseSegments.Add(1)
				f.metrics.BytesDropped.Add(uint64(len(segment) + len(f.delimiter)))
				continue
			}
			f.seq++
			f.metrics.FramesSeen.Add(1)
			return models.RawRecord{Bytes: bytes.Clone(segment), Seq: f.seq}, nil
		}

		if f.err != nil {
			if n := len(f.buf); n > 0 {
				f.metrics.BytesDropped.Add(uint64(n))
				f.buf = nil
			}
			return models.RawRecord{}, f.err
		}

		f.fill()
	}
}

func (f *DelimitedFramer) fill() {
	// compact before growing so the carry-over does not pin old reads
	f.buf = bytes.Clone(f.buf)

	n, err := f.r.Read(f.chunk)
	if n > 0 {
		f.metrics.BytesRead.Add(uint64(n))
		f.buf = append(f.buf, f.chunk[:n]...)
	}
	if err != nil {
		f.err = normalizeEOF(err)
	}

	limit := maxBacklog * f.minLength
	if f.maxLength > 0 {
		limit = maxBacklog * f.maxLength
	}
	if limit > 0 && len(f.buf) > limit {
		keep := keepBacklog * max(f.maxLength, f.minLength)
		drop := len(f.buf) - keep
		f.metrics.BytesDropped.Add(uint64(drop))
		f.metrics.BufferTruncations.Add(1)
		f.buf = f.buf[drop:]
	}
}

func normalizeEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
