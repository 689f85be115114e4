// Package decoder turns framed records into typed frames and named measurements.
package decoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

// Outcome classifies the result of decoding one record
type Outcome int

const (
	OutcomeDecoded Outcome = iota
	OutcomeUnknownID
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "DECODED"
	case OutcomeUnknownID:
		return "UNKNOWN_ID"
	case OutcomeError:
		return "DECODE_FAIL"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is returned for every record; Decode never fails past its boundary
type Result struct {
	Kind         models.Kind
	Frame        models.Frame
	Measurements []models.Measurement
	Outcome      Outcome
	Err          error
}

// DecodeError wraps a failure to decode a record of a known kind
type DecodeError struct {
	Kind models.Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrUnknownID is the Result error for identifiers absent from the signal table
var ErrUnknownID = errors.New("identifier not in signal table")

// FailureRecorder receives CAN frames that could not be turned into measurements
type FailureRecorder interface {
	Record(frame *models.CanFrame, reason string)
}

// Config holds the decoding policy of one link
type Config struct {
	Classify  ClassifyMode
	CANLayout CANLayout
	ReverseID bool
	GPSTime   GPSTimeMode
	// Now defaults to time.Now
	Now func() time.Time
}

// Decoder is safe for concurrent use; counters are atomic and the table is read-only
type Decoder struct {
	cfg      Config
	table    signaltable.Table
	metrics  *metrics.Metrics
	warn     *SampledLogger
	failures FailureRecorder
}

// New creates a decoder. failures may be nil.
func New(cfg Config, table signaltable.Table, m *metrics.Metrics, failures FailureRecorder) *Decoder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Decoder{
		cfg:      cfg,
		table:    table,
		metrics:  m,
		warn:     NewSampledLogger(DefaultSampleFirst, DefaultSampleEvery),
		failures: failures,
	}
}

// Decode classifies and decodes one raw record
func (d *Decoder) Decode(rec models.RawRecord) Result {
	kinds, body, err := candidates(rec.Bytes, d.cfg.Classify)
	if err != nil {
		return d.account(Result{Outcome: OutcomeError, Err: err})
	}

	var res Result
	for _, kind := range kinds {
		res = d.decodeKind(kind, body)
		if res.Outcome != OutcomeError {
			break
		}
	}
	if res.Frame != nil {
		res.Frame.Header().RawHex = hex.EncodeToString(rec.Bytes)
	}
	return d.account(res)
}

// DecodeCAN resolves an already parsed CAN frame against the signal table
func (d *Decoder) DecodeCAN(frame *models.CanFrame) Result {
	return d.account(d.decodeCAN(frame))
}

func (d *Decoder) decodeKind(kind models.Kind, body []byte) Result {
	switch kind {
	case models.KindCAN:
		frame, err := ParseCAN(body, d.cfg.CANLayout, d.cfg.ReverseID)
		if err != nil {
			return failed(kind, err)
		}
		return d.decodeCAN(frame)

	case models.KindGPS:
		fix, err := ParseGPS(body, d.cfg.GPSTime, d.cfg.Now())
		if err != nil {
			return failed(kind, err)
		}
		return decoded(fix, gpsMeasurements(fix))

	case models.KindIMU:
		sample, err := ParseIMU(body)
		if err != nil {
			return failed(kind, err)
		}
		return decoded(sample, imuMeasurements(sample))

	case models.KindLocalAT, models.KindRemoteAT:
		reply, err := ParseATReply(body, kind == models.KindRemoteAT, d.cfg.Now())
		if err != nil {
			return failed(kind, err)
		}
		return decoded(reply, atMeasurements(reply))
	}
	return failed(kind, fmt.Errorf("no decoder for %s", kind))
}

func (d *Decoder) decodeCAN(frame *models.CanFrame) Result {
	id, ext := frame.Frame.ID, frame.Frame.Extended

	layout, ok := d.table.Lookup(id, ext)
	if !ok {
		layout, ok = d.table.LookupID(id)
	}
	if !ok {
		d.recordFailure(frame, OutcomeUnknownID.String())
		return Result{Kind: models.KindCAN, Frame: frame, Outcome: OutcomeUnknownID, Err: ErrUnknownID}
	}

	values, err := layout.Decode(frame.Payload())
	if err != nil {
		d.recordFailure(frame, fmt.Sprintf("%s:%v", OutcomeError, err))
		res := failed(models.KindCAN, err)
		res.Frame = frame
		return res
	}

	source := models.UnknownSource
	if senders := layout.Senders(); len(senders) > 0 && senders[0] != "" {
		source = senders[0]
	}
	out := make([]models.Measurement, 0, len(values))
	for _, v := range values {
		out = append(out, models.Measurement{
			Name:      v.Name,
			Class:     layout.Name(),
			Source:    source,
			Value:     v.Value,
			Timestamp: frame.Timestamp,
		})
	}
	return decoded(frame, out)
}

// account updates the counters once per record
func (d *Decoder) account(res Result) Result {
	switch res.Outcome {
	case OutcomeDecoded:
		d.metrics.Decoded.Add(1)
		d.metrics.MeasurementsProduced.Add(uint64(len(res.Measurements)))
	case OutcomeUnknownID:
		d.metrics.UnknownIDs.Add(1)
	case OutcomeError:
		n := d.metrics.DecodeErrors.Add(1)
		d.warn.Printf(n, "decode error: %v", res.Err)
	}
	return res
}

func (d *Decoder) recordFailure(frame *models.CanFrame, reason string) {
	if d.failures != nil {
		d.failures.Record(frame, reason)
	}
}

func decoded(frame models.Frame, ms []models.Measurement) Result {
	return Result{Kind: frame.Kind(), Frame: frame, Measurements: ms, Outcome: OutcomeDecoded}
}

func failed(kind models.Kind, err error) Result {
	return Result{Kind: kind, Outcome: OutcomeError, Err: &DecodeError{Kind: kind, Err: err}}
}
