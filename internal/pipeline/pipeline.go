// Package pipeline wires a byte source through framing and decoding into
// the sink runners.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/framing"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

// Pipeline routes decoded records to the point sinks and, optionally, every
// decoded CAN frame to a frame sink and a raw frame archive
type Pipeline struct {
	decoder *decoder.Decoder
	points  batch.Submitter[models.Point]
	frames  batch.Submitter[*models.CanFrame]
	metrics *metrics.Metrics

	archive batch.Submitter[models.CANMessage]
	iface   string
}

// New creates a pipeline. frames may be nil.
func New(dec *decoder.Decoder, points batch.Submitter[models.Point], frames batch.Submitter[*models.CanFrame], m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		decoder: dec,
		points:  points,
		frames:  frames,
		metrics: m,
	}
}

// ArchiveFrames also sends every CAN frame to archive, labelled with iface
// when the frame came from the byte stream
func (p *Pipeline) ArchiveFrames(archive batch.Submitter[models.CANMessage], iface string) {
	p.archive = archive
	p.iface = iface
}

// Run pulls records from fr until the source is exhausted or ctx is done.
// Next blocks on the source, so callers cancel a stuck read by closing it.
func (p *Pipeline) Run(ctx context.Context, fr framing.Framer) error {
	for ctx.Err() == nil {
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read record: %w", err)
		}
		p.Handle(rec)
	}
	return nil
}

// Handle decodes one record and forwards its output
func (p *Pipeline) Handle(rec models.RawRecord) decoder.Result {
	res := p.decoder.Decode(rec)
	if frame, ok := res.Frame.(*models.CanFrame); ok {
		if p.frames != nil {
			p.frames.Submit(frame)
		}
		if p.archive != nil {
			p.archive.Submit(models.CANMessage{
				Frame:     frame.Frame,
				Timestamp: models.SecondsToTime(frame.Timestamp),
				Interface: p.iface,
			})
		}
	}
	p.submit(res.Measurements)
	return res
}

// RunCAN consumes frames from a SocketCAN reader until msgs is closed
func (p *Pipeline) RunCAN(ctx context.Context, msgs <-chan models.CANMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			p.HandleCAN(msg)
		}
	}
}

// HandleCAN decodes one bus frame; these bypass the resynchronizer
func (p *Pipeline) HandleCAN(msg models.CANMessage) decoder.Result {
	p.metrics.FramesSeen.Add(1)
	frame := models.CanFrameFromMessage(msg)
	res := p.decoder.DecodeCAN(frame)
	if p.frames != nil {
		p.frames.Submit(frame)
	}
	if p.archive != nil {
		p.archive.Submit(msg)
	}
	p.submit(res.Measurements)
	return res
}

func (p *Pipeline) submit(ms []models.Measurement) {
	for _, m := range ms {
		point, ok := batch.Coerce(m)
		if !ok {
			p.metrics.PointsDropped.Add(1)
			continue
		}
		p.points.Submit(point)
	}
}
