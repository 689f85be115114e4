package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.einride.tech/can/pkg/descriptor"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/framing"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

type collector[T any] struct {
	items []T
}

func (c *collector[T]) Submit(item T) bool {
	c.items = append(c.items, item)
	return true
}

func testTable() *signaltable.Static {
	return signaltable.NewStatic(&signaltable.Message{
		MessageName: "BatteryStatus",
		ID:          0x100,
		Size:        8,
		Transmitter: []string{"BMS"},
		Signals:     []*descriptor.Signal{{Name: "Byte0", Start: 0, Length: 8, Scale: 1}},
	})
}

func uart24(ts float64, id uint32, payload []byte, dlc byte) []byte {
	rec := make([]byte, framing.UART24Size)
	codec.PutFloat64BE(rec[0:8], ts)
	rec[8] = '#'
	binary.BigEndian.PutUint32(rec[9:13], codec.ReverseBits32(id))
	copy(rec[13:21], payload)
	rec[21] = dlc
	rec[22], rec[23] = 0x0D, 0x0A
	return rec
}

func newPipeline(m *metrics.Metrics) (*Pipeline, *collector[models.Point], *collector[*models.CanFrame]) {
	dec := decoder.New(decoder.Config{
		Classify:  decoder.ClassifyFixed,
		CANLayout: decoder.LayoutUART24,
		ReverseID: true,
	}, testTable(), m, nil)
	points := &collector[models.Point]{}
	frames := &collector[*models.CanFrame]{}
	return New(dec, points, frames, m), points, frames
}

func TestRunUART24Stream(t *testing.T) {
	m := metrics.New()
	p, points, frames := newPipeline(m)

	var stream bytes.Buffer
	stream.Write([]byte{0x55, 0xAA, 0x01})
	stream.Write(uart24(1700000000.0, 0x100, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 8))
	stream.Write(uart24(1700000000.5, 0x7FF, []byte{9}, 1))

	fr, err := framing.New(framing.FormatUART24, &stream, m)
	if err != nil {
		t.Fatalf("framing.New() error: %v", err)
	}
	if err := p.Run(context.Background(), fr); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(points.items) != 1 {
		t.Fatalf("got %d points, want 1", len(points.items))
	}
	got := points.items[0]
	want := models.Point{Name: "Byte0", Class: "BatteryStatus", Source: "BMS", Value: 0, Timestamp: 1700000000.0}
	if got != want {
		t.Fatalf("point = %+v, want %+v", got, want)
	}

	if len(frames.items) != 2 {
		t.Fatalf("forwarded %d frames, want 2", len(frames.items))
	}
	if frames.items[1].Frame.ID != 0x7FF {
		t.Fatalf("second frame id = 0x%X", frames.items[1].Frame.ID)
	}

	if m.FramesSeen.Load() != 2 || m.Decoded.Load() != 1 || m.UnknownIDs.Load() != 1 {
		t.Fatalf("seen=%d decoded=%d unknown=%d", m.FramesSeen.Load(), m.Decoded.Load(), m.UnknownIDs.Load())
	}
	if m.BytesDropped.Load() != 3 {
		t.Fatalf("BytesDropped = %d, want 3", m.BytesDropped.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := metrics.New()
	p, points, _ := newPipeline(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fr, _ := framing.New(framing.FormatUART24, bytes.NewReader(uart24(1, 0x100, make([]byte, 8), 8)), m)
	if err := p.Run(ctx, fr); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(points.items) != 0 {
		t.Fatalf("cancelled run produced %d points", len(points.items))
	}
}

func TestHandleCAN(t *testing.T) {
	m := metrics.New()
	p, points, frames := newPipeline(m)

	msgs := make(chan models.CANMessage, 2)
	msgs <- models.CANMessage{
		Frame:     models.CANFrame{ID: 0x100, DLC: 8, Data: [8]byte{42}},
		Timestamp: time.Unix(1700000000, 0),
		Interface: "vcan0",
	}
	close(msgs)

	if err := p.RunCAN(context.Background(), msgs); err != nil {
		t.Fatalf("RunCAN() error: %v", err)
	}
	if len(points.items) != 1 || points.items[0].Value != 42 || points.items[0].Timestamp != 1700000000 {
		t.Fatalf("unexpected points %+v", points.items)
	}
	if len(frames.items) != 1 || m.FramesSeen.Load() != 1 {
		t.Fatalf("frames=%d seen=%d", len(frames.items), m.FramesSeen.Load())
	}
}

func TestArchiveFrames(t *testing.T) {
	m := metrics.New()
	p, _, _ := newPipeline(m)
	archive := &collector[models.CANMessage]{}
	p.ArchiveFrames(archive, "/dev/ttyUSB0")

	p.Handle(models.RawRecord{Bytes: uart24(1700000000.5, 0x100, []byte{1, 2}, 2)})
	p.HandleCAN(models.CANMessage{
		Frame:     models.CANFrame{ID: 0x18FF50E5, Extended: true, DLC: 1, Data: [8]byte{9}},
		Timestamp: time.Unix(1700000001, 0),
		Interface: "vcan0",
	})

	if len(archive.items) != 2 {
		t.Fatalf("archived %d frames, want 2", len(archive.items))
	}
	first := archive.items[0]
	if first.Frame.ID != 0x100 || first.Frame.DLC != 2 || first.Interface != "/dev/ttyUSB0" {
		t.Fatalf("unexpected serial frame %+v", first)
	}
	if !first.Timestamp.Equal(time.Unix(1700000000, 500000000)) {
		t.Fatalf("timestamp = %v", first.Timestamp)
	}
	if second := archive.items[1]; second.Frame.ID != 0x18FF50E5 || second.Interface != "vcan0" {
		t.Fatalf("unexpected bus frame %+v", second)
	}
}
