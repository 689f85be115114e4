package grpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"go.einride.tech/can/pkg/descriptor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) Submit(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return true
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

type harness struct {
	service *IngestService
	points  *collector[models.Point]
	frames  *collector[models.CANMessage]
	metrics *metrics.Metrics
	conn    *grpc.ClientConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	table := signaltable.NewStatic(&signaltable.Message{
		MessageName: "BatteryStatus",
		ID:          0x100,
		Size:        2,
		Transmitter: []string{"BMS"},
		Signals: []*descriptor.Signal{
			{Name: "Byte0", Start: 0, Length: 8, Scale: 1},
			{Name: "Byte1", Start: 8, Length: 8, Scale: 1},
		},
	})

	h := &harness{
		points:  &collector[models.Point]{},
		frames:  &collector[models.CANMessage]{},
		metrics: metrics.New(),
	}
	dec := decoder.New(decoder.Config{}, table, h.metrics, nil)
	h.service = NewIngestService(dec, h.points, h.frames, h.metrics)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterIngestServer(srv, h.service)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	h.conn = conn
	return h
}

func canFrame(ts float64, id uint32, data ...byte) *models.CanFrame {
	f := &models.CanFrame{
		FrameHeader: models.FrameHeader{Timestamp: ts},
		Frame:       models.CANFrame{ID: id, DLC: uint8(len(data))},
	}
	copy(f.Frame.Data[:], data)
	return f
}

func TestStreamWriterUpload(t *testing.T) {
	for _, compression := range []string{"", "gzip", "zstd", "lz4"} {
		t.Run("compression="+compression, func(t *testing.T) {
			h := newHarness(t)
			w := NewStreamWriter(h.conn, compression)

			batches := []models.Batch[*models.CanFrame]{
				{ID: "b1", Items: []*models.CanFrame{canFrame(1700000000, 0x100, 7, 9)}},
				{ID: "b2", Items: []*models.CanFrame{canFrame(1700000001, 0x100, 1, 2), canFrame(1700000002, 0x555, 0)}},
			}
			for _, b := range batches {
				ack, err := w.Write(context.Background(), b)
				if err != nil {
					t.Fatalf("Write(%s) error: %v", b.ID, err)
				}
				if ack.Accepted != b.Len() {
					t.Fatalf("Write(%s) accepted %d, want %d", b.ID, ack.Accepted, b.Len())
				}
			}

			ack, err := w.CloseStream(context.Background())
			if err != nil {
				t.Fatalf("CloseStream() error: %v", err)
			}
			if ack.FramesIngested != 3 {
				t.Fatalf("FramesIngested = %d, want 3", ack.FramesIngested)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			points := h.points.all()
			if len(points) != 4 {
				t.Fatalf("got %d points, want 4", len(points))
			}
			first := points[0]
			if first.Name != "Byte0" || first.Value != 7 || first.Source != "BMS" || first.Class != "BatteryStatus" {
				t.Fatalf("unexpected first point: %+v", first)
			}
			if first.Timestamp != 1700000000 {
				t.Fatalf("timestamp = %v, want 1700000000", first.Timestamp)
			}

			if got := len(h.frames.all()); got != 3 {
				t.Fatalf("archived %d frames, want 3", got)
			}
			if got := h.metrics.UnknownIDs.Load(); got != 1 {
				t.Fatalf("UnknownIDs = %d, want 1", got)
			}
			if got := h.service.Total(); got != 3 {
				t.Fatalf("Total() = %d, want 3", got)
			}
		})
	}
}

func TestUploadSkipsMalformedFrames(t *testing.T) {
	h := newHarness(t)

	stream, err := NewIngestClient(h.conn).UploadFrames(context.Background())
	if err != nil {
		t.Fatalf("UploadFrames() error: %v", err)
	}
	err = stream.Send(&FrameBatch{Frames: []RawFrame{
		{Timestamp: 1, CanID: 0x100, Data: []byte{1, 2}, DLC: 2},
		{Timestamp: 2, CanID: 0x100, Data: make([]byte, 9), DLC: 9},
		{Timestamp: 3, CanID: 0x20000000, Data: []byte{1}, DLC: 1},
		{Timestamp: 4, CanID: 0x100, Data: []byte{1}, DLC: 2},
	}})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	ack, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("CloseAndRecv() error: %v", err)
	}

	if ack.FramesIngested != 1 {
		t.Fatalf("FramesIngested = %d, want 1", ack.FramesIngested)
	}
	if got := h.metrics.DecodeErrors.Load(); got != 3 {
		t.Fatalf("DecodeErrors = %d, want 3", got)
	}
	if got := h.metrics.FramesSeen.Load(); got != 4 {
		t.Fatalf("FramesSeen = %d, want 4", got)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"none", "", false},
		{"gzip", "gzip", false},
		{"zstd", "zstd", false},
		{"lz4", "lz4", false},
		{"snappy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseCompression(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
