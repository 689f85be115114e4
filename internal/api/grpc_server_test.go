package api

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.einride.tech/can/pkg/descriptor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"telemetry-ingest/internal/decoder"
	cangrpc "telemetry-ingest/internal/grpc"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

type countingSink struct {
	n atomic.Int64
}

func (c *countingSink) Submit(models.Point) bool {
	c.n.Add(1)
	return true
}

func TestGRPCStopBoundedWithOpenStream(t *testing.T) {
	table := signaltable.NewStatic(&signaltable.Message{
		MessageName: "BatteryStatus",
		ID:          0x100,
		Size:        1,
		Transmitter: []string{"BMS"},
		Signals:     []*descriptor.Signal{{Name: "Byte0", Start: 0, Length: 8, Scale: 1}},
	})
	m := metrics.New()
	ingest := cangrpc.NewIngestService(decoder.New(decoder.Config{}, table, m, nil), &countingSink{}, nil, m)

	lis := bufconn.Listen(1 << 20)
	srv := newGRPCServer(lis, ingest)
	go srv.Start()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	defer conn.Close()

	// the link keeps its stream open after a write
	w := cangrpc.NewStreamWriter(conn, "")
	frame := &models.CanFrame{
		FrameHeader: models.FrameHeader{Timestamp: 1700000000},
		Frame:       models.CANFrame{ID: 0x100, DLC: 1, Data: [8]byte{7}},
	}
	if _, err := w.Write(context.Background(), models.Batch[*models.CanFrame]{ID: "b1", Items: []*models.CanFrame{frame}}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ingest.Total() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("frame never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	srv.Stop(ctx)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop blocked for %v with an open stream", elapsed)
	}
}
