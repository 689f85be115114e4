package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/models"
)

// MaxMessageBytes bounds both directions of the upload stream
const MaxMessageBytes = 50 * 1024 * 1024

// closeTimeout bounds waiting for the server ack when the writer closes
const closeTimeout = 5 * time.Second

// StreamConfig holds the upload target
type StreamConfig struct {
	Target      string
	Compression string
}

// StreamWriter sends frame batches over one long-lived UploadFrames stream.
// A failed stream is dropped and reopened on the next Write.
type StreamWriter struct {
	conn     *grpc.ClientConn
	client   *IngestClient
	callOpts []grpc.CallOption

	ctx          context.Context
	cancel       context.CancelFunc
	stream       UploadFramesClient
	streamCancel context.CancelFunc
}

// Dial creates a writer connected to config.Target
func Dial(config StreamConfig) (*StreamWriter, error) {
	compression, err := ParseCompression(config.Compression)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(config.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(MaxMessageBytes),
			grpc.MaxCallRecvMsgSize(MaxMessageBytes),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", config.Target, err)
	}

	w := NewStreamWriter(conn, compression)
	w.conn = conn
	return w, nil
}

// NewStreamWriter creates a writer on an existing connection, which it does
// not close
func NewStreamWriter(cc grpc.ClientConnInterface, compression string) *StreamWriter {
	var opts []grpc.CallOption
	if compression != "" {
		opts = append(opts, grpc.UseCompressor(compression))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamWriter{
		client:   NewIngestClient(cc),
		callOpts: opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name implements database.Writer
func (w *StreamWriter) Name() string { return "grpc" }

// Write implements database.Writer. The stream outlives a single call; when
// ctx ends before Send returns, the stream is torn down and reopened on the
// next Write.
func (w *StreamWriter) Write(ctx context.Context, b models.Batch[*models.CanFrame]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}
	if err := ctx.Err(); err != nil {
		return database.Ack{}, err
	}

	if w.stream == nil {
		streamCtx, cancel := context.WithCancel(w.ctx)
		stream, err := w.client.UploadFrames(streamCtx, w.callOpts...)
		if err != nil {
			cancel()
			return database.Ack{}, fmt.Errorf("failed to open upload stream: %w", err)
		}
		w.stream, w.streamCancel = stream, cancel
	}

	msg := &FrameBatch{ID: b.ID, Frames: make([]RawFrame, 0, b.Len())}
	for _, f := range b.Items {
		msg.Frames = append(msg.Frames, RawFrameFrom(f))
	}

	stream := w.stream
	sent := make(chan error, 1)
	go func() { sent <- stream.Send(msg) }()

	select {
	case err := <-sent:
		if err != nil {
			// Send reports io.EOF on a broken stream; the status comes from the receive side
			_, recvErr := w.recv(ctx)
			w.dropStream()
			if errors.Is(err, io.EOF) && recvErr != nil {
				err = recvErr
			}
			return database.Ack{}, fmt.Errorf("failed to send frame batch: %w", err)
		}
		return database.Ack{Accepted: b.Len()}, nil

	case <-ctx.Done():
		w.dropStream()
		<-sent
		return database.Ack{}, fmt.Errorf("failed to send frame batch: %w", ctx.Err())
	}
}

// recv half-closes the stream and waits for the ack until ctx ends
func (w *StreamWriter) recv(ctx context.Context) (*UploadAck, error) {
	type result struct {
		ack *UploadAck
		err error
	}
	stream := w.stream
	done := make(chan result, 1)
	go func() {
		ack, err := stream.CloseAndRecv()
		done <- result{ack, err}
	}()

	select {
	case r := <-done:
		return r.ack, r.err
	case <-ctx.Done():
		w.streamCancel()
		<-done
		return nil, ctx.Err()
	}
}

func (w *StreamWriter) dropStream() {
	if w.streamCancel != nil {
		w.streamCancel()
	}
	w.stream, w.streamCancel = nil, nil
}

// CloseStream half-closes the current stream and returns the server's ack,
// giving up when ctx ends
func (w *StreamWriter) CloseStream(ctx context.Context) (*UploadAck, error) {
	if w.stream == nil {
		return &UploadAck{}, nil
	}
	ack, err := w.recv(ctx)
	w.dropStream()
	if err != nil {
		return nil, fmt.Errorf("failed to close upload stream: %w", err)
	}
	return ack, nil
}

// Close ends the stream and releases the connection
func (w *StreamWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	ack, err := w.CloseStream(ctx)
	if err == nil {
		log.Printf("Upload stream closed, server ack: %d frames", ack.FramesIngested)
	}
	w.cancel()
	if w.conn != nil {
		if cerr := w.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
