package api

import (
	"context"
	"fmt"
	"log"
	"net"

	cangrpc "telemetry-ingest/internal/grpc"

	"google.golang.org/grpc"
)

// GRPCServer wraps the gRPC server
type GRPCServer struct {
	server   *grpc.Server
	listener net.Listener
}

// NewGRPCServer creates a new gRPC server
func NewGRPCServer(port int, ingest *cangrpc.IngestService) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return newGRPCServer(lis, ingest), nil
}

func newGRPCServer(lis net.Listener, ingest *cangrpc.IngestService) *GRPCServer {
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cangrpc.MaxMessageBytes),
		grpc.MaxSendMsgSize(cangrpc.MaxMessageBytes),
	)

	// Register the service
	cangrpc.RegisterIngestServer(grpcServer, ingest)

	return &GRPCServer{
		server:   grpcServer,
		listener: lis,
	}
}

// Start starts the gRPC server
func (s *GRPCServer) Start() error {
	log.Printf("gRPC server listening on %s", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully stops the gRPC server. Upload streams stay open for the
// life of a link, so streams still open when ctx ends are closed forcibly.
func (s *GRPCServer) Stop(ctx context.Context) {
	log.Println("Stopping gRPC server...")
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Warning: gRPC streams still open at shutdown deadline, closing them")
		s.server.Stop()
		<-done
	}
}
