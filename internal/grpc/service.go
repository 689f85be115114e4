package grpc

import (
	"bytes"
	"context"

	"google.golang.org/grpc"

	"telemetry-ingest/internal/models"
)

// RawFrame is one CAN frame as uploaded by a link
type RawFrame struct {
	Timestamp    float64 `cbor:"timestamp"`
	CanID        uint32  `cbor:"can_id"`
	IsExtendedID bool    `cbor:"is_extended_id"`
	Data         []byte  `cbor:"data"`
	DLC          uint32  `cbor:"dlc"`
}

// FrameBatch is one message of the upload stream
type FrameBatch struct {
	ID     string     `cbor:"id,omitempty"`
	Frames []RawFrame `cbor:"frames"`
}

// UploadAck closes the upload stream
type UploadAck struct {
	FramesIngested uint64 `cbor:"frames_ingested"`
}

// RawFrameFrom converts a decoded CAN record into its upload form
func RawFrameFrom(f *models.CanFrame) RawFrame {
	return RawFrame{
		Timestamp:    f.Timestamp,
		CanID:        f.Frame.ID,
		IsExtendedID: f.Frame.Extended,
		Data:         bytes.Clone(f.Payload()),
		DLC:          uint32(f.Frame.DLC),
	}
}

// IngestServer is the server side of the CanIngest service
type IngestServer interface {
	UploadFrames(UploadFramesServer) error
}

// UploadFramesServer is the server view of one upload stream
type UploadFramesServer interface {
	Recv() (*FrameBatch, error)
	SendAndClose(*UploadAck) error
	grpc.ServerStream
}

type uploadFramesServer struct {
	grpc.ServerStream
}

func (x *uploadFramesServer) Recv() (*FrameBatch, error) {
	m := new(FrameBatch)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *uploadFramesServer) SendAndClose(m *UploadAck) error {
	return x.ServerStream.SendMsg(m)
}

func uploadFramesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(IngestServer).UploadFrames(&uploadFramesServer{stream})
}

const uploadFramesMethod = "/canlink.CanIngest/UploadFrames"

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: "canlink.CanIngest",
	HandlerType: (*IngestServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadFrames",
			Handler:       uploadFramesHandler,
			ClientStreams: true,
		},
	},
	Metadata: "canlink",
}

// RegisterIngestServer registers srv on s
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

// UploadFramesClient is the client view of one upload stream
type UploadFramesClient interface {
	Send(*FrameBatch) error
	CloseAndRecv() (*UploadAck, error)
	grpc.ClientStream
}

type uploadFramesClient struct {
	grpc.ClientStream
}

func (x *uploadFramesClient) Send(m *FrameBatch) error {
	return x.ClientStream.SendMsg(m)
}

func (x *uploadFramesClient) CloseAndRecv() (*UploadAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(UploadAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// IngestClient opens upload streams
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient creates a client on cc
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// UploadFrames opens a client stream; every call uses the CBOR codec
func (c *IngestClient) UploadFrames(ctx context.Context, opts ...grpc.CallOption) (UploadFramesClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(ContentSubtype)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ingestServiceDesc.Streams[0], uploadFramesMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &uploadFramesClient{stream}, nil
}
