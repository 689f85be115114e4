package grpc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"google.golang.org/grpc/peer"

	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
)

const maxExtendedID = 0x1FFFFFFF

// IngestService decodes uploaded frames and forwards the points to storage
type IngestService struct {
	decoder *decoder.Decoder
	points  batch.Submitter[models.Point]
	frames  batch.Submitter[models.CANMessage]
	metrics *metrics.Metrics
	total   atomic.Uint64
}

// NewIngestService creates the service. frames may be nil when raw frames
// are not archived.
func NewIngestService(dec *decoder.Decoder, points batch.Submitter[models.Point], frames batch.Submitter[models.CANMessage], m *metrics.Metrics) *IngestService {
	return &IngestService{
		decoder: dec,
		points:  points,
		frames:  frames,
		metrics: m,
	}
}

// Total returns the number of frames ingested over all streams
func (s *IngestService) Total() uint64 {
	return s.total.Load()
}

// UploadFrames implements IngestServer
func (s *IngestService) UploadFrames(stream UploadFramesServer) error {
	remote := "grpc"
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	log.Printf("UploadFrames stream opened from %s", remote)

	var ingested uint64
	for {
		fb, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Printf("UploadFrames stream from %s closed, %d frames ingested", remote, ingested)
			return stream.SendAndClose(&UploadAck{FramesIngested: ingested})
		}
		if err != nil {
			return fmt.Errorf("failed to receive frame batch: %w", err)
		}

		for _, rf := range fb.Frames {
			if s.ingest(rf, remote) {
				ingested++
				s.total.Add(1)
			}
		}
	}
}

// ingest decodes one frame; malformed frames are counted and skipped
func (s *IngestService) ingest(rf RawFrame, iface string) bool {
	s.metrics.FramesSeen.Add(1)

	frame, err := canFrameFrom(rf)
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		return false
	}

	if s.frames != nil {
		s.frames.Submit(models.CANMessage{
			Frame:     frame.Frame,
			Timestamp: models.SecondsToTime(frame.Timestamp),
			Interface: iface,
		})
	}

	res := s.decoder.DecodeCAN(frame)
	for _, m := range res.Measurements {
		p, ok := batch.Coerce(m)
		if !ok {
			s.metrics.PointsDropped.Add(1)
			continue
		}
		s.points.Submit(p)
	}
	return true
}

func canFrameFrom(rf RawFrame) (*models.CanFrame, error) {
	if rf.DLC > 8 {
		return nil, fmt.Errorf("dlc %d exceeds 8", rf.DLC)
	}
	if rf.CanID > maxExtendedID {
		return nil, fmt.Errorf("can id 0x%X exceeds 29 bits", rf.CanID)
	}
	if len(rf.Data) < int(rf.DLC) {
		return nil, fmt.Errorf("data length %d shorter than dlc %d", len(rf.Data), rf.DLC)
	}

	frame := &models.CanFrame{
		FrameHeader: models.FrameHeader{Timestamp: rf.Timestamp},
		Frame: models.CANFrame{
			ID:       rf.CanID,
			Extended: rf.IsExtendedID,
			DLC:      uint8(rf.DLC),
		},
	}
	copy(frame.Frame.Data[:], rf.Data[:rf.DLC])
	return frame, nil
}
