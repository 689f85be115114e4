//go:build !linux

package can

import (
	"context"
	"errors"

	"telemetry-ingest/internal/models"
)

// Reader is only available on Linux
type Reader struct{}

// NewReader reports that SocketCAN is unsupported
func NewReader(ifname string) (*Reader, error) {
	return nil, errors.New("socketcan is only supported on linux")
}

func (r *Reader) Start(ctx context.Context) {}

func (r *Reader) GetMessageChannel() <-chan models.CANMessage { return nil }

func (r *Reader) GetErrorChannel() <-chan error { return nil }

func (r *Reader) Close() error { return nil }

func (r *Reader) SetFilter(ids []uint32) error { return nil }
