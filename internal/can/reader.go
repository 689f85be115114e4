//go:build linux

package can

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"telemetry-ingest/internal/models"
)

const readTimeout = 200 * time.Millisecond

// Reader handles reading from SocketCAN
type Reader struct {
	socket    int
	ifname    string
	msgChan   chan models.CANMessage
	errorChan chan error
}

// NewReader creates a new CAN reader for the specified interface
func NewReader(ifname string) (*Reader, error) {
	// Create a CAN socket
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	// Get interface index
	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to create ifreq: %w", err)
	}

	err = unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to get interface index: %w", err)
	}

	// Bind socket to CAN interface
	addr := &unix.SockaddrCAN{
		Ifindex: int(ifreq.Uint32()),
	}

	err = unix.Bind(socket, addr)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to bind socket: %w", err)
	}

	// Bounded reads let the loop notice cancellation
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(socket, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Reader{
		socket:    socket,
		ifname:    ifname,
		msgChan:   make(chan models.CANMessage, 1000),
		errorChan: make(chan error, 10),
	}, nil
}

// Start begins reading CAN frames until ctx is done. The message channel is
// closed when the loop exits.
func (r *Reader) Start(ctx context.Context) {
	go r.readLoop(ctx)
}

// readLoop continuously reads CAN frames from the socket
func (r *Reader) readLoop(ctx context.Context) {
	defer close(r.msgChan)

	buf := make([]byte, FrameSize)
	for ctx.Err() == nil {
		n, err := unix.Read(r.socket, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EBADF) {
			return
		}
		if err != nil {
			r.reportError(fmt.Errorf("read error: %w", err))
			continue
		}

		frame, err := ParseFrame(buf[:n])
		if err != nil {
			r.reportError(err)
			continue
		}

		msg := models.CANMessage{
			Frame:     frame,
			Timestamp: time.Now().UTC(),
			Interface: r.ifname,
		}

		select {
		case r.msgChan <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reader) reportError(err error) {
	select {
	case r.errorChan <- err:
	default:
	}
}

// GetMessageChannel returns the channel for receiving CAN messages
func (r *Reader) GetMessageChannel() <-chan models.CANMessage {
	return r.msgChan
}

// GetErrorChannel returns the channel for receiving errors
func (r *Reader) GetErrorChannel() <-chan error {
	return r.errorChan
}

// Close closes the CAN socket; stop the read loop first by cancelling its context
func (r *Reader) Close() error {
	return unix.Close(r.socket)
}

// SetFilter restricts the socket to exact IDs; IDs above 0x7FF match extended frames
func (r *Reader) SetFilter(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	filters := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		filters = append(filters, filterFor(id))
	}

	if err := unix.SetsockoptCanRawFilter(r.socket, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("failed to set filter: %w", err)
	}
	return nil
}

func filterFor(id uint32) unix.CanFilter {
	f := filterSpec(id)
	return unix.CanFilter{Id: f.ID, Mask: f.Mask}
}
