package can

import (
	"encoding/binary"
	"fmt"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/models"
)

// FrameSize is the size of struct can_frame
const FrameSize = 16

const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	effMask = 0x1FFFFFFF
	sffMask = 0x000007FF
)

// ParseFrame decodes a struct can_frame. Remote and error frames carry no
// signal data and are rejected.
func ParseFrame(buf []byte) (models.CANFrame, error) {
	if len(buf) < FrameSize {
		return models.CANFrame{}, fmt.Errorf("incomplete CAN frame received: %d bytes", len(buf))
	}

	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&errFlag != 0 {
		return models.CANFrame{}, fmt.Errorf("error frame 0x%X", raw&effMask)
	}
	if raw&rtrFlag != 0 {
		return models.CANFrame{}, fmt.Errorf("remote frame 0x%X", raw&effMask)
	}

	frame := models.CANFrame{DLC: buf[4]}
	if raw&effFlag != 0 {
		frame.ID = raw & effMask
		frame.Extended = true
	} else {
		frame.ID = raw & sffMask
	}
	if frame.DLC > 8 {
		return models.CANFrame{}, fmt.Errorf("dlc %d exceeds 8", frame.DLC)
	}
	copy(frame.Data[:], buf[8:16])
	return frame, nil
}

// filter is the id/mask pair of struct can_filter
type filter struct {
	ID   uint32
	Mask uint32
}

func filterSpec(id uint32) filter {
	if codec.IsExtendedID(id) {
		return filter{ID: id | effFlag, Mask: effFlag | rtrFlag | effMask}
	}
	return filter{ID: id, Mask: effFlag | rtrFlag | sffMask}
}
