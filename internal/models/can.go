package models

import "time"

// CANFrame represents a CAN 2.0 frame as it appears on the bus
type CANFrame struct {
	ID       uint32
	Extended bool
	DLC      uint8
	Data     [8]byte
}

// CANMessage includes the CAN frame and the time it was received
type CANMessage struct {
	Frame     CANFrame
	Timestamp time.Time
	Interface string
}

// CanFrame is a decoded CAN record from the telemetry link
type CanFrame struct {
	FrameHeader
	Frame CANFrame
}

// Kind implements Frame
func (*CanFrame) Kind() Kind { return KindCAN }

// Payload returns the valid payload bytes
func (f *CanFrame) Payload() []byte {
	n := int(f.Frame.DLC)
	if n > len(f.Frame.Data) {
		n = len(f.Frame.Data)
	}
	return f.Frame.Data[:n]
}

// CanFrameFromMessage converts a bus message into a decoded CAN record
func CanFrameFromMessage(msg CANMessage) *CanFrame {
	return &CanFrame{
		FrameHeader: FrameHeader{
			Timestamp: float64(msg.Timestamp.UnixNano()) / 1e9,
		},
		Frame: msg.Frame,
	}
}
