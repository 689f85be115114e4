package decoder

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/models"
)

// CANLayout is the byte layout of a CAN record body
type CANLayout int

const (
	// LayoutUART24: ts[0:8] '#' id[9:13] payload[13:21] dlc[21] CRLF
	LayoutUART24 CANLayout = iota
	// LayoutFiller21: ts[0:8] filler id[9:13] payload[13:21]
	LayoutFiller21
	// LayoutNoFiller21: ts[0:8] id[8:12] payload[12:20]
	LayoutNoFiller21
	// LayoutHex30: hex ts[0:8] id[8:12] payload[12:28] len[28:29]
	LayoutHex30
)

// ParseCANLayout parses a configuration value
func ParseCANLayout(s string) (CANLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uart24":
		return LayoutUART24, nil
	case "filler21", "tagged":
		return LayoutFiller21, nil
	case "nofiller21":
		return LayoutNoFiller21, nil
	case "hex30":
		return LayoutHex30, nil
	}
	return 0, fmt.Errorf("unknown CAN layout %q", s)
}

func (l CANLayout) String() string {
	switch l {
	case LayoutUART24:
		return "uart24"
	case LayoutFiller21:
		return "filler21"
	case LayoutNoFiller21:
		return "nofiller21"
	case LayoutHex30:
		return "hex30"
	}
	return fmt.Sprintf("CANLayout(%d)", int(l))
}

const maxExtendedID = 0x1FFFFFFF

// ParseCAN extracts a CAN frame from a record body.
// reverseID undoes the bit reversal applied by the UART bridge.
func ParseCAN(body []byte, layout CANLayout, reverseID bool) (*models.CanFrame, error) {
	var (
		ts      float64
		id      uint32
		payload []byte
		dlc     byte = 8
	)

	switch layout {
	case LayoutUART24:
		if len(body) < 22 {
			return nil, fmt.Errorf("uart24 record too short: %d bytes", len(body))
		}
		if body[8] != '#' {
			return nil, fmt.Errorf("missing '#' delimiter")
		}
		ts = codec.Float64FromBE(body[0:8])
		id = binary.BigEndian.Uint32(body[9:13])
		payload = body[13:21]
		dlc = body[21]

	case LayoutFiller21:
		if len(body) < 21 {
			return nil, fmt.Errorf("filler21 record too short: %d bytes", len(body))
		}
		ts = codec.Float64FromBE(body[0:8])
		id = binary.BigEndian.Uint32(body[9:13])
		payload = body[13:21]

	case LayoutNoFiller21:
		if len(body) < 20 {
			return nil, fmt.Errorf("nofiller21 record too short: %d bytes", len(body))
		}
		ts = codec.Float64FromBE(body[0:8])
		id = binary.BigEndian.Uint32(body[8:12])
		payload = body[12:20]

	case LayoutHex30:
		return parseHexCAN(body, reverseID)

	default:
		return nil, fmt.Errorf("unsupported CAN layout %v", layout)
	}

	if reverseID {
		id = codec.ReverseBits32(id)
	}
	return newCanFrame(ts, id, payload, dlc, body)
}

func parseHexCAN(body []byte, reverseID bool) (*models.CanFrame, error) {
	if len(body) < 29 {
		return nil, fmt.Errorf("hex30 record too short: %d bytes", len(body))
	}
	ts, err := codec.ParseHex(body[0:8])
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	id, err := codec.ParseHex(body[8:12])
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}
	payload := make([]byte, 8)
	if _, err := hex.Decode(payload, body[12:28]); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	dlc, err := codec.ParseHex(body[28:29])
	if err != nil {
		return nil, fmt.Errorf("length: %w", err)
	}

	canID := uint32(id)
	if reverseID {
		canID = codec.ReverseBits32(canID)
	}
	return newCanFrame(float64(ts), canID, payload, byte(dlc), body)
}

func newCanFrame(ts float64, id uint32, payload []byte, dlc byte, raw []byte) (*models.CanFrame, error) {
	if dlc > 8 {
		return nil, fmt.Errorf("dlc %d out of range", dlc)
	}
	if id > maxExtendedID {
		return nil, fmt.Errorf("identifier 0x%X exceeds 29 bits", id)
	}
	f := &models.CanFrame{
		FrameHeader: models.FrameHeader{Timestamp: ts, RawHex: hex.EncodeToString(raw)},
		Frame: models.CANFrame{
			ID:       id,
			Extended: codec.IsExtendedID(id),
			DLC:      dlc,
		},
	}
	copy(f.Frame.Data[:], payload)
	return f, nil
}
