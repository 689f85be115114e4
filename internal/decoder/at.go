package decoder

import (
	"encoding/hex"
	"fmt"
	"time"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/models"
)

// XBee API frame types for AT command responses
const (
	apiStartDelimiter   = 0x7E
	apiLocalATResponse  = 0x88
	apiRemoteATResponse = 0x97

	atSource = "AT"
)

var atCommandNames = map[string]string{
	"DB": "RSSI",
	"ER": "Error Message Count",
	"GD": "Good Packets Received Count",
}

// ParseATReply decodes a local (0x88) or remote (0x97) AT command response
// API frame. The value is big-endian; the checksum must verify.
func ParseATReply(body []byte, remote bool, now time.Time) (*models.AtCommandReply, error) {
	// 7E len(2) type frameID [addr64 addr16] cmd(2) status data... checksum
	cmdOffset := 5
	frameType := byte(apiLocalATResponse)
	if remote {
		cmdOffset = 15
		frameType = apiRemoteATResponse
	}
	statusOffset := cmdOffset + 2

	if len(body) < statusOffset+2 {
		return nil, fmt.Errorf("AT reply too short: %d bytes", len(body))
	}
	if body[0] != apiStartDelimiter {
		return nil, fmt.Errorf("missing API start delimiter")
	}
	if body[3] != frameType {
		return nil, fmt.Errorf("unexpected API frame type 0x%02X", body[3])
	}
	length := int(body[1])<<8 | int(body[2])
	if length != len(body)-4 {
		return nil, fmt.Errorf("API length %d does not match %d-byte frame", length, len(body))
	}
	if sum := Checksum(body[3 : len(body)-1]); sum != body[len(body)-1] {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X want 0x%02X", body[len(body)-1], sum)
	}

	command := string(body[cmdOffset:statusOffset])
	reply := &models.AtCommandReply{
		FrameHeader: models.FrameHeader{
			Timestamp: float64(now.UnixNano()) / 1e9,
			RawHex:    hex.EncodeToString(body),
		},
		Remote:  remote,
		FrameID: body[4],
		Command: command,
		Name:    command,
		Status:  models.AtStatus(body[statusOffset]),
	}
	if name, ok := atCommandNames[command]; ok {
		reply.Name = name
	}

	data := body[statusOffset+1 : len(body)-1]
	if len(data) > 0 {
		v, err := codec.BigEndianUint(data)
		if err != nil {
			return nil, err
		}
		reply.Value = v
		reply.HasValue = true
	}
	return reply, nil
}

// Checksum computes the XBee API checksum over frame data
func Checksum(frameData []byte) byte {
	var sum byte
	for _, b := range frameData {
		sum += b
	}
	return 0xFF - sum
}

func atMeasurements(r *models.AtCommandReply) []models.Measurement {
	if !r.HasValue || r.Status != models.AtStatusOK {
		return nil
	}
	class := "Local"
	if r.Remote {
		class = "Remote"
	}
	return []models.Measurement{{
		Name:      r.Name,
		Class:     class,
		Source:    atSource,
		Value:     int64(r.Value),
		Timestamp: r.Timestamp,
	}}
}
