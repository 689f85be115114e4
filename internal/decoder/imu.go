package decoder

import (
	"encoding/hex"
	"fmt"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/models"
)

const (
	imuSource   = "IMU"
	imuBodySize = 15
)

var imuAxes = map[string]bool{
	"AX": true, "AY": true, "AZ": true,
	"GX": true, "GY": true, "GZ": true,
}

// ParseIMU decodes ts[0:8] skip[8] axis[9:11] value[11:15]
func ParseIMU(body []byte) (*models.ImuSample, error) {
	if len(body) < imuBodySize {
		return nil, fmt.Errorf("IMU record too short: %d bytes", len(body))
	}
	axis := string(body[9:11])
	if !imuAxes[axis] {
		return nil, fmt.Errorf("invalid IMU axis %q", axis)
	}
	return &models.ImuSample{
		FrameHeader: models.FrameHeader{
			Timestamp: codec.Float64FromBE(body[0:8]),
			RawHex:    hex.EncodeToString(body),
		},
		Axis:  axis,
		Value: codec.Float32FromBE(body[11:15]),
	}, nil
}

// imuMeasurements uses the sensor letter as class and the axis letter as name
func imuMeasurements(s *models.ImuSample) []models.Measurement {
	return []models.Measurement{{
		Name:      s.Axis[1:],
		Class:     s.Axis[:1],
		Source:    imuSource,
		Value:     codec.Round6(float64(s.Value)),
		Timestamp: s.Timestamp,
	}}
}
