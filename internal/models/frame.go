package models

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies the record type carried by a raw record
type Kind int

const (
	KindUnknown Kind = iota
	KindCAN
	KindIMU
	KindGPS
	KindLocalAT
	KindRemoteAT
)

// String returns the name used in logs and API responses
func (k Kind) String() string {
	switch k {
	case KindCAN:
		return "CAN"
	case KindIMU:
		return "IMU"
	case KindGPS:
		return "GPS"
	case KindLocalAT:
		return "LOCAL_AT"
	case KindRemoteAT:
		return "REMOTE_AT"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// RawRecord is one framed record extracted from the byte stream
type RawRecord struct {
	Bytes []byte
	// Seq is the arrival order within one connection
	Seq uint64
}

// FrameHeader carries the attributes common to every decoded record
type FrameHeader struct {
	Timestamp float64 `json:"timestamp"`
	RawHex    string  `json:"raw_hex"`
}

// Header returns the common attributes
func (h *FrameHeader) Header() *FrameHeader { return h }

// Frame is one of *CanFrame, *GpsFix, *ImuSample or *AtCommandReply
type Frame interface {
	Kind() Kind
	Header() *FrameHeader
}

// GpsFix is a decoded GPS text record.
// Latitude and Longitude hold magnitudes; the hemisphere carries the sign.
type GpsFix struct {
	FrameHeader
	Latitude       float64 `json:"latitude"`
	LatHemisphere  string  `json:"lat_hemisphere"`
	Longitude      float64 `json:"longitude"`
	LongHemisphere string  `json:"long_hemisphere"`
	AltitudeM      float64 `json:"altitude_m"`
	HDOP           float64 `json:"hdop"`
	Satellites     int     `json:"satellites"`
	Fix            int     `json:"fix"`
}

// Kind implements Frame
func (*GpsFix) Kind() Kind { return KindGPS }

// SignedLatitude returns the latitude in signed decimal degrees, south negative
func (g *GpsFix) SignedLatitude() float64 {
	if g.LatHemisphere == "S" {
		return -g.Latitude
	}
	return g.Latitude
}

// SignedLongitude returns the longitude in signed decimal degrees, west negative
func (g *GpsFix) SignedLongitude() float64 {
	if g.LongHemisphere == "W" {
		return -g.Longitude
	}
	return g.Longitude
}

// ImuSample is one axis reading from the inertial unit
type ImuSample struct {
	FrameHeader
	Axis  string  `json:"axis"`
	Value float32 `json:"value"`
}

// Kind implements Frame
func (*ImuSample) Kind() Kind { return KindIMU }

// AtStatus is the status byte of an AT command response
type AtStatus byte

const (
	AtStatusOK AtStatus = iota
	AtStatusError
	AtStatusInvalidCommand
	AtStatusInvalidParameter
)

func (s AtStatus) String() string {
	switch s {
	case AtStatusOK:
		return "OK"
	case AtStatusError:
		return "ERROR"
	case AtStatusInvalidCommand:
		return "INVALID COMMAND"
	case AtStatusInvalidParameter:
		return "INVALID PARAMETER"
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(s))
}

// AtCommandReply is the radio's answer to a local or remote AT command
type AtCommandReply struct {
	FrameHeader
	Remote   bool     `json:"remote"`
	FrameID  byte     `json:"frame_id"`
	Command  string   `json:"command"`
	Name     string   `json:"name"`
	Status   AtStatus `json:"status"`
	Value    uint64   `json:"value"`
	HasValue bool     `json:"has_value"`
}

// Kind implements Frame
func (r *AtCommandReply) Kind() Kind {
	if r.Remote {
		return KindRemoteAT
	}
	return KindLocalAT
}

// SecondsToTime converts epoch seconds to a UTC time with microsecond precision
func SecondsToTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
