// Package codec holds the bit and byte level helpers shared by the record decoders.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxStandardID is the largest 11-bit CAN identifier.
const MaxStandardID = 0x7FF

// ReverseBits32 reverses the bit order of a 32-bit word.
func ReverseBits32(x uint32) uint32 {
	x = (x>>1)&0x55555555 | (x&0x55555555)<<1
	x = (x>>2)&0x33333333 | (x&0x33333333)<<2
	x = (x>>4)&0x0F0F0F0F | (x&0x0F0F0F0F)<<4
	x = (x>>8)&0x00FF00FF | (x&0x00FF00FF)<<8
	return x>>16 | x<<16
}

// IsExtendedID reports whether id lies outside the 11-bit identifier space.
func IsExtendedID(id uint32) bool {
	return id > MaxStandardID
}

// Float64FromBE reinterprets 8 big-endian bytes as an IEEE-754 double.
func Float64FromBE(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// PutFloat64BE writes v into b as an 8-byte big-endian bit pattern.
func PutFloat64BE(b []byte, v float64) {
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
}

// Float32FromBE reinterprets 4 big-endian bytes as an IEEE-754 float.
func Float32FromBE(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// PutFloat32BE writes v into b as a 4-byte big-endian bit pattern.
func PutFloat32BE(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

// TwosComplement sign-extends the low width bits of raw.
func TwosComplement(raw uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(raw)
	}
	raw &= 1<<width - 1
	if raw&(1<<(width-1)) != 0 {
		return int64(raw) - int64(1<<width)
	}
	return int64(raw)
}

// BigEndianUint reads up to 8 bytes as an unsigned big-endian integer.
// Shorter inputs are treated as right-justified.
func BigEndianUint(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("integer field too wide: %d bytes", len(b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// ParseHex decodes an ASCII hex field such as "1A2B" into its integer value.
func ParseHex(b []byte) (uint64, error) {
	if len(b) == 0 || len(b) > 16 {
		return 0, fmt.Errorf("invalid hex field length %d", len(b))
	}
	var v uint64
	for _, c := range b {
		n, ok := hexNibble(c)
		if !ok {
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		v = v<<4 | uint64(n)
	}
	return v, nil
}

// IsHex reports whether every byte of b is an ASCII hex digit.
func IsHex(b []byte) bool {
	for _, c := range b {
		if _, ok := hexNibble(c); !ok {
			return false
		}
	}
	return true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Round6 rounds v to six decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
