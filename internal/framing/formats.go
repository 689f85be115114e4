package framing

import (
	"fmt"
	"io"
	"strings"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/metrics"
)

// Format names a wire format of the telemetry link
type Format string

const (
	// FormatUART24 is the 24-byte binary CAN record of the UART bridge
	FormatUART24 Format = "uart24"
	// FormatHex30 is the legacy hex-ASCII line record
	FormatHex30 Format = "hex30"
	// FormatTagged is a CRLF delimited stream whose records start with a type tag byte
	FormatTagged Format = "tagged"
	// FormatFiller21 is a CRLF delimited stream classified by record length
	FormatFiller21 Format = "filler21"
	// FormatNoFiller21 is FormatFiller21 with the older CAN layout lacking the filler byte
	FormatNoFiller21 Format = "nofiller21"
)

const (
	UART24Size = 24
	Hex30Size  = 30

	// uart24 field offsets
	uartDelimiterOffset = 8
	uartDLCOffset       = 21
	uartDelimiter       = '#'

	hex30Digits = 29

	minTaggedLength    = 2
	minUntaggedLength  = 15
	maxDelimitedLength = 256
)

// ParseFormat validates a format name from configuration
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatUART24, FormatHex30, FormatTagged, FormatFiller21, FormatNoFiller21:
		return f, nil
	}
	return "", fmt.Errorf("unknown frame format %q", s)
}

// Fixed reports whether the format uses fixed-length framing
func (f Format) Fixed() bool {
	return f == FormatUART24 || f == FormatHex30
}

// New creates the framer for format reading from r
func New(format Format, r io.Reader, m *metrics.Metrics) (Framer, error) {
	switch format {
	case FormatUART24:
		return NewFixedFramer(r, UART24Size, m, WithValidator(ValidUART24)), nil
	case FormatHex30:
		return NewFixedFramer(r, Hex30Size, m,
			WithTerminator([]byte{'\n'}),
			WithValidator(ValidHex30)), nil
	case FormatTagged:
		return NewDelimitedFramer(r, CRLF, minTaggedLength, maxDelimitedLength, m), nil
	case FormatFiller21, FormatNoFiller21:
		return NewDelimitedFramer(r, CRLF, minUntaggedLength, maxDelimitedLength, m), nil
	}
	return nil, fmt.Errorf("unknown frame format %q", format)
}

// ValidUART24 checks the '#' delimiter and the DLC range of a 24-byte record
func ValidUART24(rec []byte) bool {
	return len(rec) == UART24Size &&
		rec[uartDelimiterOffset] == uartDelimiter &&
		rec[uartDLCOffset] <= 8
}

// ValidHex30 checks that a legacy line record carries only hex digits
func ValidHex30(rec []byte) bool {
	return len(rec) == Hex30Size && codec.IsHex(rec[:hex30Digits])
}
