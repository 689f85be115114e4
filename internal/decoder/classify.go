package decoder

import (
	"fmt"
	"strings"

	"telemetry-ingest/internal/models"
)

// ClassifyMode selects how a record's type is determined
type ClassifyMode int

const (
	// ClassifyFixed treats every record as CAN
	ClassifyFixed ClassifyMode = iota
	// ClassifyTag reads the type from a leading tag byte
	ClassifyTag
	// ClassifyLength infers the type from the record length
	ClassifyLength
)

// ParseClassifyMode parses a configuration value
func ParseClassifyMode(s string) (ClassifyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "can":
		return ClassifyFixed, nil
	case "tag":
		return ClassifyTag, nil
	case "length":
		return ClassifyLength, nil
	}
	return 0, fmt.Errorf("unknown classification mode %q", s)
}

// Tag bytes of the radio link
const (
	TagCAN      byte = 0x00
	TagIMU      byte = 0x01
	TagGPS      byte = 0x02
	TagLocalAT  byte = 0x03
	TagRemoteAT byte = 0x04
)

var tagKinds = map[byte]models.Kind{
	TagCAN:      models.KindCAN,
	TagIMU:      models.KindIMU,
	TagGPS:      models.KindGPS,
	TagLocalAT:  models.KindLocalAT,
	TagRemoteAT: models.KindRemoteAT,
}

// lengthRange is the record length window owned by one kind
type lengthRange struct {
	kind     models.Kind
	min, max int
}

// ordered narrowest first
var lengthRanges = []lengthRange{
	{models.KindIMU, 15, 17},
	{models.KindCAN, 20, 26},
	{models.KindGPS, 110, 205},
}

// ClassificationError reports a record whose type could not be determined
type ClassificationError struct {
	Length int
	Tag    byte
	Reason string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("cannot classify %d-byte record (tag 0x%02X): %s", e.Length, e.Tag, e.Reason)
}

// Classify determines the kind of rec and returns the body to decode
func Classify(rec []byte, mode ClassifyMode) (models.Kind, []byte, error) {
	kinds, body, err := candidates(rec, mode)
	if err != nil {
		return models.KindUnknown, nil, err
	}
	return kinds[0], body, nil
}

// candidates lists every kind the record may be, most specific first
func candidates(rec []byte, mode ClassifyMode) ([]models.Kind, []byte, error) {
	if len(rec) == 0 {
		return nil, nil, &ClassificationError{Reason: "empty record"}
	}

	switch mode {
	case ClassifyFixed:
		return []models.Kind{models.KindCAN}, rec, nil

	case ClassifyTag:
		kind, ok := tagKinds[rec[0]]
		if !ok {
			return nil, nil, &ClassificationError{Length: len(rec), Tag: rec[0], Reason: "unknown tag byte"}
		}
		return []models.Kind{kind}, rec[1:], nil

	case ClassifyLength:
		var kinds []models.Kind
		for _, r := range lengthRanges {
			if len(rec) >= r.min && len(rec) <= r.max {
				kinds = append(kinds, r.kind)
			}
		}
		if len(kinds) == 0 {
			return nil, nil, &ClassificationError{Length: len(rec), Tag: rec[0], Reason: "length matches no record type"}
		}
		return kinds, rec, nil
	}
	return nil, nil, &ClassificationError{Length: len(rec), Reason: fmt.Sprintf("invalid mode %d", mode)}
}
