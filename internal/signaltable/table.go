// Package signaltable maps CAN identifiers to message layouts and decodes their signals.
package signaltable

import (
	"fmt"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/descriptor"

	"telemetry-ingest/internal/models"
)

// Layout describes how to decode one CAN message
type Layout interface {
	Name() string
	Senders() []string
	Length() int
	Decode(payload []byte) ([]models.SignalValue, error)
}

// Table looks up message layouts by identifier
type Table interface {
	// Lookup matches on both identifier and frame format
	Lookup(id uint32, extended bool) (Layout, bool)
	// LookupID matches on the identifier alone
	LookupID(id uint32) (Layout, bool)
}

// Message is a Layout backed by descriptor signals
type Message struct {
	MessageName string
	ID          uint32
	Extended    bool
	Size        int
	Transmitter []string
	Signals     []*descriptor.Signal
}

// Name returns the message name
func (m *Message) Name() string { return m.MessageName }

// Senders returns the transmitting nodes in declaration order
func (m *Message) Senders() []string { return m.Transmitter }

// Length returns the message length in bytes
func (m *Message) Length() int { return m.Size }

// Decode unpacks every signal from payload in definition order.
// Multiplexed signals are only returned when their multiplexer value matches.
func (m *Message) Decode(payload []byte) ([]models.SignalValue, error) {
	if len(payload) > can.MaxDataLength {
		return nil, fmt.Errorf("payload too long: %d bytes", len(payload))
	}
	if len(payload) < m.Size {
		return nil, fmt.Errorf("payload of %d bytes shorter than %s length %d", len(payload), m.MessageName, m.Size)
	}

	var data can.Data
	copy(data[:], payload)

	var (
		muxSet bool
		muxVal uint64
	)
	for _, s := range m.Signals {
		if s.IsMultiplexer {
			muxSet = true
			muxVal = s.UnmarshalUnsigned(data)
		}
	}

	values := make([]models.SignalValue, 0, len(m.Signals))
	for _, s := range m.Signals {
		if s.IsMultiplexed && (!muxSet || uint64(s.MultiplexerValue) != muxVal) {
			continue
		}
		values = append(values, models.SignalValue{Name: s.Name, Value: signalValue(s, data)})
	}
	return values, nil
}

// signalValue keeps integers as integers when the signal carries no scaling
func signalValue(s *descriptor.Signal, data can.Data) any {
	if s.Length == 1 {
		return s.UnmarshalBool(data)
	}

	var raw float64
	var integer int64
	if s.IsSigned {
		v := s.UnmarshalSigned(data)
		raw, integer = float64(v), v
	} else {
		v := s.UnmarshalUnsigned(data)
		raw, integer = float64(v), int64(v)
	}

	if (s.Scale == 1 || s.Scale == 0) && s.Offset == 0 {
		return integer
	}
	return s.ToPhysical(raw)
}

type key struct {
	id       uint32
	extended bool
}

// Static is an immutable in-memory Table
type Static struct {
	byKey map[key]*Message
	byID  map[uint32]*Message
}

// NewStatic builds a Table from the given messages
func NewStatic(messages ...*Message) *Static {
	t := &Static{
		byKey: make(map[key]*Message, len(messages)),
		byID:  make(map[uint32]*Message, len(messages)),
	}
	for _, m := range messages {
		t.byKey[key{m.ID, m.Extended}] = m
		if _, ok := t.byID[m.ID]; !ok {
			t.byID[m.ID] = m
		}
	}
	return t
}

// Lookup implements Table
func (t *Static) Lookup(id uint32, extended bool) (Layout, bool) {
	m, ok := t.byKey[key{id, extended}]
	if !ok {
		return nil, false
	}
	return m, true
}

// LookupID implements Table
func (t *Static) LookupID(id uint32) (Layout, bool) {
	m, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return m, true
}

// Len returns the number of messages in the table
func (t *Static) Len() int {
	return len(t.byKey)
}
