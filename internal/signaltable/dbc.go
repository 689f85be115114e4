package signaltable

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"
)

const (
	extendedFlag = 0x80000000
	extendedMask = 0x1FFFFFFF

	// placeholderNode is the DBC convention for "no node"
	placeholderNode = "Vector__XXX"
)

// LoadDBC parses a DBC file into a Static table
func LoadDBC(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DBC file: %w", err)
	}
	return ParseDBC(filepath.Base(path), data)
}

// ParseDBC parses DBC source text into a Static table
func ParseDBC(name string, data []byte) (*Static, error) {
	parser := dbc.NewParser(name, data)
	if err := parser.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse DBC %s: %w", name, err)
	}

	var messages []*Message
	byID := map[dbc.MessageID]*Message{}
	var extraTx []*dbc.MessageTransmittersDef
	for _, def := range parser.File().Defs {
		switch d := def.(type) {
		case *dbc.MessageDef:
			m := messageFromDef(d)
			messages = append(messages, m)
			byID[d.MessageID] = m
		case *dbc.MessageTransmittersDef:
			extraTx = append(extraTx, d)
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("DBC %s defines no messages", name)
	}

	// BO_TX_BU_ lists transmitters beyond the one on the BO_ line
	for _, d := range extraTx {
		m, ok := byID[d.MessageID]
		if !ok {
			continue
		}
		for _, tx := range d.Transmitters {
			m.addTransmitter(string(tx))
		}
	}
	return NewStatic(messages...), nil
}

func messageFromDef(def *dbc.MessageDef) *Message {
	rawID := uint64(def.MessageID)
	msg := &Message{
		MessageName: string(def.Name),
		ID:          uint32(rawID),
		Size:        int(def.Size),
		Signals:     make([]*descriptor.Signal, 0, len(def.Signals)),
	}
	// can-go keeps the MSB set for extended identifiers
	if rawID&extendedFlag != 0 {
		msg.ID = uint32(rawID & extendedMask)
		msg.Extended = true
	}
	msg.addTransmitter(string(def.Transmitter))

	for _, s := range def.Signals {
		sig := &descriptor.Signal{
			Name:             string(s.Name),
			Start:            uint8(s.StartBit),
			Length:           uint8(s.Size),
			IsBigEndian:      s.IsBigEndian,
			IsSigned:         s.IsSigned,
			IsMultiplexer:    s.IsMultiplexerSwitch,
			IsMultiplexed:    s.IsMultiplexed,
			MultiplexerValue: uint(s.MultiplexerSwitch),
			Offset:           s.Offset,
			Scale:            s.Factor,
			Min:              s.Minimum,
			Max:              s.Maximum,
			Unit:             s.Unit,
		}
		for _, r := range s.Receivers {
			sig.ReceiverNodes = append(sig.ReceiverNodes, string(r))
		}
		msg.Signals = append(msg.Signals, sig)
	}
	return msg
}

func (m *Message) addTransmitter(tx string) {
	if tx == "" || tx == placeholderNode || slices.Contains(m.Transmitter, tx) {
		return
	}
	m.Transmitter = append(m.Transmitter, tx)
}
