// Package wire implements the active-message framing used by
// MessageDispatcher: a fixed binary header (dispatch, destination, source,
// payload length, group, type) followed by an opaque payload and an
// optional two-byte footer.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/librescoot/moteconnection/pkg/packet"
)

// AMBroadcastAddr is the reserved destination address denoting a broadcast
// message.
const AMBroadcastAddr uint16 = 0xFFFF

// headerSize is the fixed portion of a serialized Message: dispatch(1) +
// destination(2) + source(2) + length(1) + group(1) + type(1).
const headerSize = 8

// Message is the active-message specialization of packet.Packet. Source
// and Group are pointers so the dispatcher can tell "unset, fill in the
// default" apart from "explicitly zero", mirroring the None-as-sentinel
// fields of the original Python Message class.
type Message struct {
	Destination uint16
	Source      *uint16
	Group       *byte
	Type        byte
	Payload     []byte
	Footer      []byte

	dispatch byte
	Callback MessageCallback
}

// MessageCallback reports a message's final delivery outcome, the Message
// analogue of packet.Callback.
type MessageCallback func(m *Message, delivered bool)

// NewMessage constructs a Message bound to the given dispatch byte
// (MessageDispatcher always uses 0x00 by default, but the field stays
// general so a dispatcher registered under another byte still works).
func NewMessage(dispatch byte) *Message {
	return &Message{dispatch: dispatch}
}

// Dispatch returns the message's dispatch byte.
func (m *Message) Dispatch() byte {
	return m.dispatch
}

// effectiveSource returns Source if set, else 0 (matching the original's
// "None means 0" accessor for an unset field read before a dispatcher has
// had a chance to fill it in).
func (m *Message) effectiveSource() uint16 {
	if m.Source == nil {
		return 0
	}
	return *m.Source
}

// effectiveGroup returns Group if set, else 0.
func (m *Message) effectiveGroup() byte {
	if m.Group == nil {
		return 0
	}
	return *m.Group
}

// Serialize encodes the message per the wire layout in big-endian byte
// order: dispatch, destination, source, payload length, group, type,
// payload, footer.
func (m *Message) Serialize() []byte {
	out := make([]byte, headerSize, headerSize+len(m.Payload)+len(m.Footer))
	out[0] = m.dispatch
	binary.BigEndian.PutUint16(out[1:3], m.Destination)
	binary.BigEndian.PutUint16(out[3:5], m.effectiveSource())
	out[5] = byte(len(m.Payload))
	out[6] = m.effectiveGroup()
	out[7] = m.Type
	out = append(out, m.Payload...)
	out = append(out, m.Footer...)
	return out
}

// DeserializeMessage parses a wire-format Message. A buffer shorter than
// the header, or whose declared payload length exceeds what remains, is
// rejected — this keeps the original's stricter-than-it-looks
// "length <= len(rest)" check (an exact-length buffer with zero payload
// and zero footer is valid).
func DeserializeMessage(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("wire: message header needs %d bytes, got %d", headerSize, len(data))
	}

	m := &Message{}
	m.dispatch = data[0]
	m.Destination = binary.BigEndian.Uint16(data[1:3])
	source := binary.BigEndian.Uint16(data[3:5])
	m.Source = &source
	length := data[5]
	group := data[6]
	m.Group = &group
	m.Type = data[7]

	rest := data[headerSize:]
	if int(length) > len(rest) {
		return nil, fmt.Errorf("wire: message payload length %d exceeds remaining %d bytes", length, len(rest))
	}
	m.Payload = append([]byte(nil), rest[:length]...)
	m.Footer = append([]byte(nil), rest[length:]...)

	return m, nil
}

// LQI returns the footer's link-quality-indicator byte and true, when a
// two-byte footer is present.
func (m *Message) LQI() (byte, bool) {
	if len(m.Footer) != 2 {
		return 0, false
	}
	return m.Footer[0], true
}

// RSSI returns the footer's signed RSSI byte and true, when a two-byte
// footer is present.
func (m *Message) RSSI() (int8, bool) {
	if len(m.Footer) != 2 {
		return 0, false
	}
	return int8(m.Footer[1]), true
}

// NotifyDelivery reports the message's final delivery outcome to Callback,
// if one was set. It satisfies packet.Sendable.
func (m *Message) NotifyDelivery(delivered bool) {
	if m.Callback != nil {
		m.Callback(m, delivered)
	}
}

var _ packet.Sendable = (*Message)(nil)
