package dispatch

import (
	"fmt"

	"github.com/librescoot/moteconnection/pkg/packet"
)

// RawDispatcher is the Dispatcher for callers that want the bare
// packet.Packet contract (§4.5) with no further demultiplexing: every
// inbound frame for its dispatch byte goes to one handler function, and
// outbound packets are submitted to the supervisor unmodified. It is the
// concrete realization of the spec's abstract Dispatcher base, used
// directly by tests and by any protocol that doesn't need
// MessageDispatcher's type/address routing.
type RawDispatcher struct {
	Base
	handler func(data []byte)
}

// NewRawDispatcher constructs a RawDispatcher bound to dispatch, invoking
// handler for every inbound frame.
func NewRawDispatcher(dispatch byte, handler func(data []byte)) *RawDispatcher {
	return &RawDispatcher{Base: NewBase(dispatch), handler: handler}
}

// Receive hands the full inbound frame (dispatch byte included) to the
// registered handler.
func (d *RawDispatcher) Receive(data []byte) {
	if d.handler != nil {
		d.handler(data)
	}
}

// Send submits s to the attached sender unmodified.
func (d *RawDispatcher) Send(s packet.Sendable) error {
	if !d.send(s) {
		return fmt.Errorf("dispatch: raw dispatcher 0x%02X is detached", d.DispatchByte())
	}
	return nil
}

var (
	_ Dispatcher = (*RawDispatcher)(nil)
	_ Dispatcher = (*MessageDispatcher)(nil)
)
