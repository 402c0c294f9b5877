// Package dispatch implements the dispatcher layer: a demux keyed by a
// dispatch byte, plus the concrete message dispatcher that further demuxes
// by application type into receiver and snooper tables.
package dispatch

import "github.com/librescoot/moteconnection/pkg/packet"

// Sender is the closure a dispatcher calls to hand an outgoing Sendable to
// the connection supervisor. The supervisor binds this on Attach and the
// dispatcher must stop calling it once Detach runs.
type Sender func(packet.Sendable)

// Dispatcher is the contract every registered handler satisfies: an
// immutable dispatch byte, an attach/detach lifecycle bound by the
// supervisor, and a Receive hook fed the full incoming frame (the dispatch
// byte included, so the dispatcher can reuse it if its wire format repeats
// it, same as the original Message header).
type Dispatcher interface {
	DispatchByte() byte
	Attach(sender Sender)
	Detach()
	Receive(data []byte)
	Send(s packet.Sendable) error
}

// Base provides the attach/detach bookkeeping shared by every concrete
// dispatcher, so they only need to implement DispatchByte and Receive (and
// their own typed Send).
type Base struct {
	dispatch byte
	sender   Sender
}

// NewBase constructs the attach/detach bookkeeping for a dispatcher bound
// to the given dispatch byte.
func NewBase(dispatch byte) Base {
	return Base{dispatch: dispatch}
}

// DispatchByte returns the dispatcher's immutable dispatch byte.
func (b *Base) DispatchByte() byte {
	return b.dispatch
}

// Attach binds the sender closure the supervisor submits outgoing frames
// through.
func (b *Base) Attach(sender Sender) {
	b.sender = sender
}

// Detach clears the sender closure; a subsequent Send must not reach the
// supervisor.
func (b *Base) Detach() {
	b.sender = nil
}

// send forwards s to the attached sender, if any, reporting ok=false and
// leaving it to the caller to notify the packet's callback when detached.
func (b *Base) send(s packet.Sendable) bool {
	if b.sender == nil {
		return false
	}
	b.sender(s)
	return true
}
