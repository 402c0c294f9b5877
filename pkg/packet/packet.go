// Package packet defines the base wire object shared by every dispatcher:
// a dispatch byte, an opaque payload, and an optional delivery callback.
package packet

// Callback is invoked once a packet's delivery outcome is known. delivered
// is true when the transport reports the frame sent: ACKed by the remote on
// a reliable serial link, written on an ACK-less serial link or SF socket,
// or echoed by loopback. A drop, ACK timeout, write failure or shutdown
// reports false.
type Callback func(p *Packet, delivered bool)

// Sendable is anything the connection supervisor can queue as an outgoing
// event and a transport can write to the wire: a dispatch byte to route by,
// already-serialized bytes, and a way to report the delivery outcome.
// *Packet and *wire.Message both satisfy it, the same way the original
// Python Message subclassed Packet and relied on duck typing for send().
type Sendable interface {
	Dispatch() byte
	Serialize() []byte
	NotifyDelivery(delivered bool)
}

// Packet is the base wire object the connection supervisor and transports
// operate on. Dispatch is fixed at construction time; Payload is opaque to
// everything below the dispatcher that owns it.
type Packet struct {
	dispatch byte
	Payload  []byte
	Callback Callback
}

// New constructs a Packet bound to the given dispatch byte.
func New(dispatch byte, payload []byte) *Packet {
	return &Packet{dispatch: dispatch, Payload: payload}
}

// Dispatch returns the packet's immutable dispatch byte.
func (p *Packet) Dispatch() byte {
	return p.dispatch
}

// Serialize prepends the dispatch byte to Payload: the wire byte every
// registered dispatcher is keyed and routed by, the same way
// wire.Message.Serialize puts its own dispatch byte first.
func (p *Packet) Serialize() []byte {
	out := make([]byte, 0, len(p.Payload)+1)
	out = append(out, p.dispatch)
	out = append(out, p.Payload...)
	return out
}

// NotifyDelivery reports a packet's final delivery outcome to Callback, if
// one was set. Transports and the supervisor call this exactly once per
// packet.
func (p *Packet) NotifyDelivery(delivered bool) {
	if p.Callback != nil {
		p.Callback(p, delivered)
	}
}

var _ Sendable = (*Packet)(nil)
