package dispatch

import (
	"fmt"
	"log"

	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/wire"
)

// DefaultGroup mirrors the original's default AM group byte (0x22).
const DefaultGroup byte = 0x22

// DefaultAddress mirrors the original's default local node address.
const DefaultAddress uint16 = 0x0001

// MessageDispatcher is the concrete dispatcher bound (by default) to
// dispatch byte 0x00. It parses/serializes active messages and routes
// inbound ones to a per-type receiver or snooper table with address
// filtering, per spec §4.6.
type MessageDispatcher struct {
	Base

	address uint16
	group   byte
	logger  *log.Logger
	onDrop  func()

	receivers       map[byte]MessageReceiver
	defaultReceiver MessageReceiver
	snoopers        map[byte]MessageReceiver
	defaultSnooper  MessageReceiver
}

// MessageDispatcherOption configures a MessageDispatcher at construction.
type MessageDispatcherOption func(*MessageDispatcher)

// WithAddress overrides the dispatcher's local node address (default
// DefaultAddress).
func WithAddress(address uint16) MessageDispatcherOption {
	return func(d *MessageDispatcher) { d.address = address }
}

// WithGroup overrides the dispatcher's default outbound AM group (default
// DefaultGroup).
func WithGroup(group byte) MessageDispatcherOption {
	return func(d *MessageDispatcher) { d.group = group }
}

// WithLogger attaches a logger used for dropped/undeliverable frames.
func WithLogger(logger *log.Logger) MessageDispatcherOption {
	return func(d *MessageDispatcher) { d.logger = logger }
}

// WithOnDrop attaches a callback fired once per inbound frame this
// dispatcher discards: a deserialize failure, or a well-formed message with
// no matching receiver/snooper and no default to fall back to. Intended for
// an optional telemetry sink (e.g. pkg/telemetry/redisreporter.ReportDrop)
// to count against; never required for the dispatcher to function.
func WithOnDrop(onDrop func()) MessageDispatcherOption {
	return func(d *MessageDispatcher) { d.onDrop = onDrop }
}

// NewMessageDispatcher constructs a MessageDispatcher bound to dispatch
// byte 0x00 by default; pass WithAddress/WithGroup/WithLogger to override.
func NewMessageDispatcher(opts ...MessageDispatcherOption) *MessageDispatcher {
	d := &MessageDispatcher{
		Base:      NewBase(0x00),
		address:   DefaultAddress,
		group:     DefaultGroup,
		receivers: make(map[byte]MessageReceiver),
		snoopers:  make(map[byte]MessageReceiver),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewMessageDispatcherOnByte is NewMessageDispatcher for a caller that
// needs a dispatch byte other than 0x00 (e.g. running two message
// dispatchers side by side on one connection for distinct sub-protocols).
func NewMessageDispatcherOnByte(dispatch byte, opts ...MessageDispatcherOption) *MessageDispatcher {
	d := NewMessageDispatcher(opts...)
	d.Base.dispatch = dispatch
	return d
}

func (d *MessageDispatcher) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

func (d *MessageDispatcher) drop() {
	if d.onDrop != nil {
		d.onDrop()
	}
}

// SendMessage fills in Source/Group defaults when the caller left them
// unset and submits the message through the attached sender. It returns an
// error if the dispatcher has been detached (no transport to submit to).
func (d *MessageDispatcher) SendMessage(m *wire.Message) error {
	if m.Source == nil {
		addr := d.address
		m.Source = &addr
	}
	if m.Group == nil {
		grp := d.group
		m.Group = &grp
	}

	if !d.send(m) {
		return fmt.Errorf("dispatch: message dispatcher 0x%02X is detached", d.DispatchByte())
	}
	return nil
}

// Send implements Dispatcher's generic send contract for callers that only
// hold a packet.Sendable (e.g. Connection.Send): s must be a *wire.Message,
// the same way the original's MessageDispatcher.send(packet) assumed its
// argument was always a Message when reached via Connection.send.
func (d *MessageDispatcher) Send(s packet.Sendable) error {
	m, ok := s.(*wire.Message)
	if !ok {
		return fmt.Errorf("dispatch: message dispatcher 0x%02X cannot send a %T, want *wire.Message", d.DispatchByte(), s)
	}
	return d.SendMessage(m)
}

// Receive deserializes data as a Message and routes it to a receiver (if
// addressed to this node, 0, or broadcast) or a snooper (otherwise),
// falling through to the matching default handler, or dropping it.
func (d *MessageDispatcher) Receive(data []byte) {
	m, err := wire.DeserializeMessage(data)
	if err != nil {
		d.logf("dispatch: failed to deserialize message: %v", err)
		d.drop()
		return
	}

	if m.Destination == d.address || m.Destination == 0 || m.Destination == wire.AMBroadcastAddr {
		if recv, ok := d.receivers[m.Type]; ok {
			Deliver(recv, m)
		} else if d.defaultReceiver != nil {
			Deliver(d.defaultReceiver, m)
		} else {
			d.drop()
		}
		return
	}

	if snoop, ok := d.snoopers[m.Type]; ok {
		Deliver(snoop, m)
	} else if d.defaultSnooper != nil {
		Deliver(d.defaultSnooper, m)
	} else {
		d.drop()
	}
}

// RegisterReceiver binds receiver to ptype; passing a nil receiver removes
// any existing registration for that type.
func (d *MessageDispatcher) RegisterReceiver(ptype byte, receiver MessageReceiver) {
	if receiver == nil {
		delete(d.receivers, ptype)
		return
	}
	d.receivers[ptype] = receiver
}

// RegisterDefaultReceiver sets (or, with nil, clears) the fallback
// receiver used when no per-type receiver matches.
func (d *MessageDispatcher) RegisterDefaultReceiver(receiver MessageReceiver) {
	d.defaultReceiver = receiver
}

// RegisterSnooper binds snooper to ptype for messages not addressed to
// this node; passing nil removes any existing registration for that type.
func (d *MessageDispatcher) RegisterSnooper(ptype byte, snooper MessageReceiver) {
	if snooper == nil {
		delete(d.snoopers, ptype)
		return
	}
	d.snoopers[ptype] = snooper
}

// RegisterDefaultSnooper sets (or, with nil, clears) the fallback snooper.
func (d *MessageDispatcher) RegisterDefaultSnooper(snooper MessageReceiver) {
	d.defaultSnooper = snooper
}
