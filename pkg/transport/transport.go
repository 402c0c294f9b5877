// Package transport defines the event vocabulary and worker contract
// shared by every concrete transport (serial, sf, loopback): a transport
// worker reads bytes off its medium, reconstructs frames, and emits events
// on a queue the connection supervisor owns and consumes.
package transport

import "github.com/librescoot/moteconnection/pkg/packet"

// EventType tags the variant carried by an Event.
type EventType int

const (
	// EventIncoming carries a fully reconstructed inbound frame.
	EventIncoming EventType = iota
	// EventOutgoing carries a packet the supervisor wants written to the
	// active transport worker.
	EventOutgoing
	// EventStartConnect asks the supervisor to instantiate a transport
	// worker for the pending connection string.
	EventStartConnect
	// EventConnected reports a transport worker has completed its
	// handshake/open and is ready to carry traffic.
	EventConnected
	// EventDisconnected reports a transport worker has exited, fatally or
	// on request; exactly one is emitted per worker lifetime.
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventIncoming:
		return "incoming"
	case EventOutgoing:
		return "outgoing"
	case EventStartConnect:
		return "start-connect"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is the tagged-variant message passed from a transport worker (or
// the supervisor itself) onto the supervisor's event queue.
type Event struct {
	Type    EventType
	Data    []byte
	Packet  packet.Sendable
}

// Queue is the supervisor's event FIFO: multi-producer (transport worker
// plus the supervisor's own connect, reconnect and send paths), single-consumer
// (the supervisor's run loop).
type Queue chan Event

// NewQueue returns a reasonably buffered event queue. The buffer absorbs
// bursts of inbound frames without blocking the transport worker's read
// loop; the supervisor is still the only consumer.
func NewQueue() Queue {
	return make(Queue, 64)
}

// SplitInTwo splits s into the text before and after the first occurrence
// of sep. moteconnection/utils.py's split_in_two instead does a str.split
// and keeps only the first two resulting pieces, which silently discards
// anything after a second separator (e.g. "a:b:c" -> ("a", "b"), dropping
// "c"); this version keeps the remainder intact ("a:b:c" -> ("a", "b:c")),
// since a serial device path or SF host can itself legitimately contain the
// separator later in the string. A separator-free string returns (s, "")
// rather than an error, matching the original for that case.
func SplitInTwo(s, sep string) (string, string) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):]
		}
	}
	return s, ""
}

// Worker is the capability every concrete transport exposes to the
// supervisor once started: accept an outgoing packet, and join (stop and
// wait for exit). A worker emits EventConnected once on successful open and
// EventDisconnected exactly once on exit, fatal or requested.
type Worker interface {
	Send(s packet.Sendable)
	Join()
}
