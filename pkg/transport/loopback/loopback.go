// Package loopback implements the in-process echo transport used for
// testing dispatchers and the connection supervisor without a real serial
// port or network socket: every sent packet reappears immediately as an
// inbound frame. It is a direct port of connection.py's LoopbackConnection.
package loopback

import (
	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
)

// Link is the loopback transport worker.
type Link struct {
	queue transport.Queue
	done  chan struct{}
}

// New starts a loopback worker. info is accepted for symmetry with the
// other transports' connection strings but carries no meaning here.
func New(queue transport.Queue, info string) *Link {
	l := &Link{queue: queue, done: make(chan struct{})}
	l.emit(transport.Event{Type: transport.EventConnected})
	return l
}

func (l *Link) emit(ev transport.Event) {
	select {
	case l.queue <- ev:
	case <-l.done:
	}
}

// Send immediately re-queues s as an inbound frame and reports delivery.
func (l *Link) Send(s packet.Sendable) {
	select {
	case <-l.done:
		return
	default:
	}
	l.emit(transport.Event{Type: transport.EventIncoming, Data: s.Serialize()})
	s.NotifyDelivery(true)
}

// Join reports disconnection, matching LoopbackConnection.join's explicit
// EVENT_DISCONNECTED before the (otherwise empty) thread join.
func (l *Link) Join() {
	select {
	case <-l.done:
		return
	default:
	}
	l.emit(transport.Event{Type: transport.EventDisconnected})
	close(l.done)
}

var _ transport.Worker = (*Link)(nil)
