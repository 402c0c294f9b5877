// Package sf implements the "serial forwarder" transport: a length-prefixed
// TCP framing protocol used to reach a mote through a network-side proxy
// instead of a local UART. It is grounded on the same single-goroutine
// worker shape as pkg/transport/serial, adapted from HDLC framing to the
// forwarder's simpler two-byte handshake and one-byte length prefix.
package sf

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
)

// protocolVersion is the handshake both sides exchange once the TCP
// connection opens, before any framed data flows.
const protocolVersion = "U "

// DefaultPort is used when a connection string omits the port.
const DefaultPort = 9002

// ReadTimeout bounds each read, mirroring the serial transport's
// poll-and-service loop structure.
const ReadTimeout = 100 * time.Millisecond

// DialTimeout bounds the initial TCP connect and handshake.
const DialTimeout = 5 * time.Second

// Link is the serial-forwarder transport worker.
type Link struct {
	queue  transport.Queue
	conn   net.Conn
	dialer func(address string) (net.Conn, error)
	addr   string
	logger *log.Logger

	outbox chan packet.Sendable
	alive  chan struct{}
	done   chan struct{}
}

// Option configures a Link at construction.
type Option func(*Link)

// WithLogger attaches a logger for session-level diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(l *Link) { l.logger = logger }
}

// withDialer substitutes the dialer; used by tests.
func withDialer(dialer func(address string) (net.Conn, error)) Option {
	return func(l *Link) { l.dialer = dialer }
}

// New parses a connection string of the form HOST[:PORT] and starts a
// serial-forwarder worker that reports its lifecycle on queue.
func New(queue transport.Queue, info string, opts ...Option) (*Link, error) {
	host, portStr := transport.SplitInTwo(info, ":")
	if host == "" {
		return nil, fmt.Errorf("sf: empty host in connection string %q", info)
	}
	port := DefaultPort
	if portStr != "" {
		parsed, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("sf: invalid port %q: %w", portStr, err)
		}
		port = parsed
	}

	l := &Link{
		queue:  queue,
		addr:   fmt.Sprintf("%s:%d", host, port),
		outbox: make(chan packet.Sendable, 32),
		alive:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.dialer = func(address string) (net.Conn, error) {
		return net.DialTimeout("tcp", address, DialTimeout)
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.run()

	return l, nil
}

func (l *Link) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf("[sf] "+format, args...)
	}
}

// Send enqueues a packet for transmission. Unlike the serial transport, a
// send issued while no TCP connection is established still reports failure
// through the packet's own callback with ok=false, matching
// connection_forwarder.py's SfConnection.send, which always invokes
// packet.callback regardless of connection state.
func (l *Link) Send(s packet.Sendable) {
	select {
	case <-l.done:
		s.NotifyDelivery(false)
	default:
		select {
		case l.outbox <- s:
		case <-l.done:
			s.NotifyDelivery(false)
		}
	}
}

// Join stops the worker and waits for it to exit.
func (l *Link) Join() {
	close(l.alive)
	if l.conn != nil {
		_ = l.conn.Close()
	}
	<-l.done
}

func (l *Link) emit(ev transport.Event) {
	select {
	case l.queue <- ev:
	case <-l.done:
	}
}

func (l *Link) run() {
	defer l.shutdown()

	conn, err := l.dialer(l.addr)
	if err != nil {
		l.logf("dial %s: %v", l.addr, err)
		l.emit(transport.Event{Type: transport.EventDisconnected})
		return
	}
	l.conn = conn

	if err := l.handshake(); err != nil {
		l.logf("handshake with %s: %v", l.addr, err)
		_ = l.conn.Close()
		l.emit(transport.Event{Type: transport.EventDisconnected})
		return
	}

	// Packets handed to Send before the handshake completed are dropped
	// with ok=false rather than written.
drain:
	for {
		select {
		case s := <-l.outbox:
			s.NotifyDelivery(false)
		default:
			break drain
		}
	}

	l.emit(transport.Event{Type: transport.EventConnected})
	l.serve()
}

func (l *Link) handshake() error {
	_ = l.conn.SetDeadline(time.Now().Add(DialTimeout))
	defer func() { _ = l.conn.SetDeadline(time.Time{}) }()
	if _, err := l.conn.Write([]byte(protocolVersion)); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}
	buf := make([]byte, 2)
	if _, err := readFull(l.conn, buf); err != nil {
		return fmt.Errorf("reading handshake reply: %w", err)
	}
	if string(buf) != protocolVersion {
		return fmt.Errorf("handshake mismatch %q != %q", protocolVersion, string(buf))
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (l *Link) serve() {
	defer l.disconnect()

	for {
		select {
		case <-l.alive:
			return
		default:
		}

		_ = l.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		lenBuf := make([]byte, 1)
		n, err := l.conn.Read(lenBuf)
		if err != nil {
			if isTimeout(err) {
				l.drainOutbox()
				continue
			}
			l.logf("read error: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		payload := make([]byte, lenBuf[0])
		if len(payload) > 0 {
			if _, err := readFull(l.conn, payload); err != nil {
				l.logf("read payload: %v", err)
				return
			}
		}
		l.emit(transport.Event{Type: transport.EventIncoming, Data: payload})

		l.drainOutbox()
	}
}

func (l *Link) drainOutbox() {
	for {
		select {
		case s := <-l.outbox:
			l.writeOne(s)
		default:
			return
		}
	}
}

func (l *Link) writeOne(s packet.Sendable) {
	data := s.Serialize()
	if len(data) > 0xFF {
		l.logf("drop %02x: payload of %d bytes exceeds 255-byte sf length prefix", s.Dispatch(), len(data))
		s.NotifyDelivery(false)
		return
	}
	if _, err := l.conn.Write([]byte{byte(len(data))}); err != nil {
		l.logf("write length prefix: %v", err)
		s.NotifyDelivery(false)
		return
	}
	if _, err := l.conn.Write(data); err != nil {
		l.logf("write payload: %v", err)
		s.NotifyDelivery(false)
		return
	}
	s.NotifyDelivery(true)
}

func (l *Link) disconnect() {
	_ = l.conn.Close()
	l.emit(transport.Event{Type: transport.EventDisconnected})
}

// shutdown closes done and drains anything left in outbox, so a packet
// handed to Send in the narrow window around worker exit still gets its
// callback fired instead of sitting unread forever.
func (l *Link) shutdown() {
	close(l.done)
	for {
		select {
		case s := <-l.outbox:
			s.NotifyDelivery(false)
		default:
			return
		}
	}
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

var _ transport.Worker = (*Link)(nil)
