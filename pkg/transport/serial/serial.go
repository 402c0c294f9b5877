// Package serial implements the direct UART transport: an HDLC-framed,
// stop-and-wait reliable link over a byte-oriented serial port, in the
// single-worker-loop discipline of spec §4.2. It is grounded on the
// teacher's pkg/usock read loop (a single goroutine alternating between a
// one-byte blocking read and state-machine processing) adapted from USOCK's
// sync/length/CRC framing to HDLC byte-stuffed framing with CCITT-16.
package serial

import (
	"fmt"
	"log"
	"strconv"
	"time"

	goserial "github.com/tarm/serial"

	"github.com/librescoot/moteconnection/pkg/hdlc"
	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
)

// Sub-protocol tags, the first byte of an HDLC frame's de-escaped body.
const (
	tagACK         = 0x43
	tagPacket      = 0x44
	tagNoAckPacket = 0x45
)

// DefaultBaud is used when a connection string omits the baud rate.
const DefaultBaud = 115200

// PortTimeout bounds each non-blocking read, per spec §4.2.
const PortTimeout = 10 * time.Millisecond

// AckTimeout is how long the transport waits for an ACK before retrying or
// abandoning an in-flight reliable packet.
const AckTimeout = 200 * time.Millisecond

// DefaultSendTries is the number of retransmissions attempted for a
// reliable packet after its first write before it is abandoned (spec's
// SERIAL_SEND_TRIES); the first write does not consume a try.
const DefaultSendTries = 1

// Port is the subset of *tarm/serial.Port this package depends on, so
// tests can substitute an in-memory pipe without opening a real device.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// portOpener abstracts serial.OpenPort for testability.
type portOpener func(config *goserial.Config) (Port, error)

func defaultPortOpener(config *goserial.Config) (Port, error) {
	return goserial.OpenPort(config)
}

// outgoingSlot tracks the single in-flight reliable packet, per spec's
// "outgoing in-flight slot" session state.
type outgoingSlot struct {
	sendable  packet.Sendable
	triesLeft int
	deadline  time.Time
}

// session is the serial link's private per-connection state: seqIn,
// seqOut, the outgoing slot, and the HDLC decoder. It belongs exclusively
// to the run loop goroutine, so nothing here is guarded by a lock.
type session struct {
	decoder *hdlc.Decoder
	seqIn   *byte
	seqOut  *byte
	slot    *outgoingSlot
}

// Link is the serial transport worker. One Link exists per connected
// session.
type Link struct {
	queue     transport.Queue
	port      Port
	opener    portOpener
	devPath   string
	baud      int
	acksOn    bool
	sendTries int
	logger    *log.Logger

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

// WithSendTries overrides DefaultSendTries.
func WithSendTries(tries int) Option {
	return func(l *Link) { l.sendTries = tries }
}

// withOpener substitutes the port opener; used by tests.
func withOpener(opener portOpener) Option {
	return func(l *Link) { l.opener = opener }
}

// New parses a connection string of the form PATH[:BAUD[*ACK|*NOACK]] and
// starts a serial transport worker that reports its lifecycle on queue.
func New(queue transport.Queue, info string, opts ...Option) (*Link, error) {
	path, rest := transport.SplitInTwo(info, ":")
	if path == "" {
		return nil, fmt.Errorf("serial: empty device path in connection string %q", info)
	}

	baudStr, ackToken := transport.SplitInTwo(rest, "*")
	baud := DefaultBaud
	if baudStr != "" {
		parsed, err := strconv.Atoi(baudStr)
		if err != nil {
			return nil, fmt.Errorf("serial: invalid baud %q: %w", baudStr, err)
		}
		baud = parsed
	}

	l := &Link{
		queue:     queue,
		devPath:   path,
		baud:      baud,
		acksOn:    true,
		sendTries: DefaultSendTries,
		opener:    defaultPortOpener,
		outbox:    make(chan packet.Sendable, 32),
		alive:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	switch ackToken {
	case "", "ACK":
		l.acksOn = true
	case "NOACK":
		l.acksOn = false
	default:
		l.logf("unknown ack token %q in connection string %q, keeping default (acks enabled)", ackToken, info)
	}

	config := &goserial.Config{
		Name:        l.devPath,
		Baud:        l.baud,
		Size:        8,
		Parity:      goserial.ParityNone,
		StopBits:    goserial.Stop1,
		ReadTimeout: PortTimeout,
	}
	port, err := l.opener(config)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open port %s: %w", l.devPath, err)
	}
	l.port = port

	go l.run()

	return l, nil
}

func (l *Link) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf("[serial] "+format, args...)
	}
}

// Send enqueues a packet for transmission. A send issued after the link
// has been joined drops silently, matching connection_serial.py's
// session-level "drop if not connected" behavior (distinct from the
// supervisor-level drop, which does fire the packet's callback — see
// DESIGN.md).
func (l *Link) Send(s packet.Sendable) {
	select {
	case <-l.done:
		l.logf("drop %02x: link closed", s.Dispatch())
	default:
		select {
		case l.outbox <- s:
		case <-l.done:
			l.logf("drop %02x: link closed", s.Dispatch())
		}
	}
}

// Join stops the worker and waits for it to exit.
func (l *Link) Join() {
	close(l.alive)
	_ = l.port.Close()
	<-l.done
}

func (l *Link) emit(ev transport.Event) {
	select {
	case l.queue <- ev:
	case <-l.done:
	}
}

func (l *Link) run() {
	defer close(l.done)

	l.emit(transport.Event{Type: transport.EventConnected})

	sess := &session{decoder: hdlc.NewDecoder()}
	if l.acksOn {
		zero := byte(0)
		sess.seqOut = &zero
	}
	// On exit, the in-flight packet and anything still queued are reported
	// undelivered.
	defer func() {
		if sess.slot != nil {
			sess.slot.sendable.NotifyDelivery(false)
		}
		for {
			select {
			case s := <-l.outbox:
				s.NotifyDelivery(false)
			default:
				return
			}
		}
	}()

	readBuf := make([]byte, 1)
	for {
		select {
		case <-l.alive:
			l.emit(transport.Event{Type: transport.EventDisconnected})
			return
		default:
		}

		n, err := l.port.Read(readBuf)
		if err != nil {
			l.logf("read error, disconnecting: %v", err)
			l.emit(transport.Event{Type: transport.EventDisconnected})
			return
		}

		if n > 0 {
			if frame, complete := sess.decoder.PushByte(readBuf[0]); complete {
				l.handleFrame(sess, frame)
			}
			continue
		}

		// No byte arrived within PortTimeout: service the outbound slot.
		if sess.slot == nil {
			select {
			case s := <-l.outbox:
				sess.slot = &outgoingSlot{sendable: s, triesLeft: l.sendTries}
			default:
			}
		}
		if sess.slot != nil {
			l.serviceSlot(sess)
		}
	}
}

func (l *Link) serviceSlot(sess *session) {
	slot := sess.slot
	if !slot.deadline.IsZero() && time.Now().Before(slot.deadline) {
		return
	}

	if sess.seqOut == nil {
		frame := hdlc.EncodeFrame(append([]byte{tagNoAckPacket}, slot.sendable.Serialize()...))
		if _, err := l.port.Write(frame); err != nil {
			l.logf("write error: %v", err)
		}
		slot.sendable.NotifyDelivery(true)
		sess.slot = nil
		return
	}

	if slot.deadline.IsZero() || slot.triesLeft > 0 {
		body := append([]byte{tagPacket, *sess.seqOut}, slot.sendable.Serialize()...)
		frame := hdlc.EncodeFrame(body)
		if _, err := l.port.Write(frame); err != nil {
			l.logf("write error: %v", err)
		}
		if !slot.deadline.IsZero() {
			slot.triesLeft--
		}
		slot.deadline = time.Now().Add(AckTimeout)
		return
	}

	l.logf("ack for %02X not received", *sess.seqOut)
	slot.sendable.NotifyDelivery(false)
	next := (*sess.seqOut + 1) & 0xFF
	sess.seqOut = &next
	sess.slot = nil
}

func (l *Link) handleFrame(sess *session, candidate []byte) {
	body, err := hdlc.SplitFrame(candidate)
	if err != nil {
		l.logf("%v", err)
		return
	}
	if len(body) == 0 {
		l.logf("not enough data for serial protocols")
		return
	}

	tag := body[0]
	rest := body[1:]

	switch tag {
	case tagACK:
		if len(rest) == 0 {
			l.logf("not enough data for SERIAL_PROTOCOL_ACK")
			return
		}
		l.handleAck(sess, rest[0])

	case tagPacket:
		if len(rest) < 2 {
			l.logf("not enough data for SERIAL_PROTOCOL_PACKET")
			return
		}
		l.handleReliable(sess, rest[0], rest[1:])

	case tagNoAckPacket:
		if len(rest) > 0 {
			l.emit(transport.Event{Type: transport.EventIncoming, Data: append([]byte(nil), rest...)})
		}

	default:
		l.logf("unknown serial packet protocol %02X", tag)
	}
}

func (l *Link) handleAck(sess *session, seq byte) {
	if sess.slot != nil && sess.seqOut != nil && seq == *sess.seqOut {
		sess.slot.sendable.NotifyDelivery(true)
		next := (*sess.seqOut + 1) & 0xFF
		sess.seqOut = &next
		sess.slot = nil
		return
	}
	if sess.seqOut != nil {
		l.logf("ack for %02X, waiting %02X", seq, *sess.seqOut)
	} else {
		l.logf("ack for %02X, waiting none", seq)
	}
}

func (l *Link) handleReliable(sess *session, seq byte, payload []byte) {
	if sess.seqIn == nil || seq != *sess.seqIn {
		got := seq
		sess.seqIn = &got
		l.emit(transport.Event{Type: transport.EventIncoming, Data: append([]byte(nil), payload...)})
	} else {
		l.logf("duplicate for %02X", seq)
	}

	// Always ACK, including duplicates.
	ackFrame := hdlc.EncodeFrame([]byte{tagACK, seq})
	if _, err := l.port.Write(ackFrame); err != nil {
		l.logf("write error sending ack: %v", err)
	}
}

var _ transport.Worker = (*Link)(nil)
