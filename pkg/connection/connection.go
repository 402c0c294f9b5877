// Package connection implements the mote connectivity supervisor: a single
// goroutine that owns exactly one active transport worker at a time, routes
// inbound frames to registered dispatchers by dispatch byte, and routes
// dispatcher sends to the active transport. It is grounded on
// connection.py's Connection class, translated from a Python
// threading.Thread-plus-Queue design into a Go goroutine reading off a
// buffered channel. State shared with callers on other goroutines (the
// active worker, the dispatcher table, the connect/disconnect flags) is
// guarded by a sync.Mutex.
package connection

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/librescoot/moteconnection/pkg/dispatch"
	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
	"github.com/librescoot/moteconnection/pkg/transport/loopback"
	"github.com/librescoot/moteconnection/pkg/transport/serial"
	"github.com/librescoot/moteconnection/pkg/transport/sf"
)

// BusyError reports a Connect call made while a previous connection attempt
// or session is still in progress.
type BusyError struct{}

func (BusyError) Error() string { return "connection: busy" }

// SchemeError reports a connection string whose scheme has no registered
// transport.
type SchemeError struct {
	Scheme string
}

func (e *SchemeError) Error() string {
	return fmt.Sprintf("connection: unsupported connection type %q", e.Scheme)
}

// DispatcherError reports an attempt to send a packet whose dispatch byte
// has no registered dispatcher.
type DispatcherError struct {
	Dispatch byte
}

func (e *DispatcherError) Error() string {
	return fmt.Sprintf("connection: no dispatcher for sending %02X", e.Dispatch)
}

// opener starts a transport.Worker for a connection-string's info portion,
// reporting lifecycle events on queue. Each built-in scheme (serial, sf,
// loopback) is registered under this signature so RegisterTransport can add
// others without touching Connect.
type opener func(queue transport.Queue, info string, logger *log.Logger) (transport.Worker, error)

func serialOpener(queue transport.Queue, info string, logger *log.Logger) (transport.Worker, error) {
	return serial.New(queue, info, serial.WithLogger(logger))
}

func sfOpener(queue transport.Queue, info string, logger *log.Logger) (transport.Worker, error) {
	return sf.New(queue, info, sf.WithLogger(logger))
}

func loopbackOpener(queue transport.Queue, info string, _ *log.Logger) (transport.Worker, error) {
	return loopback.New(queue, info), nil
}

// ConnectOption configures a single Connect call.
type ConnectOption func(*connectState)

type connectState struct {
	reconnectPeriod time.Duration
	hasReconnect    bool
	onConnected     func()
	onDisconnected  func()
	onDrop          func()
}

// WithReconnect makes the supervisor re-attempt the connection every period
// after a disconnect, instead of surfacing a single disconnected session.
// A negative period disables the periodic retry entirely (connect once).
func WithReconnect(period time.Duration) ConnectOption {
	return func(s *connectState) {
		s.reconnectPeriod = period
		s.hasReconnect = true
	}
}

// OnConnected registers a callback fired every time the active transport
// reports a successful connect.
func OnConnected(f func()) ConnectOption {
	return func(s *connectState) { s.onConnected = f }
}

// OnDisconnected registers a callback fired every time the active transport
// reports a disconnect.
func OnDisconnected(f func()) ConnectOption {
	return func(s *connectState) { s.onDisconnected = f }
}

// OnDrop registers a callback fired once per inbound frame the supervisor
// itself discards for want of a registered dispatcher (the data[0]-keyed
// lookup in receive misses). A registered dispatcher's own drops (a
// MessageDispatcher's decode failures or unroutable messages) are reported
// through that dispatcher's own WithOnDrop instead — this hook only covers
// the supervisor's routing layer.
func OnDrop(f func()) ConnectOption {
	return func(s *connectState) { s.onDrop = f }
}

// Option configures a Connection at construction.
type Option func(*Connection)

// WithLogger attaches a logger for supervisor-level diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// WithoutAutostart suppresses New's default behavior of starting the
// supervisor loop in its own goroutine, for a caller that wants to call Run
// itself (e.g. to run it on a goroutine it manages, or synchronously on a
// dedicated thread).
func WithoutAutostart() Option {
	return func(c *Connection) { c.autostart = false }
}

// Connection is the mote connectivity supervisor.
type Connection struct {
	mu          sync.Mutex
	dispatchers map[byte]dispatch.Dispatcher
	openers     map[string]opener

	logger *log.Logger

	queue     transport.Queue
	worker    transport.Worker
	started   bool
	autostart bool

	connString      string
	connScheme      string
	connInfo        string
	connectState    connectState
	lastConnectTime time.Time

	connected    bool
	disconnected bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Connection and, unless WithoutAutostart is given, starts
// its supervisor loop in its own goroutine immediately (Run is still safe
// to call by hand in that case — it is idempotent).
func New(opts ...Option) *Connection {
	c := &Connection{
		dispatchers:  make(map[byte]dispatch.Dispatcher),
		queue:        transport.NewQueue(),
		disconnected: true,
		autostart:    true,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.openers = map[string]opener{
		"serial":   serialOpener,
		"sf":       sfOpener,
		"loopback": loopbackOpener,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.autostart {
		go c.Run()
	}
	return c
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf("[connection] "+format, args...)
	}
}

// RegisterTransport adds or replaces a connection-string scheme's opener,
// for callers that want to supply a transport beyond the three built in.
func (c *Connection) RegisterTransport(scheme string, open func(queue transport.Queue, info string, logger *log.Logger) (transport.Worker, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openers[scheme] = open
}

// Run starts the supervisor's event loop. It blocks until Join is called,
// so a caller invoking it directly (after WithoutAutostart) normally does
// so in its own goroutine; New starts this on its own goroutine already,
// and a second call here is a no-op.
func (c *Connection) Run() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	defer close(c.done)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			// Outgoing packets still queued are reported undelivered.
			for {
				select {
				case ev := <-c.queue:
					if ev.Type == transport.EventOutgoing {
						ev.Packet.NotifyDelivery(false)
					}
				default:
					return
				}
			}
		case ev := <-c.queue:
			c.handleEvent(ev)
		case <-ticker.C:
			c.maybeReconnect()
		}
	}
}

func (c *Connection) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventIncoming:
		c.receive(ev.Data)
	case transport.EventOutgoing:
		c.mu.Lock()
		worker := c.worker
		c.mu.Unlock()
		if worker != nil {
			worker.Send(ev.Packet)
		} else {
			ev.Packet.NotifyDelivery(false)
		}
	case transport.EventConnected:
		c.mu.Lock()
		c.connected = true
		c.disconnected = false
		cb := c.connectState.onConnected
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
	case transport.EventDisconnected:
		c.mu.Lock()
		c.connected = false
		c.disconnected = true
		c.worker = nil
		cb := c.connectState.onDisconnected
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
	case transport.EventStartConnect:
		c.connectNow()
	}
}

func (c *Connection) receive(data []byte) {
	if len(data) == 0 {
		c.logf("received 0 bytes of data")
		return
	}
	d := data[0]
	c.mu.Lock()
	disp, ok := c.dispatchers[d]
	onDrop := c.connectState.onDrop
	c.mu.Unlock()
	if !ok {
		c.logf("no dispatcher for receiving %02X", d)
		if onDrop != nil {
			onDrop()
		}
		return
	}
	disp.Receive(data)
}

// Connect asks the supervisor to open connString ("scheme@info", e.g.
// "serial@/dev/ttyUSB0:115200" or "sf@localhost:9002"). It returns
// BusyError if a previous session is still connecting or connected, and
// SchemeError if the scheme has no registered transport.
func (c *Connection) Connect(connString string, opts ...ConnectOption) error {
	c.mu.Lock()
	if !c.disconnected {
		c.mu.Unlock()
		return BusyError{}
	}

	scheme, info := transport.SplitInTwo(connString, "@")
	if _, ok := c.openers[scheme]; !ok {
		c.mu.Unlock()
		return &SchemeError{Scheme: scheme}
	}

	state := connectState{}
	for _, opt := range opts {
		opt(&state)
	}

	c.connString = connString
	c.connScheme = scheme
	c.connInfo = info
	c.connectState = state
	c.disconnected = false
	c.mu.Unlock()

	select {
	case c.queue <- transport.Event{Type: transport.EventStartConnect}:
	case <-c.done:
	}
	return nil
}

func (c *Connection) connectNow() {
	c.mu.Lock()
	open, ok := c.openers[c.connScheme]
	info := c.connInfo
	c.lastConnectTime = nowFunc()
	c.mu.Unlock()
	if !ok {
		c.logf("connect: unsupported connection type %q", c.connScheme)
		return
	}

	worker, err := open(c.queue, info, c.logger)
	if err != nil {
		c.logf("connect %q: %v", info, err)
		c.mu.Lock()
		c.disconnected = true
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.worker = worker
	c.mu.Unlock()
}

func (c *Connection) maybeReconnect() {
	c.mu.Lock()
	disconnected := c.disconnected
	hasReconnect := c.connectState.hasReconnect
	period := c.connectState.reconnectPeriod
	last := c.lastConnectTime
	c.mu.Unlock()

	if !disconnected || !hasReconnect || period < 0 {
		return
	}
	if nowFunc().Sub(last) < period {
		return
	}
	select {
	case c.queue <- transport.Event{Type: transport.EventStartConnect}:
	case <-c.done:
	}
}

// Disconnect tears down the active transport, if any, and waits for the
// supervisor to observe the resulting EventDisconnected. Reconnection is
// disabled as a side effect, matching Connection.disconnect in the
// original: once asked to disconnect, the supervisor never reconnects on
// its own.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.connectState.hasReconnect = false
	worker := c.worker
	c.mu.Unlock()

	if worker != nil {
		worker.Join()
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		done := c.disconnected
		c.mu.Unlock()
		if done || time.Now().After(deadline) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Connected reports whether the active transport is currently connected.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.disconnected
}

// Join stops the supervisor loop and the active transport, then waits for
// both to exit.
func (c *Connection) Join() {
	c.mu.Lock()
	worker := c.worker
	c.mu.Unlock()
	if worker != nil {
		worker.Join()
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

// RegisterDispatcher attaches d to the supervisor under its dispatch byte,
// replacing (and detaching) any prior dispatcher on that byte.
func (c *Connection) RegisterDispatcher(d dispatch.Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeDispatcherLocked(d.DispatchByte())
	c.dispatchers[d.DispatchByte()] = d
	d.Attach(func(s packet.Sendable) {
		c.subsend(s)
	})
}

// RemoveDispatcher detaches and forgets the dispatcher registered under
// dispatchByte, if any.
func (c *Connection) RemoveDispatcher(dispatchByte byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeDispatcherLocked(dispatchByte)
}

func (c *Connection) removeDispatcherLocked(dispatchByte byte) {
	if d, ok := c.dispatchers[dispatchByte]; ok {
		d.Detach()
		delete(c.dispatchers, dispatchByte)
	}
}

// RetrieveDispatcher returns the dispatcher registered under dispatchByte,
// or nil if none is registered.
func (c *Connection) RetrieveDispatcher(dispatchByte byte) dispatch.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatchers[dispatchByte]
}

// Send routes s to the dispatcher registered for its dispatch byte.
func (c *Connection) Send(s packet.Sendable) error {
	c.mu.Lock()
	d, ok := c.dispatchers[s.Dispatch()]
	c.mu.Unlock()
	if !ok {
		return &DispatcherError{Dispatch: s.Dispatch()}
	}
	return d.Send(s)
}

// subsend is the sender a dispatcher's Attach call is given: if a
// transport is active the packet is queued as outgoing traffic on the
// supervisor's event loop, otherwise its callback fires immediately with
// ok=false — matching Connection._subsend exactly, including the
// asymmetry with a transport worker's own Send (see the serial and sf
// packages), which either drops silently or also reports failure
// depending on the transport.
func (c *Connection) subsend(s packet.Sendable) {
	c.mu.Lock()
	hasWorker := c.worker != nil
	c.mu.Unlock()

	if hasWorker {
		select {
		case c.queue <- transport.Event{Type: transport.EventOutgoing, Packet: s}:
		case <-c.done:
			s.NotifyDelivery(false)
		}
		return
	}
	s.NotifyDelivery(false)
}

// nowFunc is indirected so tests can fake the passage of time without
// waiting on a real clock.
var nowFunc = time.Now
