package sf

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
)

// newPipe returns both ends of a net.Pipe, whose in-memory conns support
// SetReadDeadline natively since Go 1.10.
func newPipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

func serverHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("server read handshake: %v", err)
	}
	if string(buf) != protocolVersion {
		t.Fatalf("server got handshake %q, want %q", buf, protocolVersion)
	}
	if _, err := conn.Write([]byte(protocolVersion)); err != nil {
		t.Fatalf("server write handshake reply: %v", err)
	}
}

func TestHandshakeAndConnect(t *testing.T) {
	queue := transport.NewQueue()
	client, server := newPipe()

	done := make(chan struct{})
	go func() {
		serverHandshake(t, server)
		close(done)
	}()

	l, err := New(queue, "irrelevant", withDialer(func(addr string) (net.Conn, error) {
		return client, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		_ = server.Close()
		l.Join()
	}()

	<-done
	ev := <-queue
	if ev.Type != transport.EventConnected {
		t.Fatalf("event = %v, want Connected", ev.Type)
	}
}

func TestSendWritesLengthPrefixedFrame(t *testing.T) {
	queue := transport.NewQueue()
	client, server := newPipe()

	go serverHandshake(t, server)

	l, err := New(queue, "irrelevant", withDialer(func(addr string) (net.Conn, error) {
		return client, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Join()

	if ev := <-queue; ev.Type != transport.EventConnected {
		t.Fatalf("event = %v, want Connected", ev.Type)
	}

	var delivered *bool
	p := packet.New(0x10, []byte{0xAA, 0xBB, 0xCC})
	p.Callback = func(pkt *packet.Packet, ok bool) { v := ok; delivered = &v }
	l.Send(p)

	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(server, lenBuf); err != nil {
		t.Fatalf("server read length: %v", err)
	}
	if lenBuf[0] != 4 {
		t.Fatalf("length prefix = %d, want 4 (dispatch byte plus 3-byte payload)", lenBuf[0])
	}
	payload := make([]byte, 4)
	if _, err := io.ReadFull(server, payload); err != nil {
		t.Fatalf("server read payload: %v", err)
	}
	if want := []byte{0x10, 0xAA, 0xBB, 0xCC}; string(payload) != string(want) {
		t.Errorf("payload = %X, want %X", payload, want)
	}

	deadline := time.Now().Add(time.Second)
	for delivered == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if delivered == nil || !*delivered {
		t.Error("expected delivery callback with ok=true")
	}
}

func TestSendAfterWorkerExitReportsFailure(t *testing.T) {
	queue := transport.NewQueue()

	l, err := New(queue, "irrelevant", withDialer(func(addr string) (net.Conn, error) {
		return nil, io.ErrClosedPipe // dial fails, worker exits immediately
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if ev := <-queue; ev.Type != transport.EventDisconnected {
		t.Fatalf("event = %v, want Disconnected", ev.Type)
	}
	time.Sleep(10 * time.Millisecond) // let the worker's shutdown complete

	var delivered *bool
	p := packet.New(0x10, []byte{0x01})
	p.Callback = func(pkt *packet.Packet, ok bool) { v := ok; delivered = &v }

	l.Send(p)

	if delivered == nil || *delivered {
		t.Error("expected ok=false when sending after the worker has exited")
	}
}
