package connection

import (
	"testing"
	"time"

	"github.com/librescoot/moteconnection/pkg/dispatch"
	"github.com/librescoot/moteconnection/pkg/packet"
)

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopbackRoundTrip(t *testing.T) {
	c := New()
	defer c.Join()

	var received []byte
	var receivedOK bool
	raw := dispatch.NewRawDispatcher(0x10, func(data []byte) {
		received = data
		receivedOK = true
	})
	c.RegisterDispatcher(raw)

	if err := c.Connect("loopback@ignored"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, c.Connected, time.Second, "loopback connection")

	var delivered *bool
	p := packet.New(0x10, []byte{0xAA, 0xBB})
	p.Callback = func(pk *packet.Packet, ok bool) { v := ok; delivered = &v }

	if err := c.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool { return receivedOK }, time.Second, "loopback echo")
	if want := []byte{0x10, 0xAA, 0xBB}; string(received) != string(want) {
		t.Errorf("received = %X, want %X (dispatch byte plus payload)", received, want)
	}
	waitFor(t, func() bool { return delivered != nil }, time.Second, "delivery callback")
	if delivered == nil || !*delivered {
		t.Error("expected delivery callback with ok=true")
	}
}

func TestSendWithoutDispatcherErrors(t *testing.T) {
	c := New()
	defer c.Join()

	p := packet.New(0x99, []byte{0x01})
	err := c.Send(p)
	if err == nil {
		t.Fatal("expected DispatcherError, got nil")
	}
	if _, ok := err.(*DispatcherError); !ok {
		t.Errorf("error type = %T, want *DispatcherError", err)
	}
}

func TestSendWithoutTransportReportsFailure(t *testing.T) {
	c := New()
	defer c.Join()

	raw := dispatch.NewRawDispatcher(0x10, func(data []byte) {})
	c.RegisterDispatcher(raw)

	var delivered *bool
	p := packet.New(0x10, []byte{0x01})
	p.Callback = func(pk *packet.Packet, ok bool) { v := ok; delivered = &v }

	if err := c.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool { return delivered != nil }, time.Second, "immediate failure callback")
	if delivered == nil || *delivered {
		t.Error("expected ok=false when sending with no active transport")
	}
}

func TestConnectUnsupportedScheme(t *testing.T) {
	c := New()
	defer c.Join()

	err := c.Connect("carrier-pigeon@nowhere")
	if _, ok := err.(*SchemeError); !ok {
		t.Errorf("error type = %T, want *SchemeError", err)
	}
}

func TestConnectWhileBusy(t *testing.T) {
	c := New()
	defer c.Join()

	if err := c.Connect("loopback@ignored"); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	waitFor(t, c.Connected, time.Second, "loopback connection")

	err := c.Connect("loopback@ignored")
	if _, ok := err.(BusyError); !ok {
		t.Errorf("error type = %T, want BusyError", err)
	}
}

func TestDisconnectClearsConnectedState(t *testing.T) {
	c := New()
	defer c.Join()

	if err := c.Connect("loopback@ignored"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, c.Connected, time.Second, "loopback connection")

	c.Disconnect()
	if c.Connected() {
		t.Error("expected Connected() to be false after Disconnect")
	}
}

func TestRegisterDispatcherRoutesByDispatchByte(t *testing.T) {
	c := New()
	defer c.Join()

	var gotA, gotB bool
	c.RegisterDispatcher(dispatch.NewRawDispatcher(0x10, func(data []byte) { gotA = true }))
	c.RegisterDispatcher(dispatch.NewRawDispatcher(0x20, func(data []byte) { gotB = true }))

	if err := c.Connect("loopback@ignored"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, c.Connected, time.Second, "loopback connection")

	p := packet.New(0x20, []byte{0x01})
	if err := c.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool { return gotB }, time.Second, "dispatch 0x20 routing")
	if gotA {
		t.Error("dispatch 0x10's handler must not fire for a 0x20 packet")
	}
}
