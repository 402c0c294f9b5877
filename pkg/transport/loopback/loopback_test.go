package loopback

import (
	"testing"

	"github.com/librescoot/moteconnection/pkg/packet"
	"github.com/librescoot/moteconnection/pkg/transport"
)

func TestNewEmitsConnected(t *testing.T) {
	queue := transport.NewQueue()
	l := New(queue, "ignored")
	defer l.Join()

	ev := <-queue
	if ev.Type != transport.EventConnected {
		t.Fatalf("first event = %v, want Connected", ev.Type)
	}
}

func TestSendEchoesAndDelivers(t *testing.T) {
	queue := transport.NewQueue()
	l := New(queue, "")
	<-queue // Connected

	var delivered *bool
	p := packet.New(0x10, []byte{0x01, 0x02})
	p.Callback = func(pkt *packet.Packet, ok bool) { v := ok; delivered = &v }

	l.Send(p)

	ev := <-queue
	if ev.Type != transport.EventIncoming {
		t.Fatalf("event type = %v, want Incoming", ev.Type)
	}
	if want := []byte{0x10, 0x01, 0x02}; string(ev.Data) != string(want) {
		t.Errorf("echoed data = %X, want %X", ev.Data, want)
	}
	if delivered == nil || !*delivered {
		t.Error("expected delivery callback with ok=true")
	}

	l.Join()
}

func TestJoinEmitsDisconnected(t *testing.T) {
	queue := transport.NewQueue()
	l := New(queue, "")
	<-queue // Connected

	l.Join()

	ev := <-queue
	if ev.Type != transport.EventDisconnected {
		t.Fatalf("event type = %v, want Disconnected", ev.Type)
	}
}
