package packet

import "testing"

func TestSerializePrependsDispatchByte(t *testing.T) {
	p := New(0x42, []byte{0x01, 0x02, 0x03})
	got := p.Serialize()
	want := []byte{0x42, 0x01, 0x02, 0x03}
	if string(got) != string(want) {
		t.Errorf("Serialize() = %X, want %X", got, want)
	}
}

func TestSerializeEmptyPayload(t *testing.T) {
	p := New(0x10, nil)
	got := p.Serialize()
	want := []byte{0x10}
	if string(got) != string(want) {
		t.Errorf("Serialize() = %X, want %X", got, want)
	}
}

func TestNotifyDeliveryInvokesCallback(t *testing.T) {
	p := New(0x01, nil)
	var got bool
	var called bool
	p.Callback = func(pk *Packet, delivered bool) {
		called = true
		got = delivered
	}
	p.NotifyDelivery(true)
	if !called || !got {
		t.Error("expected callback invoked with delivered=true")
	}
}

func TestNotifyDeliveryNilCallbackDoesNotPanic(t *testing.T) {
	p := New(0x01, nil)
	p.NotifyDelivery(false)
}
