package hdlc

import "testing"

func TestEncode(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want []byte
	}{
		{
			name: "no escapes",
			data: []byte{0x01, 0x02},
			want: []byte{FrameByte, 0x01, 0x02, FrameByte},
		},
		{
			name: "escapes frame and escape bytes",
			data: []byte{0x7E, 0x7D, 0x00},
			want: []byte{FrameByte, 0x7D, 0x5E, 0x7D, 0x5D, 0x00, FrameByte},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Encode(tc.data)
			if !bytesEqual(got, tc.want) {
				t.Errorf("Encode(%X) = %X, want %X", tc.data, got, tc.want)
			}
		})
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0x7E, 0x7D, 0x00},
		{0xFF, 0x7D, 0x7E, 0xAA},
	}

	for _, in := range inputs {
		encoded := Encode(in)
		dec := NewDecoder()
		var frames [][]byte
		for _, b := range encoded {
			if frame, ok := dec.PushByte(b); ok {
				frames = append(frames, frame)
			}
		}
		if len(in) == 0 {
			// An empty payload encodes to two adjacent FrameBytes, which
			// resync rather than emit a zero-length frame.
			if len(frames) != 0 {
				t.Errorf("Decode(Encode(%X)) produced %d frames, want 0", in, len(frames))
			}
			continue
		}
		if len(frames) != 1 {
			t.Fatalf("Decode(Encode(%X)) produced %d frames, want 1", in, len(frames))
		}
		if !bytesEqual(frames[0], in) {
			t.Errorf("Decode(Encode(%X)) = %X, want %X", in, frames[0], in)
		}
	}
}

func TestCRC(t *testing.T) {
	// CRC of the empty input is its initial value.
	if got := CRC(nil); got != 0 {
		t.Errorf("CRC(nil) = %04X, want 0000", got)
	}

	data := []byte{0x45, 0xFF}
	if got := CRC(data); got != CRC(data) {
		t.Errorf("CRC not consistent for %X", data)
	}

	if CRC([]byte{0x01}) == CRC([]byte{0x02}) {
		t.Errorf("CRC collision for single-byte inputs")
	}
}

func TestEncodeFrameAndSplitFrameRoundTrip(t *testing.T) {
	data := []byte{0x45, 0xFF, 0x01, 0x02}
	framed := EncodeFrame(data)

	dec := NewDecoder()
	var candidate []byte
	for _, b := range framed {
		if frame, ok := dec.PushByte(b); ok {
			candidate = frame
		}
	}
	if candidate == nil {
		t.Fatal("EncodeFrame output did not decode to a frame")
	}

	body, err := SplitFrame(candidate)
	if err != nil {
		t.Fatalf("SplitFrame: %v", err)
	}
	if !bytesEqual(body, data) {
		t.Errorf("SplitFrame(candidate) = %X, want %X", body, data)
	}
}

func TestSplitFrameRejectsBadCRC(t *testing.T) {
	frame := []byte{0x45, 0xFF, 0x00, 0x00}
	if _, err := SplitFrame(frame); err == nil {
		t.Error("expected crc mismatch error, got nil")
	}
}

func TestSplitFrameRejectsShortFrame(t *testing.T) {
	if _, err := SplitFrame([]byte{0x01, 0x02}); err == nil {
		t.Error("expected short frame error, got nil")
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
