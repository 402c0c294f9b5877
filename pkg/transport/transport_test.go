package transport

import "testing"

func TestSplitInTwo(t *testing.T) {
	testCases := []struct {
		in        string
		sep       string
		wantFirst string
		wantRest  string
	}{
		{"serial@/dev/ttyUSB0:115200", "@", "serial", "/dev/ttyUSB0:115200"},
		{"loopback@", "@", "loopback", ""},
		{"noseparator", "@", "noseparator", ""},
		{"/dev/ttyUSB0:115200*NOACK", ":", "/dev/ttyUSB0", "115200*NOACK"},
		{"/dev/ttyUSB0", ":", "/dev/ttyUSB0", ""},
	}

	for _, tc := range testCases {
		first, rest := SplitInTwo(tc.in, tc.sep)
		if first != tc.wantFirst || rest != tc.wantRest {
			t.Errorf("SplitInTwo(%q, %q) = (%q, %q), want (%q, %q)",
				tc.in, tc.sep, first, rest, tc.wantFirst, tc.wantRest)
		}
	}
}
