package hdlc

import "fmt"

var errShortFrame = fmt.Errorf("hdlc: frame shorter than 3 bytes")

// CRCError reports a frame whose trailing CRC did not match its body.
type CRCError struct {
	Want uint16
	Got  uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("hdlc: crc mismatch: frame says %04X, computed %04X", e.Want, e.Got)
}
