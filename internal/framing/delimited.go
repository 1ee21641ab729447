package framing

import (
	"bytes"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

var _ uart.Framer = Delimited{}

// Delimited frames binary data that starts with Start and ends with End.
// Bytes before the start marker are discarded.
type Delimited struct {
	Start byte
	End   byte
}

// Extract returns the first Start...End run in buf.
func (d Delimited) Extract(buf []byte) ([]byte, []byte, error) {
	i := bytes.IndexByte(buf, d.Start)
	if i < 0 {
		// no frame header, drop the noise
		return nil, nil, nil
	}
	buf = buf[i:]
	j := bytes.IndexByte(buf[1:], d.End)
	if j < 0 {
		return nil, buf, nil
	}
	return buf[:j+2], buf[j+2:], nil
}

// Resync abandons the current start marker and realigns on the next one.
func (d Delimited) Resync(buf []byte) ([]byte, bool) {
	if len(buf) < 2 {
		return nil, true
	}
	if k := bytes.IndexByte(buf[1:], d.Start); k >= 0 {
		return buf[1+k:], true
	}
	return nil, true
}

// Encode wraps payload in the start and end markers.
func (d Delimited) Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, d.Start)
	out = append(out, payload...)
	return append(out, d.End)
}

// Passthrough treats every chunk of received bytes as one frame.
type Passthrough struct{}

// Extract returns all of buf.
func (Passthrough) Extract(buf []byte) ([]byte, []byte, error) {
	if len(buf) == 0 {
		return nil, buf, nil
	}
	return buf, buf[len(buf):], nil
}

// Resync discards everything; the next chunk starts a new frame.
func (Passthrough) Resync([]byte) ([]byte, bool) {
	return nil, true
}
