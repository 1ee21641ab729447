package framing

import (
	"bytes"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// Terminal control sequences used by AT command modules.
const (
	CRLF   = "\r\n"
	Prompt = "> "
)

var _ uart.Framer = Lines{}

// Lines frames CR/LF terminated text as sent by AT command modules. The
// terminator stays part of the frame. Blank lines are reported as empty
// frames, which the receive worker treats as a boundary without payload.
type Lines struct {
	// Prompt makes the "> " data entry prompt a frame of its own, since the
	// module sends it without a terminator.
	Prompt bool
}

// Extract returns the first line in buf.
func (l Lines) Extract(buf []byte) ([]byte, []byte, error) {
	if l.Prompt && bytes.HasPrefix(buf, []byte(Prompt)) {
		return buf[:len(Prompt)], buf[len(Prompt):], nil
	}
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, buf, nil
	}
	frame, rest := buf[:i+1], buf[i+1:]
	if len(bytes.TrimRight(frame, CRLF)) == 0 {
		return frame[:0], rest, nil
	}
	return frame, rest, nil
}

// Resync skips to the byte after the next line feed. Without one the
// caller has to discard input up to the end of the current line.
func (Lines) Resync(buf []byte) ([]byte, bool) {
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		return buf[i+1:], true
	}
	return nil, false
}

// EncodeLine terminates an AT command with CR/LF unless it already ends
// with a line terminator or Ctrl-Z.
func EncodeLine(cmd []byte) []byte {
	if len(cmd) == 0 {
		return cmd
	}
	switch cmd[len(cmd)-1] {
	case '\r', '\n', 0x1A:
		return cmd
	}
	out := make([]byte, 0, len(cmd)+len(CRLF))
	out = append(out, cmd...)
	return append(out, CRLF...)
}
