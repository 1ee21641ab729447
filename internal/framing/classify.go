package framing

import (
	"bytes"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// DefaultURCPrefixes lists notifications that cellular modules send
// without being asked.
var DefaultURCPrefixes = []string{
	"RING",
	"RDY",
	"POWERED DOWN",
	"+CMTI:",
	"+CDSI:",
	"+CREG:",
	"+CGREG:",
	"+CEREG:",
	"+QIURC:",
	"+QIND:",
	"+QMTRECV:",
	"+QMTSTAT:",
	"+QUSIM:",
}

// Prefixes classifies a frame as a URC when it starts with one of the
// listed prefixes, ignoring leading line terminators.
type Prefixes struct {
	list [][]byte
}

// NewPrefixes builds a prefix classifier.
func NewPrefixes(prefixes ...string) *Prefixes {
	p := &Prefixes{list: make([][]byte, 0, len(prefixes))}
	for _, s := range prefixes {
		if s != "" {
			p.list = append(p.list, []byte(s))
		}
	}
	return p
}

// NewATClassifier returns the default URC table extended with extra.
func NewATClassifier(extra ...string) *Prefixes {
	all := make([]string, 0, len(DefaultURCPrefixes)+len(extra))
	all = append(all, DefaultURCPrefixes...)
	return NewPrefixes(append(all, extra...)...)
}

// Classify implements uart.Classifier.
func (p *Prefixes) Classify(frame []byte) uart.Kind {
	line := bytes.TrimLeft(frame, CRLF)
	for _, prefix := range p.list {
		if bytes.HasPrefix(line, prefix) {
			return uart.URC
		}
	}
	return uart.Response
}

// Tag classifies binary frames by the byte at Offset.
type Tag struct {
	Offset int
	URC    []byte
}

// Classify implements uart.Classifier.
func (t Tag) Classify(frame []byte) uart.Kind {
	if t.Offset < 0 || t.Offset >= len(frame) {
		return uart.Response
	}
	if bytes.IndexByte(t.URC, frame[t.Offset]) >= 0 {
		return uart.URC
	}
	return uart.Response
}
