// Package framing holds the framing and classification strategies the
// receive worker can be configured with.
package framing

import (
	"fmt"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// Protocol identifiers understood by New.
const (
	ProtoAT          = "at"
	ProtoDelimited   = "delimited"
	ProtoCRC16       = "crc16"
	ProtoPassthrough = "passthrough"
)

// Options tune the framers built by New.
type Options struct {
	Start byte
	End   byte
	// MaxLength bounds a whole frame, header and trailer included.
	MaxLength int
	Prompt    bool
}

// Protocol pairs a framer with the encoder used on the transmit side.
type Protocol struct {
	ID     string
	Framer uart.Framer
	Encode func(payload []byte) []byte
}

// builders maps a protocol ID to its constructor. The customProto entries
// keep the identifiers used by existing port bindings.
var builders = map[string]func(Options) Protocol{
	ProtoAT: func(o Options) Protocol {
		return Protocol{Framer: Lines{Prompt: o.Prompt}, Encode: EncodeLine}
	},
	ProtoDelimited: func(o Options) Protocol {
		d := Delimited{Start: o.Start, End: o.End}
		return Protocol{Framer: d, Encode: d.Encode}
	},
	ProtoCRC16: func(o Options) Protocol {
		c := CRC16{MaxLength: crcPayloadLimit(o.MaxLength)}
		return Protocol{Framer: c, Encode: c.Encode}
	},
	ProtoPassthrough: func(Options) Protocol {
		return Protocol{Framer: Passthrough{}, Encode: raw}
	},
	"customProto16": func(Options) Protocol {
		d := Delimited{Start: 0x16, End: 0x33}
		return Protocol{Framer: d, Encode: d.Encode}
	},
	"customProto55": func(Options) Protocol {
		d := Delimited{Start: 0x55, End: 0xCC}
		return Protocol{Framer: d, Encode: d.Encode}
	},
	"customProto23": func(Options) Protocol {
		return Protocol{Framer: Passthrough{}, Encode: raw}
	},
}

// New returns the protocol registered under id.
func New(id string, o Options) (Protocol, error) {
	build, ok := builders[id]
	if !ok {
		return Protocol{}, fmt.Errorf("no framer for protocol %s", id)
	}
	p := build(o)
	p.ID = id
	return p, nil
}

func raw(payload []byte) []byte {
	return payload
}
