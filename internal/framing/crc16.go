package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"github.com/sigurn/crc16"
)

const (
	crcHeaderLen  = 4
	crcTrailerLen = 2
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

var _ uart.Framer = CRC16{}

// CRC16 frames packets laid out as a 4 byte big-endian length, the
// payload and a big-endian CRC-16/MODBUS of the payload. Extract yields the
// payload only.
type CRC16 struct {
	// MaxLength rejects declared lengths above it.
	MaxLength int
}

// Extract returns the payload of the first packet in buf.
func (c CRC16) Extract(buf []byte) ([]byte, []byte, error) {
	if len(buf) < crcHeaderLen {
		return nil, buf, nil
	}
	n := binary.BigEndian.Uint32(buf[:crcHeaderLen])
	if n == 0 || (c.MaxLength > 0 && n > uint32(c.MaxLength)) {
		return nil, buf, fmt.Errorf("declared length %d: %w", n, uart.ErrMalformedFrame)
	}
	total := crcHeaderLen + int(n) + crcTrailerLen
	if len(buf) < total {
		return nil, buf, nil
	}
	payload := buf[crcHeaderLen : crcHeaderLen+int(n)]
	got := binary.BigEndian.Uint16(buf[total-crcTrailerLen : total])
	if want := crc16.Checksum(payload, modbusTable); got != want {
		return nil, buf, fmt.Errorf("crc %04X, want %04X: %w", got, want, uart.ErrMalformedFrame)
	}
	return payload, buf[total:], nil
}

// crcPayloadLimit converts a bound on the whole packet into the bound on
// the declared payload length. Zero means unbounded.
func crcPayloadLimit(frame int) int {
	if frame <= 0 {
		return 0
	}
	if n := frame - crcHeaderLen - crcTrailerLen; n > 0 {
		return n
	}
	return 1
}

// Resync slides the window by one byte.
func (CRC16) Resync(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return nil, true
	}
	return buf[1:], true
}

// Encode builds a packet around payload.
func (CRC16) Encode(payload []byte) []byte {
	out := make([]byte, crcHeaderLen, crcHeaderLen+len(payload)+crcTrailerLen)
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return binary.BigEndian.AppendUint16(out, crc16.Checksum(payload, modbusTable))
}
