package uart

import (
	"fmt"
	"time"
)

// Kind tags a message with the channel it belongs to.
type Kind int

const (
	// Response is a direct reply to a previously sent command.
	Response Kind = iota
	// URC is an unsolicited notification pushed by the module.
	URC
)

func (k Kind) String() string {
	switch k {
	case Response:
		return "response"
	case URC:
		return "urc"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Message is one framed and classified unit of received data. The payload
// is a private copy of the frame and must not be modified.
type Message struct {
	Payload  []byte
	Kind     Kind
	Received time.Time
}

func newMessage(frame []byte, kind Kind, at time.Time) Message {
	payload := make([]byte, len(frame))
	copy(payload, frame)
	return Message{Payload: payload, Kind: kind, Received: at}
}

// Len returns the payload length.
func (m Message) Len() int {
	return len(m.Payload)
}

// String returns the payload as text, which is how AT traffic is usually read.
func (m Message) String() string {
	return string(m.Payload)
}
