package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"go.uber.org/atomic"
)

// Responder produces the bytes a simulated module sends back for a write.
// A nil or empty result means no reply.
type Responder func(sent []byte) []byte

// VirtualBinding is an in-memory link. Inject plays the receive interrupt
// and Responder plays the module, which makes it usable both as a
// "virtual" port in configuration and as a test double.
type VirtualBinding struct {
	name    string
	poll    time.Duration
	respond Responder

	mu      sync.Mutex
	rx      *uart.ByteQueue
	running bool
	sent    []byte

	fault    atomic.Error
	sendErr  atomic.Error
	starts   atomic.Int32
	received atomic.Uint64
}

// NewVirtualBinding returns a stopped in-memory binding. poll bounds a
// waiting Receive; zero selects uart.DefaultPollInterval.
func NewVirtualBinding(name string, poll time.Duration, respond Responder) *VirtualBinding {
	if poll <= 0 {
		poll = uart.DefaultPollInterval
	}
	return &VirtualBinding{name: name, poll: poll, respond: respond}
}

// Attach implements uart.QueueAttacher.
func (v *VirtualBinding) Attach(rx *uart.ByteQueue) {
	v.mu.Lock()
	v.rx = rx
	v.mu.Unlock()
}

// Name returns the logical port name.
func (v *VirtualBinding) Name() string {
	return v.name
}

func (v *VirtualBinding) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rx == nil {
		return fmt.Errorf("port %s: no receive queue attached", v.name)
	}
	if !v.running {
		v.running = true
		v.starts.Inc()
	}
	return nil
}

func (v *VirtualBinding) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		v.running = false
		v.rx.Close()
	}
	return nil
}

// Send records p and feeds the responder's reply back through Inject.
func (v *VirtualBinding) Send(p []byte) (int, error) {
	if err := v.sendErr.Load(); err != nil {
		return 0, fmt.Errorf("port %s: %v: %w", v.name, err, uart.ErrHardware)
	}
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return 0, fmt.Errorf("port %s not open: %w", v.name, uart.ErrClosed)
	}
	v.sent = append(v.sent, p...)
	v.mu.Unlock()

	if v.respond != nil {
		if reply := v.respond(append([]byte(nil), p...)); len(reply) > 0 {
			v.Inject(reply)
		}
	}
	return len(p), nil
}

func (v *VirtualBinding) Receive(p []byte, wait bool) (int, error) {
	if err := v.fault.Load(); err != nil {
		return 0, fmt.Errorf("port %s: %v: %w", v.name, err, uart.ErrHardware)
	}
	v.mu.Lock()
	rx := v.rx
	v.mu.Unlock()
	if rx == nil {
		return 0, uart.ErrClosed
	}
	timeout := uart.Immediate
	if wait {
		timeout = v.poll
	}
	n, err := rx.PopInto(p, timeout)
	if !wait && errors.Is(err, uart.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

// Inject delivers p byte by byte, as a receive interrupt would. It returns
// the number of bytes the queue accepted.
func (v *VirtualBinding) Inject(p []byte) int {
	v.mu.Lock()
	rx, running := v.rx, v.running
	v.mu.Unlock()
	if rx == nil || !running {
		return 0
	}
	accepted := 0
	for _, b := range p {
		if rx.Push(b) == nil {
			accepted++
		}
	}
	v.received.Add(uint64(accepted))
	return accepted
}

// InjectString is Inject for text.
func (v *VirtualBinding) InjectString(s string) int {
	return v.Inject([]byte(s))
}

// Sent returns a copy of every byte written so far.
func (v *VirtualBinding) Sent() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.sent...)
}

// ResetSent forgets recorded writes.
func (v *VirtualBinding) ResetSent() {
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()
}

// SetReceiveFault makes every Receive fail with err until cleared with nil.
func (v *VirtualBinding) SetReceiveFault(err error) {
	v.fault.Store(err)
}

// SetSendFault makes every Send fail with err until cleared with nil.
func (v *VirtualBinding) SetSendFault(err error) {
	v.sendErr.Store(err)
}

// Starts reports how many times the binding went from stopped to running.
func (v *VirtualBinding) Starts() int {
	return int(v.starts.Load())
}

// Running reports whether the binding is started.
func (v *VirtualBinding) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}
