package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
	"go.uber.org/atomic"
)

// opener opens the underlying device.
type opener func(cfg config.Port) (io.ReadWriteCloser, error)

// hwPort is the part shared by every OS-backed binding: a reader goroutine
// standing in for the receive interrupt pushes bytes into the attached
// ByteQueue, and Receive drains that queue.
type hwPort struct {
	cfg  config.Port
	open opener
	lc   logger.LoggingClient

	rx *uart.ByteQueue

	mu         sync.Mutex
	port       io.ReadWriteCloser
	done       chan struct{}
	readerDone chan struct{}

	fault atomic.Error
}

func newHWPort(cfg config.Port, open opener, lc logger.LoggingClient) *hwPort {
	return &hwPort{cfg: cfg, open: open, lc: lc}
}

// Attach implements uart.QueueAttacher. Stop closes the attached queue so
// that a parked Receive returns ErrClosed; the owner resets it before the
// next Start.
func (h *hwPort) Attach(rx *uart.ByteQueue) {
	h.rx = rx
}

// Name returns the logical port name.
func (h *hwPort) Name() string {
	return h.cfg.Name
}

// Start opens the device and launches the reader goroutine.
func (h *hwPort) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port != nil {
		return nil
	}
	if h.rx == nil {
		return fmt.Errorf("port %s: no receive queue attached", h.cfg.Name)
	}
	p, err := h.open(h.cfg)
	if err != nil {
		return fmt.Errorf("open %s (%s): %v: %w", h.cfg.Name, h.cfg.Device, err, uart.ErrHardware)
	}
	h.port = p
	h.done = make(chan struct{})
	h.readerDone = make(chan struct{})
	h.fault.Store(nil)
	go h.readLoop(p, h.done, h.readerDone)
	h.lc.Debugf("port %s: opened %s at %d baud", h.cfg.Name, h.cfg.Device, h.cfg.Baudrate)
	return nil
}

// Stop closes the device, which also unblocks the reader goroutine and any
// pending write.
func (h *hwPort) Stop() error {
	h.mu.Lock()
	p := h.port
	done, readerDone := h.done, h.readerDone
	h.port = nil
	h.mu.Unlock()
	if p == nil {
		return nil
	}

	close(done)
	h.rx.Close()
	err := p.Close()
	select {
	case <-readerDone:
	case <-time.After(h.cfg.ReadTimeout() + time.Second):
		h.lc.Warnf("port %s: reader did not exit", h.cfg.Name)
	}
	if err != nil {
		return fmt.Errorf("close %s: %v: %w", h.cfg.Name, err, uart.ErrHardware)
	}
	return nil
}

// Send writes p, giving up after the configured write timeout.
func (h *hwPort) Send(p []byte) (int, error) {
	h.mu.Lock()
	port := h.port
	h.mu.Unlock()
	if port == nil {
		return 0, fmt.Errorf("port %s not open: %w", h.cfg.Name, uart.ErrClosed)
	}
	return writeWithTimeout(port, p, h.cfg.WriteTimeout())
}

// Receive implements uart.Binding on top of the attached ByteQueue.
func (h *hwPort) Receive(p []byte, wait bool) (int, error) {
	if err := h.fault.Swap(nil); err != nil {
		return 0, fmt.Errorf("port %s: %v: %w", h.cfg.Name, err, uart.ErrHardware)
	}
	if h.rx == nil {
		return 0, uart.ErrClosed
	}
	timeout := uart.Immediate
	if wait {
		timeout = h.cfg.ReadTimeout()
	}
	n, err := h.rx.PopInto(p, timeout)
	if errors.Is(err, uart.ErrTimeout) {
		// the reader may have failed while we were parked
		if f := h.fault.Swap(nil); f != nil {
			return 0, fmt.Errorf("port %s: %v: %w", h.cfg.Name, f, uart.ErrHardware)
		}
		if !wait {
			return 0, nil
		}
	}
	return n, err
}

// faultPause is how long the reader backs off after a failed read. It stays
// below the read timeout so that a device that keeps failing is reported on
// every wait.
func (h *hwPort) faultPause() time.Duration {
	d := h.cfg.ReadTimeout() / 2
	switch {
	case d > 100*time.Millisecond:
		return 100 * time.Millisecond
	case d < time.Millisecond:
		return time.Millisecond
	}
	return d
}

// readLoop plays the role of the receive interrupt: its only job is to push
// bytes into the queue and to raise the fault flag.
func (h *hwPort) readLoop(port io.Reader, done, readerDone chan struct{}) {
	defer close(readerDone)
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			// full queue: the byte queue policy decides, nothing to do here
			_ = h.rx.Push(b)
		}
		if err == nil || errors.Is(err, io.EOF) {
			select {
			case <-done:
				return
			default:
			}
			continue
		}
		select {
		case <-done:
			return
		default:
		}
		h.fault.Store(err)
		time.Sleep(h.faultPause())
	}
}

type writeResult struct {
	n   int
	err error
}

// writeWithTimeout bounds a blocking Write. A timed out write keeps running
// in the background until the port is closed.
func writeWithTimeout(w io.Writer, p []byte, d time.Duration) (int, error) {
	if d <= 0 {
		n, err := w.Write(p)
		if err != nil {
			return n, fmt.Errorf("write: %v: %w", err, uart.ErrHardware)
		}
		return n, nil
	}
	res := make(chan writeResult, 1)
	go func() {
		n, err := w.Write(p)
		res <- writeResult{n, err}
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case r := <-res:
		if r.err != nil {
			return r.n, fmt.Errorf("write: %v: %w", r.err, uart.ErrHardware)
		}
		return r.n, nil
	case <-t.C:
		return 0, fmt.Errorf("write did not complete within %s: %w", d, uart.ErrHardware)
	}
}
