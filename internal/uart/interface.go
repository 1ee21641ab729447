// Package uart implements the host side of a serial link to a wireless
// module: a receive worker frames bytes from a hardware binding and sorts
// them into a response queue and an unsolicited result code (URC) queue.
package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"go.uber.org/atomic"
)

// State is the run state of an Interface.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	// Failed is entered when the receive worker gives up on the binding.
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state by name in JSON statistics.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats aggregates the counters of every component of an Interface.
type Stats struct {
	State     State
	Rx        ByteQueueStats
	Responses QueueStats
	URCs      QueueStats
	Worker    WorkerStats
}

// Interface owns the byte queue, both message queues and the receive
// worker of one physical link.
type Interface struct {
	cfg       Config
	binding   Binding
	rx        *ByteQueue
	responses *MessageQueue
	urcs      *MessageQueue
	worker    *worker
	lc        logger.LoggingClient

	state   atomic.Int32
	started atomic.Bool
	failure atomic.Error

	life   sync.Mutex // serialises Start and Stop
	sendMu sync.Mutex
	pumpMu sync.Mutex
}

// New builds a stopped Interface around b.
func New(cfg Config, b Binding) (*Interface, error) {
	if b == nil {
		return nil, errors.New("uart: binding is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &Interface{
		cfg:       cfg,
		binding:   b,
		rx:        NewByteQueue(cfg.RxQueueSize, cfg.RxPolicy),
		responses: NewMessageQueue(cfg.ResponseQueueSize, cfg.ResponsePolicy),
		urcs:      NewMessageQueue(cfg.URCQueueSize, cfg.URCPolicy),
		lc:        cfg.Logger,
	}
	i.worker = newWorker(cfg, b, i.responses, i.urcs)
	i.worker.onFail = i.fail

	if a, ok := b.(QueueAttacher); ok {
		a.Attach(i.rx)
	}
	if fc, ok := b.(FlowController); ok && cfg.RxPolicy == ByteFlowControl {
		i.rx.SetFlowController(fc)
	}
	return i, nil
}

// Name returns the configured interface name.
func (i *Interface) Name() string {
	return i.cfg.Name
}

// Start brings up the binding and then the receive worker. A failed
// binding start leaves the interface Stopped.
func (i *Interface) Start() error {
	i.life.Lock()
	defer i.life.Unlock()

	switch i.State() {
	case Running:
		return nil
	case Failed:
		// The worker is gone but the binding may still hold the port.
		if err := i.binding.Stop(); err != nil {
			i.lc.Warnf("uart %s: stopping failed binding: %v", i.cfg.Name, err)
		}
		if i.cfg.Mode == Threaded {
			i.worker.wait(i.stopTimeout())
		}
	}

	i.setState(Starting)
	i.failure.Store(nil)
	i.rx.Reset()
	i.responses.Reset()
	i.urcs.Reset()
	i.worker.reset()

	if err := i.binding.Start(); err != nil {
		i.rx.Close()
		i.responses.Close()
		i.urcs.Close()
		i.setState(Stopped)
		return fmt.Errorf("uart %s: start binding: %w", i.cfg.Name, err)
	}
	if i.cfg.Mode == Threaded {
		i.worker.start()
	}
	i.started.Store(true)
	i.setState(Running)
	i.lc.Infof("uart %s: started (%s mode)", i.cfg.Name, i.cfg.Mode)
	return nil
}

// Stop signals the worker, releases every blocked consumer with ErrClosed
// and stops the binding. Calling Stop on a stopped interface is a no-op.
func (i *Interface) Stop() error {
	i.life.Lock()
	defer i.life.Unlock()

	prev := i.State()
	if prev == Stopped {
		return nil
	}
	i.setState(Stopping)

	i.worker.halt()
	i.responses.Close()
	i.urcs.Close()
	i.rx.Close()
	if err := i.binding.Stop(); err != nil {
		i.lc.Errorf("uart %s: stop binding: %v", i.cfg.Name, err)
	}
	if i.cfg.Mode == Threaded && prev != Failed {
		if !i.worker.wait(i.stopTimeout()) {
			i.lc.Warnf("uart %s: receive worker did not exit within %s", i.cfg.Name, i.stopTimeout())
		}
	}

	i.setState(Stopped)
	i.lc.Infof("uart %s: stopped", i.cfg.Name)
	return nil
}

// Send writes p to the binding. Concurrent senders are serialised.
func (i *Interface) Send(p []byte) error {
	if err := i.runningErr(); err != nil {
		return err
	}

	i.sendMu.Lock()
	defer i.sendMu.Unlock()

	n, err := i.binding.Send(p)
	if err != nil {
		return fmt.Errorf("uart %s: send: %w", i.cfg.Name, err)
	}
	if n < len(p) {
		return fmt.Errorf("uart %s: send wrote %d of %d bytes: %w", i.cfg.Name, n, len(p), io.ErrShortWrite)
	}
	return nil
}

// ReceiveResponse returns the next response, waiting up to timeout.
func (i *Interface) ReceiveResponse(timeout time.Duration) (Message, error) {
	return i.receive(i.responses, timeout)
}

// ReceiveURC returns the next unsolicited notification, waiting up to timeout.
func (i *Interface) ReceiveURC(timeout time.Duration) (Message, error) {
	return i.receive(i.urcs, timeout)
}

// TryReceiveResponse returns a queued response or ErrEmpty.
func (i *Interface) TryReceiveResponse() (Message, error) {
	return i.tryReceive(i.responses)
}

// TryReceiveURC returns a queued notification or ErrEmpty.
func (i *Interface) TryReceiveURC() (Message, error) {
	return i.tryReceive(i.urcs)
}

// ClearResponses drops stale responses, typically before issuing a command.
func (i *Interface) ClearResponses() {
	i.responses.Clear()
}

// Pump runs the receive path on the caller's goroutine. It is only valid
// in Cooperative mode and returns the number of bytes consumed.
func (i *Interface) Pump() (int, error) {
	if i.cfg.Mode != Cooperative {
		return 0, fmt.Errorf("uart %s: pump requires cooperative mode", i.cfg.Name)
	}
	if err := i.runningErr(); err != nil {
		return 0, err
	}
	i.pumpMu.Lock()
	defer i.pumpMu.Unlock()
	return i.worker.pump()
}

// State returns the current run state.
func (i *Interface) State() State {
	return State(i.state.Load())
}

// IsRunning reports whether the interface accepts sends.
func (i *Interface) IsRunning() bool {
	return i.State() == Running
}

// Err returns the error that moved the interface to Failed, if any.
func (i *Interface) Err() error {
	return i.failure.Load()
}

// Stats returns a snapshot of every counter.
func (i *Interface) Stats() Stats {
	return Stats{
		State:     i.State(),
		Rx:        i.rx.Stats(),
		Responses: i.responses.Stats(),
		URCs:      i.urcs.Stats(),
		Worker:    i.worker.stats(),
	}
}

func (i *Interface) setState(s State) {
	i.state.Store(int32(s))
}

// fail runs on the worker goroutine (or the pumping caller) when the
// binding keeps failing.
func (i *Interface) fail(err error) {
	if !i.state.CompareAndSwap(int32(Running), int32(Failed)) {
		return
	}
	i.failure.Store(fmt.Errorf("uart %s: %w", i.cfg.Name, err))
	i.lc.Errorf("uart %s: interface failed: %v", i.cfg.Name, err)
	i.responses.Close()
	i.urcs.Close()
}

func (i *Interface) runningErr() error {
	switch i.State() {
	case Running:
		return nil
	case Failed:
		if cause := i.Err(); cause != nil {
			return fmt.Errorf("%w: %w", ErrNotRunning, cause)
		}
	}
	return ErrNotRunning
}

func (i *Interface) closedErr(err error) error {
	if errors.Is(err, ErrClosed) && i.State() == Failed {
		if cause := i.Err(); cause != nil {
			return fmt.Errorf("%w: %w", ErrClosed, cause)
		}
	}
	return err
}

func (i *Interface) tryReceive(q *MessageQueue) (Message, error) {
	if !i.started.Load() {
		return Message{}, ErrNotRunning
	}
	if i.cfg.Mode == Cooperative && i.IsRunning() {
		i.pumpQuietly()
	}
	m, err := q.TryDequeue()
	return m, i.closedErr(err)
}

func (i *Interface) receive(q *MessageQueue, timeout time.Duration) (Message, error) {
	if !i.started.Load() {
		return Message{}, ErrNotRunning
	}
	if i.cfg.Mode == Cooperative {
		return i.receivePolled(q, timeout)
	}
	m, err := q.Dequeue(timeout)
	return m, i.closedErr(err)
}

// receivePolled keeps pumping the binding while waiting, so cooperative
// interfaces honour the same timeout contract as threaded ones.
func (i *Interface) receivePolled(q *MessageQueue, timeout time.Duration) (Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if i.IsRunning() {
			i.pumpQuietly()
		}
		m, err := q.TryDequeue()
		if !errors.Is(err, ErrEmpty) {
			return m, i.closedErr(err)
		}
		if timeout == Immediate {
			return Message{}, ErrTimeout
		}

		wait := i.cfg.PollInterval
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return Message{}, ErrTimeout
			}
			if left < wait {
				wait = left
			}
		}
		m, err = q.Dequeue(wait)
		if !errors.Is(err, ErrTimeout) {
			return m, i.closedErr(err)
		}
	}
}

func (i *Interface) pumpQuietly() {
	if _, err := i.Pump(); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrNotRunning) {
		i.lc.Debugf("uart %s: pump: %v", i.cfg.Name, err)
	}
}

func (i *Interface) stopTimeout() time.Duration {
	return 2*i.cfg.PollInterval + time.Second
}
