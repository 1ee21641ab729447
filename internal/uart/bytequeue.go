package uart

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// FlowController is implemented by bindings that can ask the far end to
// pause transmission, typically by deasserting RTS.
type FlowController interface {
	SetFlow(ready bool) error
}

// ByteQueueStats is a snapshot of ByteQueue counters.
type ByteQueueStats struct {
	Pushed    uint64
	Dropped   uint64
	Len       int
	Cap       int
	Throttled bool
}

// ByteQueue is a fixed-capacity ring of raw bytes. Push is the only method
// called from the receive callback; every other method belongs to the
// receive worker. The backing array is allocated once in NewByteQueue.
type ByteQueue struct {
	mu        sync.Mutex
	buf       []byte
	head      int
	tail      int
	count     int
	closed    bool
	throttled bool
	done      chan struct{}
	notify    chan struct{}

	policy BytePolicy
	flow   FlowController

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewByteQueue returns an open queue holding at most capacity bytes.
func NewByteQueue(capacity int, policy BytePolicy) *ByteQueue {
	if capacity <= 0 {
		capacity = DefaultRxQueueSize
	}
	return &ByteQueue{
		buf:    make([]byte, capacity),
		policy: policy,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// SetFlowController registers the binding that receives backpressure
// signals under the ByteFlowControl policy.
func (q *ByteQueue) SetFlowController(fc FlowController) {
	q.mu.Lock()
	q.flow = fc
	q.mu.Unlock()
}

// Push appends b without blocking. On a full queue the configured policy
// applies: DropNewest and FlowControl drop b and return ErrQueueFull,
// DropOldest overwrites the oldest byte and returns nil. A closed queue
// drops b and returns ErrClosed.
func (q *ByteQueue) Push(b byte) error {
	var pause FlowController
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Inc()
		return ErrClosed
	}
	if q.count == len(q.buf) {
		switch q.policy {
		case ByteDropOldest:
			q.tail = (q.tail + 1) % len(q.buf)
			q.count--
			q.dropped.Inc()
		case ByteFlowControl:
			if !q.throttled && q.flow != nil {
				q.throttled = true
				pause = q.flow
			}
			q.mu.Unlock()
			q.dropped.Inc()
			if pause != nil {
				_ = pause.SetFlow(false)
			}
			return ErrQueueFull
		default:
			q.mu.Unlock()
			q.dropped.Inc()
			return ErrQueueFull
		}
	}
	q.buf[q.head] = b
	q.head = (q.head + 1) % len(q.buf)
	q.count++
	q.mu.Unlock()

	q.pushed.Inc()
	q.signal()
	return nil
}

// TryPop removes the oldest byte without waiting.
func (q *ByteQueue) TryPop() (byte, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	if q.count == 0 {
		q.mu.Unlock()
		return 0, ErrEmpty
	}
	b := q.popLocked()
	resume, more := q.afterPopLocked()
	q.mu.Unlock()

	q.finishPop(resume, more)
	return b, nil
}

// Pop removes the oldest byte, waiting up to timeout for one to arrive.
func (q *ByteQueue) Pop(timeout time.Duration) (byte, error) {
	var b [1]byte
	if _, err := q.PopInto(b[:], timeout); err != nil {
		return 0, err
	}
	return b[0], nil
}

// PopInto waits up to timeout for at least one byte, then moves as many
// queued bytes as fit into p.
func (q *ByteQueue) PopInto(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	deadline, stop := timer(timeout)
	defer stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrClosed
		}
		if q.count > 0 {
			n := 0
			for n < len(p) && q.count > 0 {
				p[n] = q.popLocked()
				n++
			}
			resume, more := q.afterPopLocked()
			q.mu.Unlock()
			q.finishPop(resume, more)
			return n, nil
		}
		done := q.done
		q.mu.Unlock()

		if timeout == Immediate {
			return 0, ErrTimeout
		}
		select {
		case <-q.notify:
		case <-done:
		case <-deadline:
			return 0, ErrTimeout
		}
	}
}

// Len reports the number of queued bytes.
func (q *ByteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap reports the fixed capacity.
func (q *ByteQueue) Cap() int {
	return len(q.buf)
}

// Close discards queued bytes and releases any waiting reader with ErrClosed.
func (q *ByteQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.head, q.tail, q.count = 0, 0, 0
	close(q.done)
}

// Reset empties the queue and reopens it after Close.
func (q *ByteQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head, q.tail, q.count = 0, 0, 0
	q.throttled = false
	if q.closed {
		q.closed = false
		q.done = make(chan struct{})
	}
	select {
	case <-q.notify:
	default:
	}
}

// Stats returns a snapshot of the queue counters.
func (q *ByteQueue) Stats() ByteQueueStats {
	q.mu.Lock()
	n, throttled := q.count, q.throttled
	q.mu.Unlock()
	return ByteQueueStats{
		Pushed:    q.pushed.Load(),
		Dropped:   q.dropped.Load(),
		Len:       n,
		Cap:       len(q.buf),
		Throttled: throttled,
	}
}

func (q *ByteQueue) popLocked() byte {
	b := q.buf[q.tail]
	q.tail = (q.tail + 1) % len(q.buf)
	q.count--
	return b
}

// afterPopLocked releases flow control once the queue is half empty.
func (q *ByteQueue) afterPopLocked() (FlowController, bool) {
	var resume FlowController
	if q.throttled && q.count <= len(q.buf)/2 {
		q.throttled = false
		resume = q.flow
	}
	return resume, q.count > 0
}

func (q *ByteQueue) finishPop(resume FlowController, more bool) {
	if resume != nil {
		_ = resume.SetFlow(true)
	}
	if more {
		q.signal()
	}
}

func (q *ByteQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// timer returns a channel that fires after d. Immediate and Infinite
// timeouts yield a nil channel.
func timer(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
