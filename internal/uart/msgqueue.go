package uart

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// QueueStats is a snapshot of MessageQueue counters. Every message that was
// not delivered shows up in Dropped (evicted) or Rejected (refused).
type QueueStats struct {
	Enqueued uint64
	Dequeued uint64
	Dropped  uint64
	Rejected uint64
	Len      int
	Cap      int
}

// MessageQueue is a fixed-capacity FIFO of messages with one producer (the
// receive worker) and any number of consumers.
type MessageQueue struct {
	mu     sync.Mutex
	items  []Message
	head   int
	count  int
	closed bool
	done   chan struct{}
	notify chan struct{}
	policy QueuePolicy

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// NewMessageQueue returns an open queue holding at most capacity messages.
func NewMessageQueue(capacity int, policy QueuePolicy) *MessageQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MessageQueue{
		items:  make([]Message, capacity),
		policy: policy,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends m without blocking. When the queue is full, QueueDropOldest
// evicts the head and succeeds; QueueDropNewest and QueueFail refuse m with
// ErrQueueFull.
func (q *MessageQueue) Enqueue(m Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.rejected.Inc()
		return ErrClosed
	}
	if q.count == len(q.items) {
		if q.policy != QueueDropOldest {
			q.mu.Unlock()
			q.rejected.Inc()
			return ErrQueueFull
		}
		q.items[q.head] = Message{}
		q.head = (q.head + 1) % len(q.items)
		q.count--
		q.dropped.Inc()
	}
	q.items[(q.head+q.count)%len(q.items)] = m
	q.count++
	q.mu.Unlock()

	q.enqueued.Inc()
	q.signal()
	return nil
}

// TryDequeue removes the oldest message without waiting. After Close it
// keeps returning queued messages and then ErrClosed.
func (q *MessageQueue) TryDequeue() (Message, error) {
	q.mu.Lock()
	m, err := q.takeLocked()
	more := q.count > 0
	q.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	if more {
		q.signal()
	}
	return m, nil
}

// Dequeue removes the oldest message, waiting up to timeout for one. It
// returns ErrClosed once the queue is closed and drained.
func (q *MessageQueue) Dequeue(timeout time.Duration) (Message, error) {
	deadline, stop := timer(timeout)
	defer stop()

	for {
		m, err := q.TryDequeue()
		if err != ErrEmpty {
			return m, err
		}
		if timeout == Immediate {
			return Message{}, ErrTimeout
		}
		q.mu.Lock()
		done := q.done
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-done:
		case <-deadline:
			return Message{}, ErrTimeout
		}
	}
}

// Clear discards every queued message. Discarded messages count as dropped.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped.Add(uint64(q.count))
	for i := range q.items {
		q.items[i] = Message{}
	}
	q.head, q.count = 0, 0
}

// Close releases every waiting consumer.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Reset clears the queue and reopens it after Close.
func (q *MessageQueue) Reset() {
	q.Clear()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.closed = false
		q.done = make(chan struct{})
	}
	select {
	case <-q.notify:
	default:
	}
}

// Len reports the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap reports the fixed capacity.
func (q *MessageQueue) Cap() int {
	return len(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *MessageQueue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Dropped:  q.dropped.Load(),
		Rejected: q.rejected.Load(),
		Len:      q.Len(),
		Cap:      len(q.items),
	}
}

func (q *MessageQueue) takeLocked() (Message, error) {
	if q.count == 0 {
		if q.closed {
			return Message{}, ErrClosed
		}
		return Message{}, ErrEmpty
	}
	m := q.items[q.head]
	q.items[q.head] = Message{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.dequeued.Inc()
	return m, nil
}

func (q *MessageQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
