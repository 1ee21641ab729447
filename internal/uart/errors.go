package uart

import "errors"

// Result taxonomy shared by every blocking and non-blocking operation.
var (
	// ErrHardware reports a peripheral fault. It is not recoverable without a restart.
	ErrHardware = errors.New("uart: hardware error")
	// ErrQueueFull reports backpressure on a bounded queue.
	ErrQueueFull = errors.New("uart: queue full")
	// ErrTimeout is the expected result of a bounded wait that saw no data.
	ErrTimeout = errors.New("uart: timeout")
	// ErrClosed is returned once the interface (or queue) has been stopped.
	ErrClosed = errors.New("uart: closed")
	// ErrNotRunning is returned by operations issued before Start or after a failure.
	ErrNotRunning = errors.New("uart: interface not running")
	// ErrMalformedFrame is produced by framers. The worker recovers from it locally.
	ErrMalformedFrame = errors.New("uart: malformed frame")
	// ErrEmpty is returned by non-blocking reads on an empty queue.
	ErrEmpty = errors.New("uart: queue empty")
)
