package uart

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
)

// Special timeout values accepted by every blocking operation.
const (
	// Immediate makes a blocking call behave like its non-blocking variant,
	// except that it reports ErrTimeout instead of ErrEmpty.
	Immediate time.Duration = 0
	// Infinite waits until data arrives or the interface is stopped.
	Infinite time.Duration = -1
)

// Default sizes and timings.
const (
	DefaultRxQueueSize       = 32
	DefaultResponseQueueSize = 8
	DefaultURCQueueSize      = 8
	DefaultMaxFrameSize      = 256
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultMaxReceiveRetries = 5
)

// BytePolicy decides what happens to a byte pushed into a full ByteQueue.
type BytePolicy int

const (
	// ByteDropNewest discards the incoming byte.
	ByteDropNewest BytePolicy = iota
	// ByteDropOldest discards the oldest queued byte to make room.
	ByteDropOldest
	// ByteFlowControl discards the incoming byte and asserts backpressure on
	// the binding until the queue has drained below half its capacity.
	ByteFlowControl
)

func (p BytePolicy) String() string {
	switch p {
	case ByteDropNewest:
		return "drop-newest"
	case ByteDropOldest:
		return "drop-oldest"
	case ByteFlowControl:
		return "flow-control"
	}
	return fmt.Sprintf("BytePolicy(%d)", int(p))
}

// QueuePolicy decides what happens to a message enqueued on a full MessageQueue.
type QueuePolicy int

const (
	// QueueDropNewest rejects the incoming message.
	QueueDropNewest QueuePolicy = iota
	// QueueDropOldest evicts the oldest queued message.
	QueueDropOldest
	// QueueFail rejects the incoming message and reports it as an error in the log.
	QueueFail
)

func (p QueuePolicy) String() string {
	switch p {
	case QueueDropNewest:
		return "drop-newest"
	case QueueDropOldest:
		return "drop-oldest"
	case QueueFail:
		return "fail"
	}
	return fmt.Sprintf("QueuePolicy(%d)", int(p))
}

// Mode selects how the receive worker is driven.
type Mode int

const (
	// Threaded runs the receive worker on its own goroutine.
	Threaded Mode = iota
	// Cooperative leaves the worker idle; the caller drives it with Interface.Pump.
	Cooperative
)

func (m Mode) String() string {
	if m == Cooperative {
		return "cooperative"
	}
	return "threaded"
}

// ParseBytePolicy maps a configuration string to a BytePolicy.
func ParseBytePolicy(s string) (BytePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-newest":
		return ByteDropNewest, nil
	case "drop-oldest":
		return ByteDropOldest, nil
	case "flow-control":
		return ByteFlowControl, nil
	}
	return 0, fmt.Errorf("unknown byte queue policy %q", s)
}

// ParseQueuePolicy maps a configuration string to a QueuePolicy.
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-newest":
		return QueueDropNewest, nil
	case "drop-oldest":
		return QueueDropOldest, nil
	case "fail":
		return QueueFail, nil
	}
	return 0, fmt.Errorf("unknown message queue policy %q", s)
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "threaded":
		return Threaded, nil
	case "cooperative", "polled":
		return Cooperative, nil
	}
	return 0, fmt.Errorf("unknown worker mode %q", s)
}

// Config defines the configuration of one Interface.
type Config struct {
	// Name identifies the interface in logs.
	Name string

	// Queue capacities.
	RxQueueSize       int
	ResponseQueueSize int
	URCQueueSize      int

	// MaxFrameSize bounds the receive accumulation buffer.
	MaxFrameSize int

	// Full-queue policies.
	RxPolicy       BytePolicy
	ResponsePolicy QueuePolicy
	URCPolicy      QueuePolicy

	Mode Mode

	// PollInterval bounds how long the worker stays parked in a receive call,
	// and therefore how long Stop takes to be observed.
	PollInterval time.Duration

	// MaxReceiveRetries is the number of consecutive receive errors tolerated
	// before the interface is moved to the Failed state.
	MaxReceiveRetries int

	// Framer and Classifier are required.
	Framer     Framer
	Classifier Classifier

	// Logger defaults to an INFO level EdgeX logging client.
	Logger logger.LoggingClient
}

// DefaultConfig returns a Config with the default queue sizes. Framer and
// Classifier still have to be supplied.
func DefaultConfig() Config {
	return Config{
		Name:              "uart0",
		RxQueueSize:       DefaultRxQueueSize,
		ResponseQueueSize: DefaultResponseQueueSize,
		URCQueueSize:      DefaultURCQueueSize,
		MaxFrameSize:      DefaultMaxFrameSize,
		RxPolicy:          ByteDropNewest,
		ResponsePolicy:    QueueDropNewest,
		URCPolicy:         QueueDropOldest,
		Mode:              Threaded,
		PollInterval:      DefaultPollInterval,
		MaxReceiveRetries: DefaultMaxReceiveRetries,
	}
}

// Validate checks the configuration and fills in a default logger.
func (c *Config) Validate() error {
	if c.RxQueueSize <= 0 {
		return fmt.Errorf("rx queue size must be positive, got %d", c.RxQueueSize)
	}
	if c.ResponseQueueSize <= 0 || c.URCQueueSize <= 0 {
		return fmt.Errorf("message queue sizes must be positive, got %d/%d", c.ResponseQueueSize, c.URCQueueSize)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxReceiveRetries < 0 {
		return fmt.Errorf("max receive retries must not be negative, got %d", c.MaxReceiveRetries)
	}
	if c.Framer == nil {
		return fmt.Errorf("interface %s: framer is required", c.Name)
	}
	if c.Classifier == nil {
		return fmt.Errorf("interface %s: classifier is required", c.Name)
	}
	if c.Logger == nil {
		c.Logger = logger.NewClient("uart-interface", "INFO")
	}
	return nil
}
