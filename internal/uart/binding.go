package uart

// Binding adapts one physical transport. Start and Stop are idempotent.
// Stop must release a goroutine parked in Receive(p, true), which then
// returns ErrClosed. Faults are reported wrapped in ErrHardware.
type Binding interface {
	Start() error
	Stop() error
	// Send transmits p and returns the number of bytes written. It must
	// fail rather than wait without bound.
	Send(p []byte) (int, error)
	// Receive copies available bytes into p. With wait set it blocks until
	// at least one byte is available, the binding's poll interval elapses
	// (ErrTimeout) or the binding is stopped (ErrClosed). Without wait it
	// returns immediately, possibly with zero bytes.
	Receive(p []byte, wait bool) (int, error)
}

// QueueAttacher is implemented by bindings whose receive callback feeds a
// ByteQueue owned by the Interface.
type QueueAttacher interface {
	Attach(rx *ByteQueue)
}

// Framer extracts frames from the receive accumulator.
type Framer interface {
	// Extract returns the first complete frame in buf and the bytes that
	// follow it. A nil frame with a nil error means more input is needed.
	// ErrMalformedFrame means buf cannot start a valid frame.
	Extract(buf []byte) (frame, rest []byte, err error)
	// Resync drops bytes up to the next plausible frame start. aligned is
	// false when the framer has no start marker and the caller must skip
	// input through the end of the current frame.
	Resync(buf []byte) (rest []byte, aligned bool)
}

// FramerFunc adapts a plain parse function to a Framer without resync support.
type FramerFunc func(buf []byte) (frame, rest []byte, err error)

// Extract calls f.
func (f FramerFunc) Extract(buf []byte) ([]byte, []byte, error) {
	return f(buf)
}

// Resync discards everything.
func (f FramerFunc) Resync([]byte) ([]byte, bool) {
	return nil, false
}

// Classifier decides which queue a frame belongs to.
type Classifier interface {
	Classify(frame []byte) Kind
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(frame []byte) Kind

// Classify calls f.
func (f ClassifierFunc) Classify(frame []byte) Kind {
	return f(frame)
}
