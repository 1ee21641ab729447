package uart

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"go.uber.org/atomic"
)

// WorkerStats counts what the receive worker has seen since construction.
type WorkerStats struct {
	Bytes         uint64
	Frames        uint64
	Responses     uint64
	URCs          uint64
	Lost          uint64 // frames refused by a full or closed message queue
	Malformed     uint64
	Overflows     uint64
	Discarded     uint64 // frames dropped while resynchronising
	ReceiveErrors uint64
}

// worker turns received bytes into classified messages.
type worker struct {
	name       string
	binding    Binding
	framer     Framer
	classifier Classifier
	responses  *MessageQueue
	urcs       *MessageQueue
	maxRetries int
	lc         logger.LoggingClient
	now        func() time.Time

	// onFail is called from the worker goroutine when it gives up.
	onFail func(error)

	acc      []byte
	scratch  []byte
	skipping bool
	errs     int
	bo       *backoff.ExponentialBackOff

	stop chan struct{}
	done chan struct{}

	bytes         atomic.Uint64
	frames        atomic.Uint64
	nResponses    atomic.Uint64
	nURCs         atomic.Uint64
	lost          atomic.Uint64
	malformed     atomic.Uint64
	overflows     atomic.Uint64
	discarded     atomic.Uint64
	receiveErrors atomic.Uint64
}

func newWorker(cfg Config, b Binding, responses, urcs *MessageQueue) *worker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PollInterval / 10
	bo.MaxInterval = cfg.PollInterval * 10
	bo.MaxElapsedTime = 0
	bo.Reset()

	scratch := cfg.MaxFrameSize
	if scratch > 64 {
		scratch = 64
	}
	return &worker{
		name:       cfg.Name,
		binding:    b,
		framer:     cfg.Framer,
		classifier: cfg.Classifier,
		responses:  responses,
		urcs:       urcs,
		maxRetries: cfg.MaxReceiveRetries,
		lc:         cfg.Logger,
		now:        time.Now,
		acc:        make([]byte, 0, cfg.MaxFrameSize),
		scratch:    make([]byte, scratch),
		bo:         bo,
	}
}

// reset prepares the worker for a new run.
func (w *worker) reset() {
	w.acc = w.acc[:0]
	w.skipping = false
	w.errs = 0
	w.bo.Reset()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
}

// start launches the receive loop on its own goroutine.
func (w *worker) start() {
	go w.run()
}

// halt signals the loop to exit. It does not wait.
func (w *worker) halt() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// wait blocks until the loop has exited or d has passed.
func (w *worker) wait(d time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (w *worker) run() {
	defer close(w.done)
	w.lc.Debugf("uart %s: receive worker started", w.name)

	for {
		select {
		case <-w.stop:
			w.lc.Debugf("uart %s: receive worker stopped", w.name)
			return
		default:
		}

		n, err := w.binding.Receive(w.scratch, true)
		if n > 0 {
			w.feed(w.scratch[:n])
		}
		switch {
		case err == nil, errors.Is(err, ErrTimeout):
			// an idle poll ends a run of receive errors
			w.recovered()
		case errors.Is(err, ErrClosed):
			w.lc.Debugf("uart %s: binding closed, receive worker exiting", w.name)
			return
		default:
			if !w.retry(err) {
				w.onFail(err)
				return
			}
		}
	}
}

// pump drains whatever the binding has buffered without waiting. It is the
// cooperative counterpart of run.
func (w *worker) pump() (int, error) {
	total := 0
	for {
		n, err := w.binding.Receive(w.scratch, false)
		if n > 0 {
			total += n
			w.feed(w.scratch[:n])
		}
		switch {
		case err == nil:
			w.recovered()
			if n == 0 {
				return total, nil
			}
		case errors.Is(err, ErrTimeout):
			w.recovered()
			return total, nil
		case errors.Is(err, ErrClosed):
			return total, ErrClosed
		default:
			w.errs++
			w.receiveErrors.Inc()
			if w.errs > w.maxRetries {
				w.onFail(err)
				return total, err
			}
			return total, fmt.Errorf("uart %s: receive: %w", w.name, err)
		}
	}
}

func (w *worker) recovered() {
	if w.errs > 0 {
		w.lc.Infof("uart %s: receive recovered after %d errors", w.name, w.errs)
		w.errs = 0
		w.bo.Reset()
	}
}

// retry paces the next receive attempt. It reports false once the budget
// of back-to-back errors is spent; a successful or idle poll refills it.
func (w *worker) retry(err error) bool {
	w.errs++
	w.receiveErrors.Inc()
	if w.errs > w.maxRetries {
		w.lc.Errorf("uart %s: receive failed %d times, giving up: %v", w.name, w.errs, err)
		return false
	}
	delay := w.bo.NextBackOff()
	if delay == backoff.Stop {
		return false
	}
	w.lc.Warnf("uart %s: receive error (%d/%d), retrying in %s: %v", w.name, w.errs, w.maxRetries, delay, err)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-w.stop:
	case <-t.C:
	}
	return true
}

// feed appends p to the accumulator, extracting frames as they complete.
func (w *worker) feed(p []byte) {
	w.bytes.Add(uint64(len(p)))
	for len(p) > 0 {
		room := cap(w.acc) - len(w.acc)
		if room == 0 {
			w.overflow()
			continue
		}
		if room > len(p) {
			room = len(p)
		}
		w.acc = append(w.acc, p[:room]...)
		p = p[room:]
		w.extract()
	}
	if len(w.acc) == cap(w.acc) {
		w.overflow()
	}
}

// overflow applies the resync policy to a full accumulator.
func (w *worker) overflow() {
	w.overflows.Inc()
	w.lc.Warnf("uart %s: frame exceeds %d bytes, resynchronising", w.name, cap(w.acc))
	w.resync()
	if len(w.acc) == cap(w.acc) {
		w.acc = w.acc[:0]
	}
	w.extract()
}

func (w *worker) resync() {
	before := len(w.acc)
	rest, aligned := w.framer.Resync(w.acc)
	if len(rest) >= before {
		rest = nil
	}
	w.keep(rest)
	if !aligned {
		w.skipping = true
	}
}

// extract delivers every complete frame currently in the accumulator.
func (w *worker) extract() {
	for len(w.acc) > 0 {
		frame, rest, err := w.framer.Extract(w.acc)
		if err != nil {
			w.malformed.Inc()
			w.lc.Debugf("uart %s: %v, resynchronising", w.name, err)
			w.resync()
			continue
		}
		if frame == nil {
			w.keep(rest)
			return
		}
		switch {
		case w.skipping:
			w.skipping = false
			if len(frame) > 0 {
				w.discarded.Inc()
			}
		case len(frame) > 0:
			w.deliver(frame)
		}
		w.keep(rest)
	}
}

// keep moves rest to the front of the accumulator.
func (w *worker) keep(rest []byte) {
	n := copy(w.acc[:cap(w.acc)], rest)
	w.acc = w.acc[:n]
}

func (w *worker) deliver(frame []byte) {
	w.frames.Inc()
	kind := w.classifier.Classify(frame)
	q := w.responses
	if kind == URC {
		q = w.urcs
		w.nURCs.Inc()
	} else {
		w.nResponses.Inc()
	}

	err := q.Enqueue(newMessage(frame, kind, w.now()))
	switch {
	case err == nil:
	case errors.Is(err, ErrClosed):
		w.lost.Inc()
	case q.policy == QueueFail:
		w.lost.Inc()
		w.lc.Errorf("uart %s: %s queue full, message of %d bytes rejected", w.name, kind, len(frame))
	default:
		w.lost.Inc()
		w.lc.Warnf("uart %s: %s queue full, message of %d bytes dropped", w.name, kind, len(frame))
	}
}

func (w *worker) stats() WorkerStats {
	return WorkerStats{
		Bytes:         w.bytes.Load(),
		Frames:        w.frames.Load(),
		Responses:     w.nResponses.Load(),
		URCs:          w.nURCs.Load(),
		Lost:          w.lost.Load(),
		Malformed:     w.malformed.Load(),
		Overflows:     w.overflows.Load(),
		Discarded:     w.discarded.Load(),
		ReceiveErrors: w.receiveErrors.Load(),
	}
}
