package events

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Predicate validates one trace-channel message. A nil return counts as a
// success; an error is recorded against the wait without aborting it.
type Predicate func(Message) error

// TelemetryPredicate validates one telemetry-channel message.
type TelemetryPredicate func(TelemetryMessage) error

// TimeoutError reports a wait whose deadline elapsed before its completion
// criteria were met. It carries every predicate error observed during the
// wait so the caller can see which received messages failed validation.
type TimeoutError struct {
	Timeout time.Duration
	Errs    []error
}

func (e *TimeoutError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("timed out after %v waiting for matching messages", e.Timeout)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "timed out after %v; %d message(s) failed validation:", e.Timeout, len(e.Errs))
	for i, err := range e.Errs {
		fmt.Fprintf(&b, "\n  [%d] %v", i+1, err)
	}
	return b.String()
}

// Unwrap exposes the accumulated predicate errors for errors.Is/As.
func (e *TimeoutError) Unwrap() []error {
	return e.Errs
}

// WaitOptions controls a wait on the message bus.
type WaitOptions struct {
	// Timeout is the wait deadline. A non-positive value means DefaultTimeout.
	Timeout time.Duration
	// Count is the number of predicate successes required; defaults to 1.
	Count int
	// FirstSuccess resolves the wait on the first predicate success,
	// regardless of Count. Only honored on the trace channel.
	FirstSuccess bool
}

// DefaultTimeout bounds waits whose options carry no explicit deadline.
const DefaultTimeout = 30 * time.Second

// waiter is the per-wait bookkeeping. It transitions from pending to
// exactly one terminal state; emissions delivered after that are dropped.
type waiter[M any] struct {
	mu       sync.Mutex
	terminal bool
	matched  []M
	errs     []error
	done     chan struct{}
}

// observe evaluates one delivered message and resolves the wait once
// "need" validations have succeeded.
func (w *waiter[M]) observe(msg M, validate func(M) error, need int, firstSuccess bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return
	}

	if err := validate(msg); err != nil {
		w.errs = append(w.errs, err)
		return
	}

	w.matched = append(w.matched, msg)
	if firstSuccess || len(w.matched) >= need {
		w.terminal = true
		close(w.done)
	}
}

// wait blocks until the waiter resolves or the deadline elapses.
func (w *waiter[M]) wait(timeout time.Duration, deregister func()) ([]M, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		deregister()
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.matched, nil
	case <-timer.C:
		w.mu.Lock()
		w.terminal = true
		errs := append([]error(nil), w.errs...)
		w.mu.Unlock()
		deregister()
		return nil, &TimeoutError{Timeout: timeout, Errs: errs}
	}
}

// AwaitMessages blocks until pred has succeeded opts.Count times on the
// trace channel (or once, when opts.FirstSuccess is set), returning the
// matching messages. Messages failing pred never advance completion; their
// errors surface inside the eventual *TimeoutError. Only messages emitted
// after registration are observed.
func (b *Bus) AwaitMessages(pred Predicate, opts WaitOptions) ([]Message, error) {
	timeout, count := opts.Timeout, opts.Count
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if count <= 0 {
		count = 1
	}

	w := &waiter[Message]{done: make(chan struct{})}
	deregister := b.subscribeTrace(func(msg Message) {
		w.observe(msg, pred, count, opts.FirstSuccess)
	})

	return w.wait(timeout, deregister)
}

// AwaitTelemetry blocks until pred has succeeded opts.Count times on the
// telemetry channel. Only messages whose RequestType equals requestType are
// considered at all; there is no first-success short-circuit on this
// channel.
func (b *Bus) AwaitTelemetry(requestType string, pred TelemetryPredicate, opts WaitOptions) ([]TelemetryMessage, error) {
	timeout, count := opts.Timeout, opts.Count
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if count <= 0 {
		count = 1
	}

	w := &waiter[TelemetryMessage]{done: make(chan struct{})}
	deregister := b.subscribeTelemetry(func(msg TelemetryMessage) {
		if msg.RequestType != requestType {
			return
		}
		w.observe(msg, pred, count, false)
	})

	return w.wait(timeout, deregister)
}
