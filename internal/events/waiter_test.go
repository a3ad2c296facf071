package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceMsg(payload string) Message {
	return Message{Payload: []byte(payload)}
}

func telemetryMsg(requestType, payload string) TelemetryMessage {
	return TelemetryMessage{RequestType: requestType, Payload: []byte(payload)}
}

// waitForObservers blocks until n observers are registered on the bus, so
// tests can publish without racing waiter registration.
func waitForObservers(t *testing.T, b *Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		count := len(b.traceObservers) + len(b.telemetryObservers)
		b.mu.Unlock()
		if count >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("observer never registered")
		}
		time.Sleep(time.Millisecond)
	}
}

type traceResult struct {
	msgs []Message
	err  error
}

func awaitTracesAsync(b *Bus, pred Predicate, opts WaitOptions) <-chan traceResult {
	done := make(chan traceResult, 1)
	go func() {
		msgs, err := b.AwaitMessages(pred, opts)
		done <- traceResult{msgs: msgs, err: err}
	}()
	return done
}

func acceptAll(Message) error { return nil }

func TestAwaitResolvesOnSuccessCount(t *testing.T) {
	bus := NewBus()

	pred := func(msg Message) error {
		if string(msg.Payload) == "bad" {
			return errors.New("unexpected payload")
		}
		return nil
	}

	done := awaitTracesAsync(bus, pred, WaitOptions{Timeout: 2 * time.Second, Count: 2})
	waitForObservers(t, bus, 1)

	// First message fails validation, second succeeds: one success is not
	// two, so the wait must keep listening.
	bus.PublishTrace(traceMsg("bad"))
	bus.PublishTrace(traceMsg("good"))

	select {
	case res := <-done:
		t.Fatalf("wait resolved early: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	// A second success completes the wait.
	bus.PublishTrace(traceMsg("good"))

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.msgs, 2)
	assert.Equal(t, "good", string(res.msgs[0].Payload))
}

func TestAwaitFirstSuccessMode(t *testing.T) {
	bus := NewBus()

	done := awaitTracesAsync(bus, acceptAll, WaitOptions{
		Timeout:      2 * time.Second,
		Count:        10,
		FirstSuccess: true,
	})
	waitForObservers(t, bus, 1)

	bus.PublishTrace(traceMsg("only"))

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.msgs, 1)
}

func TestAwaitTimeoutNoMessages(t *testing.T) {
	bus := NewBus()

	_, err := bus.AwaitMessages(acceptAll, WaitOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Empty(t, timeoutErr.Errs)
}

func TestAwaitTimeoutAggregatesPredicateErrors(t *testing.T) {
	bus := NewBus()

	errFirst := errors.New("wrong service name")
	errSecond := errors.New("wrong span count")
	calls := 0
	pred := func(Message) error {
		calls++
		if calls == 1 {
			return errFirst
		}
		return errSecond
	}

	done := awaitTracesAsync(bus, pred, WaitOptions{Timeout: 200 * time.Millisecond})
	waitForObservers(t, bus, 1)

	bus.PublishTrace(traceMsg("a"))
	bus.PublishTrace(traceMsg("b"))

	res := <-done
	require.Error(t, res.err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, res.err, &timeoutErr)
	require.Len(t, timeoutErr.Errs, 2)
	assert.ErrorIs(t, res.err, errFirst)
	assert.ErrorIs(t, res.err, errSecond)
	assert.Contains(t, res.err.Error(), "wrong span count")
}

func TestAwaitObservesOnlyFutureMessages(t *testing.T) {
	bus := NewBus()

	// Emitted before any waiter registers: gone, no replay.
	bus.PublishTrace(traceMsg("early"))

	_, err := bus.AwaitMessages(acceptAll, WaitOptions{Timeout: 50 * time.Millisecond})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestFanOutToAllWaiters(t *testing.T) {
	bus := NewBus()

	first := awaitTracesAsync(bus, acceptAll, WaitOptions{Timeout: 2 * time.Second})
	second := awaitTracesAsync(bus, acceptAll, WaitOptions{Timeout: 2 * time.Second})
	waitForObservers(t, bus, 2)

	bus.PublishTrace(traceMsg("shared"))

	for _, done := range []<-chan traceResult{first, second} {
		res := <-done
		require.NoError(t, res.err)
		require.Len(t, res.msgs, 1)
		assert.Equal(t, "shared", string(res.msgs[0].Payload))
	}
}

func TestWaiterDeregistersOnResolution(t *testing.T) {
	bus := NewBus()

	done := awaitTracesAsync(bus, acceptAll, WaitOptions{Timeout: 2 * time.Second})
	waitForObservers(t, bus, 1)

	bus.PublishTrace(traceMsg("one"))
	res := <-done
	require.NoError(t, res.err)

	// Resolution removes the observer; later emissions go nowhere.
	deadline := time.Now().Add(time.Second)
	for {
		bus.mu.Lock()
		count := len(bus.traceObservers)
		bus.mu.Unlock()
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("observer still registered after resolution")
		}
		time.Sleep(time.Millisecond)
	}
	bus.PublishTrace(traceMsg("late"))
}

func TestWaiterDeregistersOnTimeout(t *testing.T) {
	bus := NewBus()

	_, err := bus.AwaitMessages(acceptAll, WaitOptions{Timeout: 20 * time.Millisecond})
	require.Error(t, err)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Empty(t, bus.traceObservers)
}

func TestAwaitTelemetryFiltersByRequestType(t *testing.T) {
	bus := NewBus()

	calls := 0
	pred := func(TelemetryMessage) error {
		calls++
		return nil
	}

	done := make(chan traceResult, 1)
	go func() {
		msgs, err := bus.AwaitTelemetry("app-started", pred, WaitOptions{Timeout: 2 * time.Second, Count: 2})
		out := traceResult{err: err}
		for range msgs {
			out.msgs = append(out.msgs, Message{})
		}
		done <- out
	}()
	waitForObservers(t, bus, 1)

	// Non-matching request types never reach the predicate.
	bus.PublishTelemetry(telemetryMsg("generate-metrics", "m1"))
	bus.PublishTelemetry(telemetryMsg("app-started", "s1"))
	bus.PublishTelemetry(telemetryMsg("app-closing", "c1"))
	bus.PublishTelemetry(telemetryMsg("app-started", "s2"))

	res := <-done
	require.NoError(t, res.err)
	assert.Len(t, res.msgs, 2)
	assert.Equal(t, 2, calls)
}

func TestAwaitTelemetryRequiresExactCount(t *testing.T) {
	bus := NewBus()

	done := make(chan error, 1)
	go func() {
		_, err := bus.AwaitTelemetry("app-started", func(TelemetryMessage) error { return nil },
			WaitOptions{Timeout: 100 * time.Millisecond, Count: 3})
		done <- err
	}()
	waitForObservers(t, bus, 1)

	bus.PublishTelemetry(telemetryMsg("app-started", "s1"))
	bus.PublishTelemetry(telemetryMsg("app-started", "s2"))

	// Two successes out of three required: the deadline wins.
	err := <-done
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestPublishWithNoObservers(t *testing.T) {
	bus := NewBus()

	// Must not panic or block.
	bus.PublishTrace(traceMsg("nobody"))
	bus.PublishTelemetry(telemetryMsg("app-started", "nobody"))
}
