package events

import (
	"net/http"
	"sync"
)

// File is a binary attachment carried by a message (profile submissions).
type File struct {
	Name    string
	Content []byte
}

// Message is one trace-channel emission: the submitting request's headers
// and its opaque decoded payload, plus optional attachments.
type Message struct {
	Headers http.Header
	Payload []byte
	Files   []File
}

// TelemetryMessage is one telemetry-channel emission. RequestType is the
// discriminator read from the submission body, used to pre-filter waiters.
type TelemetryMessage struct {
	Headers     http.Header
	Payload     []byte
	RequestType string
}

// Bus routes messages to registered observers on two channels: traces and
// telemetry. Emissions fan out to every observer registered at publish
// time; there is no replay for late subscribers.
type Bus struct {
	mu                 sync.Mutex
	nextID             int
	traceObservers     map[int]func(Message)
	telemetryObservers map[int]func(TelemetryMessage)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		traceObservers:     make(map[int]func(Message)),
		telemetryObservers: make(map[int]func(TelemetryMessage)),
	}
}

// PublishTrace delivers msg to every trace observer.
func (b *Bus) PublishTrace(msg Message) {
	b.mu.Lock()
	observers := make([]func(Message), 0, len(b.traceObservers))
	for _, fn := range b.traceObservers {
		observers = append(observers, fn)
	}
	b.mu.Unlock()

	// Deliver outside the lock so an observer deregistering itself cannot
	// deadlock the bus.
	for _, fn := range observers {
		fn(msg)
	}
}

// PublishTelemetry delivers msg to every telemetry observer.
func (b *Bus) PublishTelemetry(msg TelemetryMessage) {
	b.mu.Lock()
	observers := make([]func(TelemetryMessage), 0, len(b.telemetryObservers))
	for _, fn := range b.telemetryObservers {
		observers = append(observers, fn)
	}
	b.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
}

// subscribeTrace registers fn on the trace channel and returns its
// deregistration func. Deregistration is idempotent.
func (b *Bus) subscribeTrace(fn func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.traceObservers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.traceObservers, id)
	}
}

// subscribeTelemetry registers fn on the telemetry channel and returns its
// deregistration func.
func (b *Bus) subscribeTelemetry(fn func(TelemetryMessage)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.telemetryObservers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.telemetryObservers, id)
	}
}
