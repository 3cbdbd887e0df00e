// Package events fans supervisor lifecycle events out to independent
// consumers (logger, metrics, state file, dashboard) through kelindar/event.
package events

import (
	"sync"

	"github.com/kelindar/event"

	"github.com/Paintersrp/procsup/internal/engine"
)

// TypeLifecycle identifies Lifecycle events on the dispatcher.
const TypeLifecycle uint32 = iota + 1

// Lifecycle carries one supervisor event through the dispatcher.
type Lifecycle struct {
	Event engine.Event
}

// Type returns the event type identifier for Lifecycle.
func (Lifecycle) Type() uint32 { return TypeLifecycle }

// Bus wraps a kelindar/event dispatcher. Each subscriber receives events in
// publish order on its own goroutine. Taps run inline in Publish.
type Bus struct {
	dispatcher *event.Dispatcher

	mu   sync.RWMutex
	taps []func(engine.Event)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish runs every tap, then delivers evt to the subscribers.
func (b *Bus) Publish(evt engine.Event) {
	b.mu.RLock()
	for _, tap := range b.taps {
		tap(evt)
	}
	b.mu.RUnlock()
	event.Publish(b.dispatcher, Lifecycle{Event: evt})
}

// Tap registers fn to run synchronously on the publishing goroutine. Once
// Pump returns every tap has seen every event.
func (b *Bus) Tap(fn func(engine.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(engine.Event)) func() {
	return event.Subscribe(b.dispatcher, func(l Lifecycle) {
		fn(l.Event)
	})
}

// Pump republishes everything received on in until done is closed, then
// forwards whatever is still buffered and returns.
func (b *Bus) Pump(in <-chan engine.Event, done <-chan struct{}) {
	for {
		select {
		case evt := <-in:
			b.Publish(evt)
		case <-done:
			for {
				select {
				case evt := <-in:
					b.Publish(evt)
				default:
					return
				}
			}
		}
	}
}

// Close stops the dispatcher.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
