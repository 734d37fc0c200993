package bus

import (
	"reflect"
	"sync"

	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
)

// EventBus fans events out to subscriber channels, keyed by the concrete
// event type.
type EventBus struct {
	observers map[string][]chan interface{}
	mu        sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		observers: make(map[string][]chan interface{}),
	}
}

// Subscribe registers ch to receive every published event of the same
// concrete type as event.
func (eb *EventBus) Subscribe(ch chan interface{}, event core.Event) {
	eventType := reflect.TypeOf(event).String()

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.observers[eventType] = append(eb.observers[eventType], ch)
}

// Publish delivers event to all subscribers. Each delivery happens on its
// own goroutine so a slow subscriber never blocks the publisher.
func (eb *EventBus) Publish(event core.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	observerChans := eb.observers[reflect.TypeOf(event).String()]

	for _, observerChan := range observerChans {
		go func(ch chan interface{}) {
			ch <- event
		}(observerChan)
	}
}

// PublishAsync publishes without waiting for subscriber lookup either.
func (eb *EventBus) PublishAsync(event core.Event) {
	go eb.Publish(event)
}
