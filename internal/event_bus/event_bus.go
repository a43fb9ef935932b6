package event_bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventType names a topic on the bus.
type EventType string

// Event carries a payload of any type together with the context of the
// operation that published it.
type Event struct {
	ctx       context.Context
	Type      EventType
	Timestamp time.Time
	Data      any
}

func NewEvent(ctx context.Context, eventType EventType, data any) Event {
	return Event{ctx: ctx, Type: eventType, Timestamp: time.Now(), Data: data}
}

func (e Event) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// EventT is the view of an Event handed to typed handlers.
type EventT[T any] struct {
	Event
	Data T
}

type subscription struct {
	id      uint64
	handler func(Event) error
}

// EventBus delivers events synchronously. Handlers of a topic run one after
// another in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	topics map[EventType][]subscription
	lastId uint64
}

func NewEventBus() *EventBus {
	return &EventBus{topics: make(map[EventType][]subscription)}
}

// Subscribe adds h to eventType. The returned function removes it again and
// may be called any number of times.
func (eb *EventBus) Subscribe(eventType EventType, h func(Event) error) (unsubscribe func()) {
	eb.mu.Lock()
	eb.lastId++
	id := eb.lastId
	eb.topics[eventType] = append(eb.topics[eventType], subscription{id: id, handler: h})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { eb.remove(eventType, id) })
	}
}

func (eb *EventBus) remove(eventType EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.topics[eventType]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(eb.topics, eventType)
		return
	}
	eb.topics[eventType] = subs
}

// SubscribeTyped subscribes a handler that only sees payloads of type T; other
// payloads on the topic are ignored.
//
//	event_bus.SubscribeTyped(bus, event_bus.CalendarEventAdded,
//	    func(e event_bus.EventT[event_bus.CalendarEventChanged]) error {
//	        log.Infof("%s added %q", e.Data.OwnerId, e.Data.Title)
//	        return nil
//	    })
func SubscribeTyped[T any](eb *EventBus, eventType EventType, h func(EventT[T]) error) (unsubscribe func()) {
	return eb.Subscribe(eventType, func(e Event) error {
		payload, ok := e.Data.(T)
		if !ok {
			log.Tracef("EventBus: %s payload %T skipped by typed handler", eventType, e.Data)
			return nil
		}
		return h(EventT[T]{Event: e, Data: payload})
	})
}

// Subscribers returns the number of handlers registered for eventType.
func (eb *EventBus) Subscribers(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.topics[eventType])
}

// Publish runs every handler of e.Type. A handler that fails or panics is
// logged and the rest still run; all failures come back joined. Once the
// event's context is done no further handlers are started.
func (eb *EventBus) Publish(e Event) error {
	ctx := e.Context()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("event %s not published: %w", e.Type, err)
	}

	eb.mu.RLock()
	subs := append([]subscription(nil), eb.topics[e.Type]...)
	eb.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("event %s interrupted: %w", e.Type, err))
			break
		}
		if err := deliver(s, e); err != nil {
			log.Errorf("EventBus: handler %d failed for %s: %v", s.id, e.Type, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler(e)
}
