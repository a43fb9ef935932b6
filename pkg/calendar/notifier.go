package calendar

import (
	"context"

	"github.com/familyhub/famcal/internal/event_bus"
	log "github.com/sirupsen/logrus"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type Change struct {
	Action Action
	Event  Event
}

const changeTopic event_bus.EventType = "calendar.change"

// Notifier fans calendar changes out to in-process listeners. Listeners run in
// subscription order; a failing listener is logged and does not stop the rest.
type Notifier struct {
	bus *event_bus.EventBus
}

func NewNotifier(bus *event_bus.EventBus) *Notifier {
	return &Notifier{bus: bus}
}

// Subscribe registers listener and returns a function that removes it.
func (n *Notifier) Subscribe(listener func(Change)) func() {
	return event_bus.SubscribeTyped(n.bus, changeTopic, func(e event_bus.EventT[Change]) error {
		listener(e.Data)
		return nil
	})
}

// SubscribeFamily is Subscribe limited to changes of one family's events.
func (n *Notifier) SubscribeFamily(familyId string, listener func(Change)) func() {
	return n.Subscribe(func(c Change) {
		if c.Event.FamilyId == familyId {
			listener(c)
		}
	})
}

// Publish runs after the store write has been acknowledged, so it must not be
// cut short by the caller's cancellation.
func (n *Notifier) Publish(ctx context.Context, action Action, event Event) {
	ctx = context.WithoutCancel(ctx)

	if err := n.bus.Publish(event_bus.NewEvent(ctx, changeTopic, Change{Action: action, Event: event})); err != nil {
		log.WithError(err).Warnf("Calendar listener failed for %s of %s", action, event.UniversalId)
	}

	payload := event_bus.CalendarEventChanged{
		Action:      string(action),
		StorageId:   event.StorageId,
		UniversalId: event.UniversalId,
		OwnerId:     event.OwnerId,
		FamilyId:    event.FamilyId,
		Title:       event.Title,
		StartAt:     event.StartAt,
		EndAt:       event.EndAt,
	}
	for _, topic := range []event_bus.EventType{event_bus.CalendarRefresh, actionTopic(action)} {
		if err := n.bus.Publish(event_bus.NewEvent(ctx, topic, payload)); err != nil {
			log.WithError(err).Warnf("Subscriber of %s failed", topic)
		}
	}
}

func actionTopic(action Action) event_bus.EventType {
	switch action {
	case ActionAdd:
		return event_bus.CalendarEventAdded
	case ActionUpdate:
		return event_bus.CalendarEventUpdated
	default:
		return event_bus.CalendarEventDeleted
	}
}
