package event_bus

import "time"

const (
	// CalendarRefresh is published after every calendar change so views that
	// only need to reload can ignore the action.
	CalendarRefresh      EventType = "calendar.refresh"
	CalendarEventAdded   EventType = "calendar.event.added"
	CalendarEventUpdated EventType = "calendar.event.updated"
	CalendarEventDeleted EventType = "calendar.event.deleted"
)

// CalendarEventChanged is the payload of every calendar.* event.
type CalendarEventChanged struct {
	Action      string
	StorageId   string
	UniversalId string
	OwnerId     string
	FamilyId    string
	Title       string
	StartAt     time.Time
	EndAt       time.Time
}
