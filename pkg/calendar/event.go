package calendar

import (
	"time"

	"github.com/familyhub/famcal/pkg/docstore"
)

type Category string

const (
	CategoryAppointment Category = "appointment"
	CategoryActivity    Category = "activity"
	CategoryBirthday    Category = "birthday"
	CategoryMeeting     Category = "meeting"
	CategoryDateNight   Category = "date-night"
	CategoryTask        Category = "task"
	CategoryGeneral     Category = "general"
)

const (
	SourceManual       = "manual"
	SourceChat         = "chat"
	SourceGoogleSync   = "google-sync"
	SourceSchoolImport = "school-import"
)

const (
	DefaultTitle    = "Untitled Event"
	DefaultRole     = "general"
	DefaultDuration = time.Hour
)

// RawEvent is an event as received from a caller, a sync adapter or the store:
// loosely typed and possibly incomplete. It only becomes an Event through a
// Normalizer.
type RawEvent map[string]any

type Attendee struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type ChildRef struct {
	ChildId   string `json:"childId,omitempty"`
	ChildName string `json:"childName,omitempty"`
}

// Event is the canonical calendar entry.
type Event struct {
	// UniversalId is minted once and survives every update.
	UniversalId string
	// StorageId is the document id in the store; empty until first written.
	StorageId string
	// Signature fingerprints title, day, child and category for duplicate detection.
	Signature string

	Title       string
	Description string
	Location    string

	StartAt time.Time
	EndAt   time.Time

	Category Category

	OwnerId  string
	FamilyId string

	Attendees []Attendee
	Child     *ChildRef
	Documents []any
	Providers []any

	Source string

	// Extra holds caller fields the calendar does not interpret, such as notes
	// or reminders. They are stored and returned unchanged.
	Extra map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateRange is an inclusive time window.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (e Event) Duration() time.Duration {
	return e.EndAt.Sub(e.StartAt)
}

func (e Event) childKey() string {
	if e.Child == nil {
		return ""
	}
	if e.Child.ChildId != "" {
		return e.Child.ChildId
	}
	return e.Child.ChildName
}

func (e Event) overlaps(r DateRange) bool {
	return !e.StartAt.After(r.To) && !e.EndAt.Before(r.From)
}

// Raw converts the event back into its loosely typed form. Normalizing the
// result yields the same event.
func (e Event) Raw() RawEvent {
	attendees := make([]any, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		attendees = append(attendees, map[string]any{"id": a.Id, "name": a.Name, "role": a.Role})
	}

	raw := RawEvent{
		"universalId": e.UniversalId,
		"signature":   e.Signature,
		"title":       e.Title,
		"description": e.Description,
		"location":    e.Location,
		"startAt":     e.StartAt,
		"endAt":       e.EndAt,
		"category":    string(e.Category),
		"ownerId":     e.OwnerId,
		"familyId":    e.FamilyId,
		"attendees":   attendees,
		"documents":   e.Documents,
		"providers":   e.Providers,
		"source":      e.Source,
		"createdAt":   e.CreatedAt,
		"updatedAt":   e.UpdatedAt,
	}
	if e.StorageId != "" {
		raw["storageId"] = e.StorageId
	}
	if e.Child != nil {
		child := map[string]any{}
		if e.Child.ChildId != "" {
			child["childId"] = e.Child.ChildId
		}
		if e.Child.ChildName != "" {
			child["childName"] = e.Child.ChildName
		}
		raw["childRef"] = child
	}
	for k, v := range e.Extra {
		if _, taken := raw[k]; taken || protectedFields[k] || interpretedFields[k] {
			continue
		}
		raw[k] = v
	}
	return raw
}

// storedTimeLayout is fixed width so that text comparisons in store range
// filters order the same way the instants do.
const storedTimeLayout = "2006-01-02T15:04:05.000Z"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// document renders the event for the store. Nil values are dropped; the store
// never receives a field without a value.
func document(e Event) docstore.Document {
	doc := docstore.Document(e.Raw())
	for _, k := range []string{"startAt", "endAt", "createdAt", "updatedAt"} {
		if t, ok := doc[k].(time.Time); ok {
			doc[k] = formatStoredTime(t)
		}
	}
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	return doc
}
