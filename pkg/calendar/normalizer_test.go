package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/familyhub/famcal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func newTestNormalizer() (*Normalizer, *utils.MockClock) {
	clock := &utils.MockClock{FixedNow: testNow}
	return NewNormalizer(clock, time.UTC), clock
}

func TestNormalize_Defaults(t *testing.T) {
	n, _ := newTestNormalizer()

	event := n.Normalize(RawEvent{})

	assert.Equal(t, DefaultTitle, event.Title)
	assert.True(t, strings.HasPrefix(event.UniversalId, "event-"))
	assert.Empty(t, event.StorageId)
	assert.Equal(t, testNow, event.StartAt)
	assert.Equal(t, testNow.Add(time.Hour), event.EndAt)
	assert.Equal(t, CategoryGeneral, event.Category)
	assert.Equal(t, SourceManual, event.Source)
	assert.Equal(t, testNow, event.CreatedAt)
	assert.Equal(t, testNow, event.UpdatedAt)
	assert.NotNil(t, event.Attendees)
	assert.Empty(t, event.Attendees)
	assert.NotNil(t, event.Documents)
	assert.Nil(t, event.Child)
	assert.True(t, strings.HasPrefix(event.Signature, "sig-"))
}

func TestNormalize_StartResolution(t *testing.T) {
	explicit := time.Date(2025, 6, 3, 8, 15, 0, 0, time.UTC)
	tests := []struct {
		name     string
		raw      RawEvent
		expected time.Time
	}{
		{"typed startAt", RawEvent{"startAt": explicit}, explicit},
		{"typed date", RawEvent{"date": &explicit}, explicit},
		{"typed wins over strings", RawEvent{"dateObj": explicit, "dateTime": "2025-01-01T00:00:00Z"}, explicit},
		{"nested dateTime", RawEvent{"start": map[string]any{"dateTime": "2025-06-01T10:00:00-04:00"}},
			time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)},
		{"nested all-day date", RawEvent{"start": map[string]any{"date": "2025-06-01"}},
			time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"dateTime string", RawEvent{"dateTime": "2025-06-01T10:00:00Z"},
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"zone-less dateTime uses configured zone", RawEvent{"dateTime": "2025-06-01T10:30"},
			time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)},
		{"date-only anchored at noon", RawEvent{"date": "2025-06-01"},
			time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{"fractional seconds truncated to milliseconds", RawEvent{"startAt": "2025-06-01T10:00:00.123456Z"},
			time.Date(2025, 6, 1, 10, 0, 0, 123000000, time.UTC)},
		{"unparseable falls back to now", RawEvent{"date": "next tuesday-ish"}, testNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer()
			assert.Equal(t, tt.expected, n.Normalize(tt.raw).StartAt)
		})
	}
}

func TestNormalize_ResolveStartReportsFallback(t *testing.T) {
	n, _ := newTestNormalizer()

	_, ok := n.resolveStart(RawEvent{"date": "garbage"})
	assert.False(t, ok)

	_, ok = n.resolveStart(RawEvent{"date": "2025-06-01"})
	assert.True(t, ok)
}

func TestNormalize_DateOnlyInOtherZoneStaysOnDay(t *testing.T) {
	zone := time.FixedZone("UTC-7", -7*60*60)
	n := NewNormalizer(&utils.MockClock{FixedNow: testNow}, zone)

	event := n.Normalize(RawEvent{"date": "2025-06-01"})

	assert.Equal(t, time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC), event.StartAt)
	assert.Equal(t, "2025-06-01", event.StartAt.Format(time.DateOnly))
}

func TestNormalize_EndResolution(t *testing.T) {
	start := "2025-06-01T10:00:00Z"
	startAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		raw      RawEvent
		expected time.Time
	}{
		{"default one hour", RawEvent{"dateTime": start}, startAt.Add(time.Hour)},
		{"nested end", RawEvent{"dateTime": start, "end": map[string]any{"dateTime": "2025-06-01T12:00:00Z"}},
			startAt.Add(2 * time.Hour)},
		{"endDateTime string", RawEvent{"dateTime": start, "endDateTime": "2025-06-01T10:45:00Z"},
			startAt.Add(45 * time.Minute)},
		{"typed endAt", RawEvent{"dateTime": start, "endAt": startAt.Add(3 * time.Hour)}, startAt.Add(3 * time.Hour)},
		{"end before start replaced", RawEvent{"dateTime": start, "endAt": "2025-06-01T09:00:00Z"},
			startAt.Add(time.Hour)},
		{"unparseable end replaced", RawEvent{"dateTime": start, "endAt": "later"}, startAt.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer()
			event := n.Normalize(tt.raw)
			assert.Equal(t, tt.expected, event.EndAt)
			assert.False(t, event.EndAt.Before(event.StartAt))
		})
	}
}

func TestNormalize_Fields(t *testing.T) {
	n, _ := newTestNormalizer()

	event := n.Normalize(RawEvent{
		"id":          "event-42",
		"firestoreId": "doc-42",
		"summary":     "  Soccer practice  ",
		"description": "Bring cleats",
		"location":    "Field 3",
		"date":        "2025-06-01",
		"userId":      "user-1",
		"familyId":    "family-1",
		"childName":   "Emma",
		"attendees":   "Mom, Dad , ",
		"documents":   []string{"doc-a"},
		"extraDetails": map[string]any{
			"creationSource": SourceChat,
		},
	})

	assert.Equal(t, "event-42", event.UniversalId)
	assert.Equal(t, "doc-42", event.StorageId)
	assert.Equal(t, "Soccer practice", event.Title)
	assert.Equal(t, "Bring cleats", event.Description)
	assert.Equal(t, "Field 3", event.Location)
	assert.Equal(t, CategoryActivity, event.Category)
	assert.Equal(t, "user-1", event.OwnerId)
	assert.Equal(t, "family-1", event.FamilyId)
	require.NotNil(t, event.Child)
	assert.Equal(t, "Emma", event.Child.ChildName)
	assert.Equal(t, []Attendee{
		{Id: "Mom", Name: "Mom", Role: DefaultRole},
		{Id: "Dad", Name: "Dad", Role: DefaultRole},
	}, event.Attendees)
	assert.Equal(t, []any{"doc-a"}, event.Documents)
	assert.Equal(t, SourceChat, event.Source)
	assert.Equal(t, Signature("Soccer practice", event.StartAt, "Emma", CategoryActivity), event.Signature)
}

func TestNormalize_AttendeeShapes(t *testing.T) {
	n, _ := newTestNormalizer()

	event := n.Normalize(RawEvent{
		"attendees": []any{
			"Grandma",
			map[string]any{"id": "u-2", "name": "Sam", "role": "parent"},
			map[string]any{"name": "Alex"},
			map[string]any{},
			42,
		},
	})

	assert.Equal(t, []Attendee{
		{Id: "Grandma", Name: "Grandma", Role: DefaultRole},
		{Id: "u-2", Name: "Sam", Role: "parent"},
		{Id: "Alex", Name: "Alex", Role: DefaultRole},
	}, event.Attendees)
}

func TestNormalize_ChildIdPreferredForSignature(t *testing.T) {
	n, _ := newTestNormalizer()
	withId := n.Normalize(RawEvent{"title": "Recital", "date": "2025-06-01",
		"childRef": map[string]any{"childId": "c-1", "childName": "Emma"}})
	sameIdOtherName := n.Normalize(RawEvent{"title": "Recital", "date": "2025-06-01",
		"childRef": map[string]any{"childId": "c-1", "childName": "Em"}})

	assert.Equal(t, withId.Signature, sameIdOtherName.Signature)
}

func TestNormalize_Idempotent(t *testing.T) {
	n, clock := newTestNormalizer()

	inputs := []RawEvent{
		{},
		{"title": "Dr. Smith checkup", "date": "2025-06-01"},
		{"title": "Weird", "category": "spaceflight", "date": "not a date"},
		{
			"title":     "Piano recital",
			"start":     map[string]any{"dateTime": "2025-06-01T18:00:00+02:00"},
			"end":       map[string]any{"dateTime": "2025-06-01T17:00:00+02:00"},
			"childId":   "c-9",
			"attendees": []any{"Mom", map[string]any{"name": "Dad", "role": "parent"}},
			"documents": []any{"doc-1", map[string]any{"url": "https://example.com/program.pdf"}},
			"source":    SourceGoogleSync,
			"ownerId":   "user-1",
			"familyId":  "family-1",
		},
		{
			"title":        "Dr. Smith checkup",
			"date":         "2025-06-01",
			"eventType":    "appointment",
			"notes":        "Bring the vaccination card",
			"doctorName":   "Dr. Smith",
			"reminders":    []any{map[string]any{"minutes": float64(30)}},
			"cycleNumber":  float64(3),
			"extraDetails": map[string]any{"creationSource": SourceChat, "confidence": 0.9},
		},
	}
	for _, raw := range inputs {
		once := n.Normalize(raw)
		clock.Advance(time.Minute)
		twice := n.Normalize(once.Raw())
		assert.Equal(t, once, twice)

		stored := n.Normalize(RawEvent(document(once)))
		assert.Equal(t, once, stored)
	}
}

func TestNormalize_KeepsUninterpretedFields(t *testing.T) {
	n, _ := newTestNormalizer()

	event := n.Normalize(RawEvent{
		"title":        "Dr. Smith checkup",
		"date":         "2025-06-01",
		"notes":        "Bring the vaccination card",
		"doctorName":   "Dr. Smith",
		"reminders":    []any{"1d", "1h"},
		"extraDetails": map[string]any{"creationSource": SourceChat},
		"empty":        nil,
		"ownerId":      "user-1",
		"_normalized":  true,
	})

	assert.Equal(t, map[string]any{
		"notes":        "Bring the vaccination card",
		"doctorName":   "Dr. Smith",
		"reminders":    []any{"1d", "1h"},
		"extraDetails": map[string]any{"creationSource": SourceChat},
	}, event.Extra)
	assert.Equal(t, SourceChat, event.Source)

	raw := event.Raw()
	assert.Equal(t, "Dr. Smith", raw["doctorName"])
	assert.Equal(t, "Dr. Smith checkup", raw["title"])

	doc := document(event)
	assert.Equal(t, "Bring the vaccination card", doc["notes"])
	assert.NotContains(t, doc, "empty")
}

func TestNormalize_ExtraCannotShadowCanonicalFields(t *testing.T) {
	n, _ := newTestNormalizer()
	event := n.Normalize(RawEvent{"title": "Dentist", "date": "2025-06-01"})
	event.Extra = map[string]any{"title": "Hijack", "notes": "kept"}

	raw := event.Raw()

	assert.Equal(t, "Dentist", raw["title"])
	assert.Equal(t, "kept", raw["notes"])
}

func TestMergePatch(t *testing.T) {
	n, _ := newTestNormalizer()
	existing := n.Normalize(RawEvent{
		"universalId": "event-1",
		"storageId":   "doc-1",
		"title":       "Dentist",
		"startAt":     "2025-06-01T10:00:00Z",
		"endAt":       "2025-06-01T11:30:00Z",
		"ownerId":     "user-1",
		"familyId":    "family-1",
	})

	t.Run("moving start keeps duration", func(t *testing.T) {
		merged := n.Normalize(mergePatch(n, existing, RawEvent{"startAt": "2025-06-02T15:00:00Z"}))
		assert.Equal(t, time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC), merged.StartAt)
		assert.Equal(t, time.Date(2025, 6, 2, 16, 30, 0, 0, time.UTC), merged.EndAt)
	})

	t.Run("start and end both patched", func(t *testing.T) {
		merged := n.Normalize(mergePatch(n, existing, RawEvent{
			"date":        "2025-06-03T09:00:00Z",
			"endDateTime": "2025-06-03T09:20:00Z",
		}))
		assert.Equal(t, 20*time.Minute, merged.Duration())
	})

	t.Run("unparseable start keeps previous times", func(t *testing.T) {
		merged := n.Normalize(mergePatch(n, existing, RawEvent{"date": "whenever"}))
		assert.Equal(t, existing.StartAt, merged.StartAt)
		assert.Equal(t, existing.EndAt, merged.EndAt)
	})

	t.Run("uninterpreted fields can be added and cleared", func(t *testing.T) {
		withNotes := n.Normalize(mergePatch(n, existing, RawEvent{"notes": "Fasting"}))
		assert.Equal(t, map[string]any{"notes": "Fasting"}, withNotes.Extra)

		cleared := n.Normalize(mergePatch(n, withNotes, RawEvent{"notes": nil}))
		assert.Nil(t, cleared.Extra)
	})

	t.Run("protected fields are ignored", func(t *testing.T) {
		merged := n.Normalize(mergePatch(n, existing, RawEvent{
			"universalId": "hijack",
			"ownerId":     "user-2",
			"familyId":    "family-2",
			"title":       "Orthodontist",
		}))
		assert.Equal(t, "event-1", merged.UniversalId)
		assert.Equal(t, "user-1", merged.OwnerId)
		assert.Equal(t, "family-1", merged.FamilyId)
		assert.Equal(t, "Orthodontist", merged.Title)
		assert.Equal(t, existing.StartAt, merged.StartAt)
	})
}
