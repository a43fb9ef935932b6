package school

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/familyhub/famcal/internal/event_bus"
	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/calendar"
	"github.com/familyhub/famcal/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFeed = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//Springfield Elementary//EN",
	"BEGIN:VEVENT",
	"UID:field-trip@school",
	"DTSTAMP:20250501T000000Z",
	"DTSTART:20250605T140000Z",
	"DTEND:20250605T170000Z",
	"SUMMARY:Field trip",
	"LOCATION:Science museum",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:no-school@school",
	"DTSTAMP:20250501T000000Z",
	"DTSTART;VALUE=DATE:20250610",
	"DTEND;VALUE=DATE:20250611",
	"SUMMARY:No school",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:practice@school",
	"DTSTAMP:20250501T000000Z",
	"DTSTART:20250602T220000Z",
	"DTEND:20250602T233000Z",
	"RRULE:FREQ=WEEKLY;COUNT=4",
	"EXDATE:20250609T220000Z",
	"SUMMARY:Soccer practice",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func TestParseFeed(t *testing.T) {
	entries, err := ParseFeed([]byte(testFeed), time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	trip := entries[0]
	assert.Equal(t, "field-trip@school", trip.UID)
	assert.Equal(t, "Field trip", trip.Summary)
	assert.Equal(t, "Science museum", trip.Location)
	assert.True(t, trip.Start.Equal(time.Date(2025, 6, 5, 14, 0, 0, 0, time.UTC)))
	assert.True(t, trip.End.Equal(time.Date(2025, 6, 5, 17, 0, 0, 0, time.UTC)))
	assert.False(t, trip.AllDay)

	noSchool := entries[1]
	assert.True(t, noSchool.AllDay)
	assert.True(t, noSchool.Start.Equal(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)))
	assert.True(t, noSchool.End.Equal(time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)))

	practice := entries[2]
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", practice.RRule)
	require.Len(t, practice.ExDates, 1)
	assert.True(t, practice.ExDates[0].Equal(time.Date(2025, 6, 9, 22, 0, 0, 0, time.UTC)))
}

func TestParseFeed_Empty(t *testing.T) {
	_, err := ParseFeed(nil, time.UTC)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	entries, err := ParseFeed([]byte(testFeed), time.UTC)
	require.NoError(t, err)

	occurrences := Expand(entries,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC))

	var practiceStarts []time.Time
	for _, o := range occurrences {
		if o.Entry.UID == "practice@school" {
			practiceStarts = append(practiceStarts, o.Start.UTC())
			assert.Equal(t, 90*time.Minute, o.End.Sub(o.Start))
		}
	}
	assert.Len(t, occurrences, 5)
	assert.Equal(t, []time.Time{
		time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 16, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 23, 22, 0, 0, 0, time.UTC),
	}, practiceStarts)
}

func TestExpand_WindowExcludesOutsideEvents(t *testing.T) {
	entries, err := ParseFeed([]byte(testFeed), time.UTC)
	require.NoError(t, err)

	occurrences := Expand(entries,
		time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC))

	require.Len(t, occurrences, 2)
	assert.Equal(t, "no-school@school", occurrences[0].Entry.UID)
	assert.Equal(t, "practice@school", occurrences[1].Entry.UID)
}

func TestImporter_ImportsOnceAndSkipsDuplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(testFeed))
	}))
	defer server.Close()

	clock := &utils.MockClock{FixedNow: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	store := docstore.NewMemoryStore()
	repo := calendar.NewRepository(store, calendar.NewNormalizer(clock, time.UTC),
		calendar.NewNotifier(event_bus.NewEventBus()), nil, clock, calendar.DefaultOptions())
	importer := NewImporter(server.Client(), repo, clock, time.UTC, 30)
	feed := Feed{Id: "springfield", Url: server.URL, OwnerId: "user-1", FamilyId: "family-1", ChildName: "Bart"}

	first, err := importer.Import(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, calendar.ImportResult{Added: 5}, first)

	second, err := importer.Import(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, calendar.ImportResult{Duplicates: 5}, second)
	assert.Equal(t, 5, store.Count("events"))

	events, err := repo.List(context.Background(), "user-1", nil)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, e := range events {
		assert.Equal(t, calendar.SourceSchoolImport, e.Source)
		require.NotNil(t, e.Child)
		assert.Equal(t, "Bart", e.Child.ChildName)
	}
	assert.Equal(t, "Soccer practice", events[0].Title)
	assert.Equal(t, calendar.CategoryActivity, events[0].Category)
}

func TestImporter_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	clock := &utils.MockClock{FixedNow: time.Now()}
	importer := NewImporter(server.Client(), nil, clock, time.UTC, 30)

	_, err := importer.Import(context.Background(), Feed{Id: "gone", Url: server.URL})
	assert.Error(t, err)
}

func TestImporter_RejectsOversizedFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(testFeed))
	}))
	defer server.Close()

	clock := &utils.MockClock{FixedNow: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	store := docstore.NewMemoryStore()
	repo := calendar.NewRepository(store, calendar.NewNormalizer(clock, time.UTC),
		calendar.NewNotifier(event_bus.NewEventBus()), nil, clock, calendar.DefaultOptions())
	importer := NewImporter(server.Client(), repo, clock, time.UTC, 30)
	importer.maxBytes = int64(len(testFeed) - 1)

	_, err := importer.Import(context.Background(), Feed{Id: "huge", Url: server.URL, OwnerId: "user-1", FamilyId: "family-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than")
	assert.Zero(t, store.Count("events"))

	importer.maxBytes = int64(len(testFeed))
	_, err = importer.Import(context.Background(), Feed{Id: "exact", Url: server.URL, OwnerId: "user-1", FamilyId: "family-1"})
	assert.NoError(t, err)
}
