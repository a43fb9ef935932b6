package google

import (
	"context"
	"fmt"
	"time"

	"github.com/familyhub/famcal/pkg/calendar"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
)

// Calendar reads events from one Google calendar.
type Calendar struct {
	service    *gcal.Service
	calendarId string
}

func NewCalendar(service *gcal.Service, calendarId string) *Calendar {
	return &Calendar{service: service, calendarId: calendarId}
}

// GetEvents lists single instances in [from, to), following every page.
func (c *Calendar) GetEvents(ctx context.Context, from time.Time, to time.Time) ([]*gcal.Event, error) {
	var items []*gcal.Event
	pageToken := ""
	for {
		call := c.service.Events.List(c.calendarId).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			err := fmt.Errorf("unable to retrieve events from Google Calendar: %v", err)
			log.Error(err)
			return nil, err
		}
		items = append(items, page.Items...)
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}

// RawFromGoogle maps a Google event onto the raw shape the normalizer reads.
func RawFromGoogle(item *gcal.Event) calendar.RawEvent {
	raw := calendar.RawEvent{
		"title":       item.Summary,
		"description": item.Description,
		"location":    item.Location,
		"source":      calendar.SourceGoogleSync,
		"providers": []any{map[string]any{
			"type":    "google",
			"eventId": item.Id,
			"link":    item.HtmlLink,
		}},
	}
	if start := dateTime(item.Start); start != nil {
		raw["start"] = start
	}
	if end := dateTime(item.End); end != nil {
		raw["end"] = end
	}

	attendees := make([]any, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		name := a.DisplayName
		if name == "" {
			name = a.Email
		}
		role := calendar.DefaultRole
		if a.Organizer {
			role = "organizer"
		}
		attendees = append(attendees, map[string]any{"id": a.Email, "name": name, "role": role})
	}
	raw["attendees"] = attendees
	return raw
}

func dateTime(dt *gcal.EventDateTime) map[string]any {
	if dt == nil {
		return nil
	}
	m := map[string]any{}
	if dt.DateTime != "" {
		m["dateTime"] = dt.DateTime
	}
	if dt.Date != "" {
		m["date"] = dt.Date
	}
	if dt.TimeZone != "" {
		m["timeZone"] = dt.TimeZone
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
