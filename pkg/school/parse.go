package school

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	log "github.com/sirupsen/logrus"
)

// Entry is one VEVENT of a feed, before recurrence expansion.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	TimeZone    string
	RRule       string
	ExDates     []time.Time
}

// ParseFeed reads an iCalendar payload. VEVENTs that cannot be read are
// logged and skipped.
func ParseFeed(body []byte, loc *time.Location) ([]Entry, error) {
	if len(body) == 0 {
		return nil, errors.New("empty iCal body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0)
	for _, ve := range cal.Events() {
		entry, err := parseEvent(ve, loc)
		if err != nil {
			log.WithError(err).Warn("Skipping unreadable school event")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseEvent(ve *ical.VEvent, loc *time.Location) (Entry, error) {
	var entry Entry

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		entry.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		entry.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		entry.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		entry.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return entry, errors.New("missing DTSTART")
	}
	entry.AllDay = isDate(dtStart)
	if tz, ok := dtStart.ICalParameters["TZID"]; ok && len(tz) > 0 {
		entry.TimeZone = tz[0]
	}

	if entry.AllDay {
		start, err := time.ParseInLocation("20060102", strings.TrimSpace(dtStart.Value), loc)
		if err != nil {
			return entry, err
		}
		entry.Start = start
		entry.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := time.ParseInLocation("20060102", strings.TrimSpace(dtEnd.Value), loc); err == nil && end.After(start) {
				entry.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return entry, err
		}
		entry.Start = start
		entry.End = start.Add(time.Hour)
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			entry.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		entry.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICalTime(part, entry.Start.Location()); err == nil {
				entry.ExDates = append(entry.ExDates, t)
			}
		}
	}
	return entry, nil
}

func isDate(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseICalTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
