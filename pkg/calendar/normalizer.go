package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/familyhub/famcal/internal/utils"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var protectedFields = map[string]bool{
	"universalId": true,
	"id":          true,
	"storageId":   true,
	"firestoreId": true,
	"ownerId":     true,
	"userId":      true,
	"familyId":    true,
	"signature":   true,
	"createdAt":   true,
	"updatedAt":   true,
}

// interpretedFields are read by Normalize; every other non-nil field is
// carried in Event.Extra.
var interpretedFields = map[string]bool{
	"title": true, "summary": true, "description": true, "location": true,
	"startAt": true, "dateObj": true, "date": true, "dateTime": true, "start": true,
	"endAt": true, "dateEndObj": true, "end": true, "endDateTime": true,
	"category": true, "attendees": true, "childRef": true, "childId": true,
	"childName": true, "documents": true, "providers": true, "source": true,
	"_normalized": true, "_standardized": true,
}

var (
	startFields = []string{"startAt", "dateObj", "date", "dateTime", "start"}
	endFields   = []string{"endAt", "dateEndObj", "end", "endDateTime"}
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var dateOnlyLayouts = []string{
	time.DateOnly,
	"01/02/2006",
}

// Normalizer turns raw events into canonical ones. It never fails: anything it
// cannot parse falls back to a default.
type Normalizer struct {
	clock    utils.Clock
	location *time.Location
	newId    func() string
}

// NewNormalizer returns a Normalizer that interprets zone-less times in location.
func NewNormalizer(clock utils.Clock, location *time.Location) *Normalizer {
	if location == nil {
		location = time.Local
	}
	return &Normalizer{
		clock:    clock,
		location: location,
		newId: func() string {
			return "event-" + uuid.NewString()
		},
	}
}

func (n *Normalizer) Normalize(raw RawEvent) Event {
	start, _ := n.resolveStart(raw)
	end := n.resolveEnd(raw, start)

	title := strings.TrimSpace(stringField(raw, "title", "summary"))
	if title == "" {
		title = DefaultTitle
	}

	universalId := stringField(raw, "universalId", "id")
	if universalId == "" {
		universalId = n.newId()
	}

	event := Event{
		UniversalId: universalId,
		StorageId:   stringField(raw, "storageId", "firestoreId"),
		Title:       title,
		Description: stringField(raw, "description"),
		Location:    stringField(raw, "location"),
		StartAt:     start,
		EndAt:       end,
		Category:    ResolveCategory(stringField(raw, "category", "eventType"), title),
		OwnerId:     stringField(raw, "ownerId", "userId"),
		FamilyId:    stringField(raw, "familyId"),
		Attendees:   attendees(raw["attendees"]),
		Child:       childRef(raw),
		Documents:   references(raw["documents"]),
		Providers:   references(raw["providers"]),
		Source:      source(raw),
		Extra:       extra(raw),
		CreatedAt:   n.timestamp(raw["createdAt"]),
		UpdatedAt:   n.timestamp(raw["updatedAt"]),
	}
	event.Signature = Signature(event.Title, event.StartAt, event.childKey(), event.Category)
	return event
}

// resolveStart reports false when no start could be parsed and the current
// time was used instead.
func (n *Normalizer) resolveStart(raw RawEvent) (time.Time, bool) {
	for _, k := range []string{"startAt", "dateObj", "date", "dateTime"} {
		if t, ok := timeValue(raw[k]); ok {
			return canonical(t), true
		}
	}
	if t, ok := n.nestedTime(raw["start"]); ok {
		return t, true
	}
	for _, k := range []string{"startAt", "dateTime", "date"} {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			if t, err := n.parse(s, n.location); err == nil {
				return t, true
			}
			log.Debugf("Unparseable %s %q, trying next field", k, s)
		}
	}
	return canonical(n.clock.Now()), false
}

func (n *Normalizer) resolveEnd(raw RawEvent, start time.Time) time.Time {
	end, ok := n.explicitEnd(raw)
	if !ok || end.Before(start) {
		return start.Add(DefaultDuration)
	}
	return end
}

func (n *Normalizer) explicitEnd(raw RawEvent) (time.Time, bool) {
	for _, k := range []string{"endAt", "dateEndObj"} {
		if t, ok := timeValue(raw[k]); ok {
			return canonical(t), true
		}
	}
	if t, ok := n.nestedTime(raw["end"]); ok {
		return t, true
	}
	for _, k := range []string{"endAt", "endDateTime"} {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			if t, err := n.parse(s, n.location); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// nestedTime reads the {dateTime, date, timeZone} shape used by calendar APIs.
func (n *Normalizer) nestedTime(v any) (time.Time, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	loc := n.location
	if tz, ok := m["timeZone"].(string); ok && tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	for _, k := range []string{"dateTime", "date"} {
		if t, ok := timeValue(m[k]); ok {
			return canonical(t), true
		}
		if s, ok := m[k].(string); ok && s != "" {
			if t, err := n.parse(s, loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parse accepts ISO-8601 with or without a zone and bare dates. Bare dates are
// anchored at noon so they stay on the same day in every nearby zone.
func (n *Normalizer) parse(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return canonical(t), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return canonical(t), nil
		}
	}
	for _, layout := range dateOnlyLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return canonical(t.Add(12 * time.Hour)), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func (n *Normalizer) timestamp(v any) time.Time {
	if t, ok := timeValue(v); ok {
		return canonical(t)
	}
	if s, ok := v.(string); ok && s != "" {
		if t, err := n.parse(s, n.location); err == nil {
			return t
		}
	}
	return canonical(n.clock.Now())
}

// canonical is the single representation every stored instant uses.
func canonical(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

func stringField(raw RawEvent, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extra(raw RawEvent) map[string]any {
	var result map[string]any
	for k, v := range raw {
		if v == nil || protectedFields[k] || interpretedFields[k] {
			continue
		}
		if result == nil {
			result = make(map[string]any)
		}
		result[k] = v
	}
	return result
}

func source(raw RawEvent) string {
	if s := stringField(raw, "source"); s != "" {
		return s
	}
	if extra, ok := raw["extraDetails"].(map[string]any); ok {
		if s, ok := extra["creationSource"].(string); ok && s != "" {
			return s
		}
	}
	return SourceManual
}

func childRef(raw RawEvent) *ChildRef {
	var ref ChildRef
	switch c := raw["childRef"].(type) {
	case map[string]any:
		ref.ChildId, _ = c["childId"].(string)
		ref.ChildName, _ = c["childName"].(string)
	case ChildRef:
		ref = c
	case *ChildRef:
		if c != nil {
			ref = *c
		}
	}
	if ref.ChildId == "" {
		ref.ChildId = stringField(raw, "childId")
	}
	if ref.ChildName == "" {
		ref.ChildName = stringField(raw, "childName")
	}
	if ref.ChildId == "" && ref.ChildName == "" {
		return nil
	}
	return &ref
}

// attendees accepts lists of names, attendee maps, typed attendees, or a
// single comma separated string.
func attendees(v any) []Attendee {
	result := []Attendee{}
	add := func(a Attendee) {
		if a.Id == "" {
			a.Id = a.Name
		}
		if a.Name == "" {
			a.Name = a.Id
		}
		if a.Id == "" {
			return
		}
		if a.Role == "" {
			a.Role = DefaultRole
		}
		result = append(result, a)
	}
	fromAny := func(item any) {
		switch a := item.(type) {
		case string:
			name := strings.TrimSpace(a)
			add(Attendee{Id: name, Name: name})
		case map[string]any:
			id, _ := a["id"].(string)
			name, _ := a["name"].(string)
			role, _ := a["role"].(string)
			add(Attendee{Id: strings.TrimSpace(id), Name: strings.TrimSpace(name), Role: role})
		case Attendee:
			add(a)
		}
	}

	switch list := v.(type) {
	case string:
		for _, part := range strings.Split(list, ",") {
			fromAny(part)
		}
	case []string:
		for _, item := range list {
			fromAny(item)
		}
	case []Attendee:
		for _, item := range list {
			fromAny(item)
		}
	case []map[string]any:
		for _, item := range list {
			fromAny(item)
		}
	case []any:
		for _, item := range list {
			fromAny(item)
		}
	}
	return result
}

func references(v any) []any {
	result := []any{}
	switch list := v.(type) {
	case []any:
		result = append(result, list...)
	case []string:
		for _, s := range list {
			result = append(result, s)
		}
	}
	return result
}

func mergePatch(n *Normalizer, existing Event, patch RawEvent) RawEvent {
	merged := existing.Raw()
	touchesStart := hasAny(patch, startFields)
	touchesEnd := hasAny(patch, endFields)
	if touchesStart {
		for _, k := range startFields {
			delete(merged, k)
		}
	}
	if touchesEnd {
		for _, k := range endFields {
			delete(merged, k)
		}
	}
	for k, v := range patch {
		if protectedFields[k] {
			continue
		}
		merged[k] = v
	}

	if touchesStart {
		newStart, ok := n.resolveStart(patch)
		if !ok {
			log.Warnf("Update for event %s carries an unparseable start, keeping the previous one", existing.UniversalId)
			newStart = existing.StartAt
			merged["startAt"] = newStart
		}
		if !touchesEnd {
			merged["endAt"] = newStart.Add(existing.Duration())
		}
	}
	return merged
}

func hasAny(raw RawEvent, keys []string) bool {
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}
