package school

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEntry = 1000

// Occurrence is a single concrete instance of an Entry.
type Occurrence struct {
	Entry Entry
	Start time.Time
	End   time.Time
}

// Expand turns entries into the occurrences overlapping [from, to]. Recurring
// entries are expanded with their RRULE minus EXDATEs; an unreadable RRULE
// keeps only the first instance.
func Expand(entries []Entry, from, to time.Time) []Occurrence {
	occurrences := make([]Occurrence, 0, len(entries))
	for _, entry := range entries {
		duration := entry.End.Sub(entry.Start)

		if entry.RRule == "" {
			if overlaps(entry.Start, entry.End, from, to) {
				occurrences = append(occurrences, Occurrence{Entry: entry, Start: entry.Start, End: entry.End})
			}
			continue
		}

		rule, err := rrule.StrToRRule(entry.RRule)
		if err != nil {
			log.WithError(err).Warnf("Unreadable RRULE %q on %s", entry.RRule, entry.UID)
			if overlaps(entry.Start, entry.End, from, to) {
				occurrences = append(occurrences, Occurrence{Entry: entry, Start: entry.Start, End: entry.End})
			}
			continue
		}
		rule.DTStart(entry.Start)

		var set rrule.Set
		set.RRule(rule)
		for _, ex := range entry.ExDates {
			set.ExDate(ex.In(entry.Start.Location()))
		}

		starts := set.Between(from.Add(-duration), to, true)
		if len(starts) > maxOccurrencesPerEntry {
			log.Warnf("Recurring school event %s truncated to %d occurrences", entry.UID, maxOccurrencesPerEntry)
			starts = starts[:maxOccurrencesPerEntry]
		}
		for _, start := range starts {
			end := start.Add(duration)
			if overlaps(start, end, from, to) {
				occurrences = append(occurrences, Occurrence{Entry: entry, Start: start, End: end})
			}
		}
	}
	return occurrences
}

func overlaps(start, end, from, to time.Time) bool {
	return !start.After(to) && !end.Before(from)
}
