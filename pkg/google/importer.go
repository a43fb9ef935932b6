package google

import (
	"context"
	"fmt"
	"time"

	"github.com/familyhub/famcal/pkg/calendar"
	log "github.com/sirupsen/logrus"
)

// Source is a Google calendar synced into an owner's calendar.
type Source struct {
	CalendarId   string
	OwnerId      string
	FamilyId     string
	RefreshToken string
}

type Importer struct {
	service Service
	events  calendar.Adder
}

func NewImporter(service Service, events calendar.Adder) *Importer {
	return &Importer{service: service, events: events}
}

// Import copies the calendar's events in [from, to) into the owner's calendar.
// Cancelled Google events are skipped.
func (i *Importer) Import(ctx context.Context, source Source, from, to time.Time) (calendar.ImportResult, error) {
	cal, err := i.service.GetCalendar(ctx, source.RefreshToken, source.CalendarId)
	if err != nil {
		return calendar.ImportResult{}, err
	}
	items, err := cal.GetEvents(ctx, from, to)
	if err != nil {
		return calendar.ImportResult{}, fmt.Errorf("failed to sync Google calendar %s: %w", source.CalendarId, err)
	}

	raws := make([]calendar.RawEvent, 0, len(items))
	for _, item := range items {
		if item.Status == "cancelled" {
			continue
		}
		raws = append(raws, RawFromGoogle(item))
	}

	result := calendar.AddAll(ctx, i.events, raws, source.OwnerId, source.FamilyId)
	log.Infof("Google calendar %s synced for %s: %d added, %d duplicates, %d failed",
		source.CalendarId, source.OwnerId, result.Added, result.Duplicates, result.Failed)
	return result, nil
}
