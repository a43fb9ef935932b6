package app

import (
	"context"

	"github.com/familyhub/famcal/internal/config"
	"github.com/familyhub/famcal/pkg/google"
	"github.com/familyhub/famcal/pkg/school"
	log "github.com/sirupsen/logrus"
)

// SyncCalendars imports every configured school feed and Google calendar.
// A failing source is logged and does not stop the others.
func (d *Dependencies) SyncCalendars(ctx context.Context, cfg config.Sync) {
	for _, feed := range cfg.School {
		if ctx.Err() != nil {
			return
		}
		_, err := d.SchoolImporter.Import(ctx, school.Feed{
			Id:        feed.Id,
			Url:       feed.Url,
			OwnerId:   feed.OwnerId,
			FamilyId:  feed.FamilyId,
			ChildName: feed.ChildName,
		})
		if err != nil {
			log.WithError(err).Errorf("Failed to import school feed %s", feed.Id)
		}
	}

	from := d.Clock.Now()
	to := from.AddDate(0, 0, cfg.HorizonDays)
	for _, gc := range cfg.Google {
		if ctx.Err() != nil {
			return
		}
		_, err := d.GoogleImporter.Import(ctx, google.Source{
			CalendarId:   gc.CalendarId,
			OwnerId:      gc.OwnerId,
			FamilyId:     gc.FamilyId,
			RefreshToken: gc.RefreshToken,
		}, from, to)
		if err != nil {
			log.WithError(err).Errorf("Failed to sync Google calendar %s", gc.CalendarId)
		}
	}
}

// DrainRecovery replays the writes queued while the store was unreachable.
func (d *Dependencies) DrainRecovery(ctx context.Context) {
	result, err := d.RecoveryQueue.Drain(ctx, d.CalendarRepository.Replay)
	if err != nil {
		log.WithError(err).Warn("Recovery drain interrupted")
		return
	}
	if result.Recovered+result.StillFailing+result.DeadLettered > 0 {
		log.Infof("Recovery drain: %d recovered, %d still failing, %d dead-lettered",
			result.Recovered, result.StillFailing, result.DeadLettered)
	}
}
