package app

import (
	"github.com/familyhub/famcal/internal/config"
	"github.com/familyhub/famcal/internal/event_bus"
	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/calendar"
	"github.com/familyhub/famcal/pkg/docstore"
	"github.com/familyhub/famcal/pkg/google"
	"github.com/familyhub/famcal/pkg/recovery"
	"github.com/familyhub/famcal/pkg/school"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock utils.Clock
	Bus   *event_bus.EventBus

	Store         docstore.Store
	RecoveryQueue *recovery.Queue

	CalendarNotifier   *calendar.Notifier
	CalendarRepository *calendar.RepositoryImpl
	CalendarService    *calendar.Service
	CalendarHandler    *calendar.Handler

	RecoveryHandler *recovery.Handler

	SchoolImporter *school.Importer

	GoogleAuth     *google.Auth
	GoogleService  google.Service
	GoogleImporter *google.Importer
	GoogleHandler  *google.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(store docstore.Store, queue *recovery.Queue, clock utils.Clock, cfg config.Application) *Dependencies {
	deps := &Dependencies{Clock: clock, Store: store, RecoveryQueue: queue}
	location := cfg.Calendar.Location()

	deps.Bus = event_bus.NewEventBus()
	deps.CalendarNotifier = calendar.NewNotifier(deps.Bus)

	normalizer := calendar.NewNormalizer(clock, location)
	deps.CalendarRepository = calendar.NewRepository(store, normalizer, deps.CalendarNotifier, queue, clock, calendar.Options{
		Collection:     cfg.Store.Collection,
		MaxRetries:     cfg.Store.MaxRetries,
		RetryBaseDelay: cfg.Store.RetryBaseDelay,
	})
	deps.CalendarService = calendar.NewService(deps.CalendarRepository, clock, cfg.Calendar.ListPastDays, cfg.Calendar.ListFutureDays)
	deps.CalendarHandler = calendar.NewHandler(deps.CalendarService)

	deps.RecoveryHandler = recovery.NewHandler(queue, deps.CalendarRepository.Replay)

	deps.SchoolImporter = school.NewImporter(nil, deps.CalendarRepository, clock, location, cfg.Sync.HorizonDays)

	deps.GoogleAuth = google.NewAuth(cfg.Google)
	deps.GoogleService = google.NewService(deps.GoogleAuth)
	deps.GoogleImporter = google.NewImporter(deps.GoogleService, deps.CalendarRepository)
	deps.GoogleHandler = google.NewHandler(deps.GoogleService, refreshTokens(cfg.Sync.Google))

	return deps
}

// refreshTokens resolves the configured Google refresh token of a user.
func refreshTokens(calendars []config.GoogleCalendar) google.TokenLookup {
	tokens := make(map[string]string, len(calendars))
	for _, c := range calendars {
		if c.RefreshToken != "" {
			tokens[c.OwnerId] = c.RefreshToken
		}
	}
	return func(ownerId string) string {
		return tokens[ownerId]
	}
}
