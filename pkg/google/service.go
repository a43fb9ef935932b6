package google

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type CalendarItem struct {
	ID      string
	Summary string
}

type Service interface {
	GetCalendar(ctx context.Context, refreshToken string, calendarId string) (*Calendar, error)
	ListCalendars(ctx context.Context, refreshToken string) ([]CalendarItem, error)
}

type ServiceImpl struct {
	auth    *Auth
	options []option.ClientOption
}

// NewService returns a Service authenticating through auth. Extra client
// options are appended to every Google client it creates.
func NewService(auth *Auth, opts ...option.ClientOption) *ServiceImpl {
	return &ServiceImpl{auth: auth, options: opts}
}

func (s *ServiceImpl) GetCalendar(ctx context.Context, refreshToken string, calendarId string) (*Calendar, error) {
	service, err := s.prepareGoogleService(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return NewCalendar(service, calendarId), nil
}

func (s *ServiceImpl) ListCalendars(ctx context.Context, refreshToken string) ([]CalendarItem, error) {
	googleService, err := s.prepareGoogleService(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	calendars, err := googleService.CalendarList.List().Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to retrieve calendars from Google Calendar: %v", err)
		log.Error(err)
		return nil, err
	}
	googleCalendars := make([]CalendarItem, 0, len(calendars.Items))
	for _, cal := range calendars.Items {
		googleCalendars = append(googleCalendars, CalendarItem{
			ID:      cal.Id,
			Summary: cal.Summary,
		})
	}
	return googleCalendars, nil
}

func (s *ServiceImpl) prepareGoogleService(ctx context.Context, refreshToken string) (*gcal.Service, error) {
	opts := s.options
	if s.auth != nil {
		client, err := s.auth.Client(ctx, refreshToken)
		if err != nil {
			log.Debug("user is unauthenticated, authentication is required")
			return nil, err
		}
		opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	}
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		err := fmt.Errorf("unable to retrieve Calendar client: %v", err)
		log.Error(err)
		return nil, err
	}
	return service, nil
}
