package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/user"
)

// Service scopes repository calls to the user found in the request context.
type Service struct {
	repo       Repository
	clock      utils.Clock
	pastDays   int
	futureDays int
}

func NewService(repo Repository, clock utils.Clock, listPastDays, listFutureDays int) *Service {
	return &Service{
		repo:       repo,
		clock:      clock,
		pastDays:   listPastDays,
		futureDays: listFutureDays,
	}
}

func (s *Service) AddEvent(ctx context.Context, raw RawEvent) (AddResult, error) {
	currentUser, err := user.CurrentUser(ctx)
	if err != nil {
		return AddResult{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.Add(ctx, raw, currentUser.Id, currentUser.FamilyId)
}

// GetEvents lists events in [from, to]. Missing bounds default to a window
// around now.
func (s *Service) GetEvents(ctx context.Context, from, to *time.Time) ([]Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	window := s.window(from, to)
	return s.repo.List(ctx, userId, &window)
}

// GetFamilyEvents is GetEvents across the current user's whole family.
func (s *Service) GetFamilyEvents(ctx context.Context, from, to *time.Time) ([]Event, error) {
	currentUser, err := user.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	window := s.window(from, to)
	return s.repo.ListFamily(ctx, currentUser.FamilyId, &window)
}

func (s *Service) GetCycleEvents(ctx context.Context, cycleNumber int) ([]Event, error) {
	currentUser, err := user.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.ListCycle(ctx, currentUser.FamilyId, cycleNumber)
}

func (s *Service) GetCycleDueDate(ctx context.Context, cycleNumber int) (Event, error) {
	currentUser, err := user.CurrentUser(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.CycleDueDate(ctx, currentUser.FamilyId, cycleNumber)
}

func (s *Service) window(from, to *time.Time) DateRange {
	now := s.clock.Now()
	window := DateRange{
		From: now.AddDate(0, 0, -s.pastDays),
		To:   now.AddDate(0, 0, s.futureDays),
	}
	if from != nil {
		window.From = *from
	}
	if to != nil {
		window.To = *to
	}
	return window
}

func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.Get(ctx, id, userId)
}

func (s *Service) UpdateEvent(ctx context.Context, id string, patch RawEvent) (Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.Update(ctx, id, patch, userId)
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.Delete(ctx, id, userId)
}

func (s *Service) Refresh(ctx context.Context) ([]Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.Refresh(ctx, userId)
}
