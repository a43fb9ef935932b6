package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/familyhub/famcal/internal/test_utils"
	"github.com/familyhub/famcal/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ScopesToCurrentUser(t *testing.T) {
	f := setupTestRepository(t)
	service := NewService(f.repo, f.clock, 30, 60)
	ctx := test_utils.WithTestUser(context.Background())

	added, err := service.AddEvent(ctx, RawEvent{"title": "Swim lesson", "date": "2025-06-02"})
	require.NoError(t, err)
	assert.Equal(t, test_utils.TestUserId, added.Event.OwnerId)
	assert.Equal(t, test_utils.TestFamilyId, added.Event.FamilyId)

	_, err = f.repo.Add(context.Background(), RawEvent{"title": "Board meeting", "date": "2025-06-02"}, ownerId, familyId)
	require.NoError(t, err)

	events, err := service.GetEvents(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Swim lesson", events[0].Title)
}

func TestService_DefaultWindow(t *testing.T) {
	f := setupTestRepository(t)
	service := NewService(f.repo, f.clock, 30, 60)
	ctx := test_utils.WithTestUser(context.Background())

	for _, date := range []string{"2025-04-10", "2025-05-01", "2025-07-10", "2025-08-01"} {
		_, err := service.AddEvent(ctx, RawEvent{"title": "Event " + date, "date": date})
		require.NoError(t, err)
	}

	events, err := service.GetEvents(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Event 2025-05-01", events[0].Title)
	assert.Equal(t, "Event 2025-07-10", events[1].Title)

	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	events, err = service.GetEvents(ctx, &from, nil)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestService_RequiresUser(t *testing.T) {
	f := setupTestRepository(t)
	service := NewService(f.repo, f.clock, 30, 60)
	ctx := context.Background()

	_, err := service.AddEvent(ctx, RawEvent{"title": "Anything"})
	assert.ErrorIs(t, err, user.ErrNoUser)
	_, err = service.GetEvents(ctx, nil, nil)
	assert.ErrorIs(t, err, user.ErrNoUser)
	_, err = service.GetEvent(ctx, "event-1")
	assert.ErrorIs(t, err, user.ErrNoUser)
	_, err = service.UpdateEvent(ctx, "event-1", RawEvent{})
	assert.ErrorIs(t, err, user.ErrNoUser)
	assert.ErrorIs(t, service.DeleteEvent(ctx, "event-1"), user.ErrNoUser)
	_, err = service.Refresh(ctx)
	assert.ErrorIs(t, err, user.ErrNoUser)
}

func TestService_GetFamilyEvents(t *testing.T) {
	f := setupTestRepository(t)
	service := NewService(f.repo, f.clock, 30, 60)
	ctx := test_utils.WithTestUser(context.Background())

	_, err := service.AddEvent(ctx, RawEvent{"title": "Swim lesson", "date": "2025-06-02"})
	require.NoError(t, err)
	_, err = f.repo.Add(context.Background(), RawEvent{"title": "Parent evening", "date": "2025-06-03"},
		"another-member", test_utils.TestFamilyId)
	require.NoError(t, err)
	_, err = f.repo.Add(context.Background(), RawEvent{"title": "Board meeting", "date": "2025-06-02"}, ownerId, familyId)
	require.NoError(t, err)

	events, err := service.GetFamilyEvents(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Swim lesson", events[0].Title)
	assert.Equal(t, "Parent evening", events[1].Title)

	noFamily := user.WithUser(context.Background(), user.User{Id: "solo"})
	_, err = service.GetFamilyEvents(noFamily, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)
}
