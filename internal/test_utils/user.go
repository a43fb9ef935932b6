package test_utils

import (
	"context"

	"github.com/familyhub/famcal/pkg/user"
)

const (
	TestUserId   = "user-123"
	TestFamilyId = "family-123"
)

// WithTestUser returns ctx carrying the default test owner.
func WithTestUser(ctx context.Context) context.Context {
	return user.WithUser(ctx, user.User{Id: TestUserId, FamilyId: TestFamilyId})
}
