// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"

	"github.com/devrev/tierbot/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockEntitlementStore is a mock implementation of store.EntitlementStore.
type MockEntitlementStore struct {
	mock.Mock
}

// GetTier mocks GetTier.
func (m *MockEntitlementStore) GetTier(ctx context.Context, userID model.UserID) model.Tier {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Tier)
}

// Get mocks Get.
func (m *MockEntitlementStore) Get(ctx context.Context, userID model.UserID) (model.EntitlementRecord, bool) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.EntitlementRecord), args.Bool(1)
}

// Grant mocks Grant.
func (m *MockEntitlementStore) Grant(ctx context.Context, userID model.UserID, tier model.Tier) (model.EntitlementRecord, error) {
	args := m.Called(ctx, userID, tier)
	return args.Get(0).(model.EntitlementRecord), args.Error(1)
}

// Revoke mocks Revoke.
func (m *MockEntitlementStore) Revoke(ctx context.Context, userID model.UserID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// List mocks List.
func (m *MockEntitlementStore) List(ctx context.Context, tier model.Tier) []model.UserID {
	args := m.Called(ctx, tier)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]model.UserID)
}

// Snapshot mocks Snapshot.
func (m *MockEntitlementStore) Snapshot(ctx context.Context) map[model.UserID]model.EntitlementRecord {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[model.UserID]model.EntitlementRecord)
}

// Flush mocks Flush.
func (m *MockEntitlementStore) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Ping mocks Ping.
func (m *MockEntitlementStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Close mocks Close.
func (m *MockEntitlementStore) Close() error {
	return m.Called().Error(0)
}
