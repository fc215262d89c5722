// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"time"

	"github.com/devrev/tierbot/internal/transport"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of transport.Provider.
type MockProvider struct {
	mock.Mock
}

// FetchUpdates mocks FetchUpdates.
func (m *MockProvider) FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Update, error) {
	args := m.Called(ctx, offset, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]transport.Update), args.Error(1)
}

// Send mocks Send.
func (m *MockProvider) Send(ctx context.Context, out transport.Outbound) error {
	args := m.Called(ctx, out)
	return args.Error(0)
}

// AnswerCallback mocks AnswerCallback.
func (m *MockProvider) AnswerCallback(ctx context.Context, callbackID, text string) error {
	args := m.Called(ctx, callbackID, text)
	return args.Error(0)
}

// SetWebhook mocks SetWebhook.
func (m *MockProvider) SetWebhook(ctx context.Context, url, secret string) error {
	args := m.Called(ctx, url, secret)
	return args.Error(0)
}

// DeleteWebhook mocks DeleteWebhook.
func (m *MockProvider) DeleteWebhook(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ParseUpdate mocks ParseUpdate.
func (m *MockProvider) ParseUpdate(body []byte) (transport.Update, error) {
	args := m.Called(body)
	return args.Get(0).(transport.Update), args.Error(1)
}
