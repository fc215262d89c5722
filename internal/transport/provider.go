// Package transport connects the messaging provider to dispatch and admin
// handling. It is the only package aware of push versus pull delivery.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/tierbot/internal/model"
)

// Provider is the messaging provider's API as the bot uses it
type Provider interface {
	// FetchUpdates long-polls for updates with id >= offset
	FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	Send(ctx context.Context, out Outbound) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SetWebhook(ctx context.Context, url, secret string) error
	DeleteWebhook(ctx context.Context) error

	// ParseUpdate decodes one pushed webhook body
	ParseUpdate(body []byte) (Update, error)
}

// Update is one provider update. At most one of Message and Callback is set.
type Update struct {
	ID       int64
	Message  *Message
	Callback *Callback
}

// User is the sender of a message or button press
type User struct {
	ID        int64
	IsBot     bool
	FirstName string
	Username  string
}

// Message is a chat message
type Message struct {
	ID     int
	ChatID int64
	From   *User
	Text   string
	Date   time.Time
}

// Callback is an inline button press
type Callback struct {
	ID      string
	From    *User
	Data    string
	Message *Message
}

// Outbound is one reply. A positive EditMessageID edits that message in
// place instead of sending a new one.
type Outbound struct {
	ChatID        int64
	EditMessageID int
	Text          string
	Options       []model.ActionOption
}

// ProviderError carries the provider's retry guidance
type ProviderError struct {
	Err        error
	Code       int
	RetryAfter time.Duration

	// Permanent errors are never retried
	Permanent bool
}

func (e *ProviderError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider error %d (retry after %s): %v", e.Code, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("provider error %d: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err must not be retried
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}

// retryAfter returns the provider's requested delay, if any
func retryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
