package telegram

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devrev/tierbot/internal/transport"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func convertUpdate(u tgbotapi.Update) transport.Update {
	out := transport.Update{ID: int64(u.UpdateID)}

	if u.CallbackQuery != nil {
		out.Callback = &transport.Callback{
			ID:      u.CallbackQuery.ID,
			From:    convertUser(u.CallbackQuery.From),
			Data:    u.CallbackQuery.Data,
			Message: convertMessage(u.CallbackQuery.Message),
		}
		return out
	}

	out.Message = convertMessage(u.Message)
	return out
}

func convertUser(u *tgbotapi.User) *transport.User {
	if u == nil {
		return nil
	}
	return &transport.User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		FirstName: u.FirstName,
		Username:  u.UserName,
	}
}

func convertMessage(m *tgbotapi.Message) *transport.Message {
	if m == nil {
		return nil
	}
	msg := &transport.Message{
		ID:   m.MessageID,
		From: convertUser(m.From),
		Text: m.Text,
		Date: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	return msg
}

// convertError maps Bot API failures onto the retry policy. 429 and 5xx
// are transient, other API errors are permanent, and anything below the
// API (network, decoding) is transient.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return &transport.ProviderError{Err: err}
	}

	// Re-rendering an unchanged view is not a failure
	if strings.Contains(apiErr.Message, "message is not modified") {
		return nil
	}

	pe := &transport.ProviderError{
		Err:  errors.New(apiErr.Message),
		Code: apiErr.Code,
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		pe.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
	case apiErr.Code >= http.StatusInternalServerError:
	default:
		pe.Permanent = true
	}
	return pe
}

// cancelOnClose releases a request's context once its body is consumed
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
