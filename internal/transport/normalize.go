package transport

import (
	"strings"
	"time"

	"github.com/devrev/tierbot/internal/admin"
	"github.com/devrev/tierbot/internal/model"
)

// Normalize converts an update into at most one inbound event. Updates
// without a human sender or without text are dropped.
func Normalize(u Update) (model.InboundEvent, bool) {
	switch {
	case u.Callback != nil:
		return normalizeCallback(u.ID, u.Callback)
	case u.Message != nil:
		return normalizeMessage(u.ID, u.Message)
	default:
		return model.InboundEvent{}, false
	}
}

func normalizeCallback(updateID int64, cb *Callback) (model.InboundEvent, bool) {
	if cb.From == nil || cb.From.IsBot || cb.ID == "" {
		return model.InboundEvent{}, false
	}

	ev := model.InboundEvent{
		UpdateID:    updateID,
		UserID:      model.UserID(cb.From.ID),
		ChatID:      cb.From.ID,
		CallbackID:  cb.ID,
		Handle:      cb.From.Username,
		DisplayName: cb.From.FirstName,
		ActionToken: cb.Data,
		ReceivedAt:  time.Now(),
	}
	if cb.Message != nil {
		ev.ChatID = cb.Message.ChatID
		ev.MessageID = cb.Message.ID
	}
	return ev, true
}

func normalizeMessage(updateID int64, msg *Message) (model.InboundEvent, bool) {
	if msg.From == nil || msg.From.IsBot {
		return model.InboundEvent{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return model.InboundEvent{}, false
	}

	ev := model.InboundEvent{
		UpdateID:    updateID,
		UserID:      model.UserID(msg.From.ID),
		ChatID:      msg.ChatID,
		MessageID:   msg.ID,
		Handle:      msg.From.Username,
		DisplayName: msg.From.FirstName,
		RawText:     text,
		ReceivedAt:  time.Now(),
	}

	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		name := strings.TrimPrefix(fields[0], "/")
		// "/start@MyBot" addresses a specific bot in group chats
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		ev.Command = strings.ToLower(name)
		ev.Args = fields[1:]
		ev.IsAdminCommand = admin.IsAdminCommand(ev.Command)
	}

	return ev, true
}
