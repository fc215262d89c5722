package model

import "time"

// InboundEvent is the provider-independent form of one received message or
// button press. It is never persisted.
type InboundEvent struct {
	UpdateID  int64
	UserID    UserID
	ChatID    int64
	MessageID int

	// CallbackID is set when the event came from an inline button
	CallbackID string

	Handle      string
	DisplayName string

	// ActionToken is the callback payload of a button press
	ActionToken string
	RawText     string

	// Command and Args are set when RawText is a slash command
	Command        string
	Args           []string
	IsAdminCommand bool

	ReceivedAt time.Time
}

// IsCallback reports whether the event is an inline button press
func (e InboundEvent) IsCallback() bool {
	return e.CallbackID != ""
}

// ActionOption is one selectable button in a rendered view
type ActionOption struct {
	Token string
	Label string
}

// RenderInstruction is the output of dispatch: text plus the next actions
type RenderInstruction struct {
	NodeID  string
	Text    string
	Options []ActionOption

	// Notice is a short toast for callback answers; empty means none
	Notice string
}
