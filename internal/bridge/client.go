// Package bridge talks to the remote messaging channel: one chat, one
// device, one human. Outbound messages carry inline reply controls; inbound
// events arrive through an explicit receive loop feeding a channel, so all
// queue locking stays in the manager.
package bridge

import (
	"context"
	"errors"
)

// Control is one inline reply button.
type Control struct {
	Label string `json:"text"`
	Data  string `json:"callback_data"`
}

// Row groups controls rendered on one line.
type Row []Control

// EventKind discriminates inbound events.
type EventKind string

const (
	EventButtonPress EventKind = "button_press"
	EventTextMessage EventKind = "text_message"
)

// Event is one inbound human action.
type Event struct {
	Kind EventKind
	// Sender is the remote identity that produced the event.
	Sender string
	// MessageRef is the message a button press was attached to; empty for
	// plain text messages.
	MessageRef string
	// Data holds the callback payload of a button press, or the text of a
	// text message.
	Data string
}

var (
	// ErrReceiveGaveUp is returned by Receive after the consecutive-failure
	// ceiling is hit; the caller is expected to fall back out of active mode.
	ErrReceiveGaveUp = errors.New("bridge: receive loop gave up after repeated failures")

	ErrNotConfigured = errors.New("bridge: missing credentials")
)

// Client sends to and receives from the remote channel.
type Client interface {
	// SendMessage delivers text with optional reply controls and returns the
	// opaque reference of the delivered message.
	SendMessage(ctx context.Context, text string, controls []Row) (string, error)
	// EditControls replaces the reply controls of a delivered message.
	// A nil controls argument removes them.
	EditControls(ctx context.Context, messageRef string, controls []Row) error
	// Ping performs a live connectivity check; activation requires it.
	Ping(ctx context.Context) error
	// ValidateSender reports whether an inbound sender identity is the
	// configured human operator.
	ValidateSender(sender string) bool
	// Receive runs the receive loop, delivering events in order until the
	// context is cancelled or the consecutive-failure ceiling is reached, in
	// which case it returns ErrReceiveGaveUp. The events channel is not
	// closed by Receive; ownership stays with the caller.
	Receive(ctx context.Context, events chan<- Event) error
}
