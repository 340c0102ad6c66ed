// Package bot routes inbound chat events to the session state machine and
// writes replies back through a Sender.
package bot

import (
	"strconv"
	"time"
)

// Chat identifies the conversation an event came from.
type Chat struct {
	ID    int64
	Title string
	Type  string
}

// Key is the chat id in the form used by the session store.
func (c Chat) Key() string {
	return strconv.FormatInt(c.ID, 10)
}

// User is the author of a message.
type User struct {
	ID    int64
	Name  string
	IsBot bool
}

// Event is one of ActivationEvent, TextEvent or CommandEvent.
type Event interface {
	chat() Chat
	kind() string
}

// ActivationEvent fires when the bot is added to a chat.
type ActivationEvent struct {
	Chat Chat
}

// TextEvent is a plain text message.
type TextEvent struct {
	Chat      Chat
	From      User
	MessageID int
	Date      time.Time
	Text      string
}

// CommandEvent is a slash command. Name has no leading slash or @bot suffix.
type CommandEvent struct {
	Chat      Chat
	From      User
	MessageID int
	Date      time.Time
	Name      string
	Args      string
	// Text is the full message as typed.
	Text string
}

func (e ActivationEvent) chat() Chat { return e.Chat }
func (e TextEvent) chat() Chat       { return e.Chat }
func (e CommandEvent) chat() Chat    { return e.Chat }

func (ActivationEvent) kind() string { return "activation" }
func (TextEvent) kind() string       { return "text" }
func (CommandEvent) kind() string    { return "command" }
