package chat

import (
	"strconv"
	"time"
)

// TextEntity mirrors the entity list of a chat export.
type TextEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is one inbound chat message kept in the per-chat history.
type Message struct {
	ID           int          `json:"id"`
	Type         string       `json:"type"`
	Date         string       `json:"date"`
	DateUnixtime string       `json:"date_unixtime"`
	From         string       `json:"from"`
	FromID       string       `json:"from_id"`
	Text         string       `json:"text"`
	TextEntities []TextEntity `json:"text_entities"`
}

// NewMessage builds a history entry in the chat export format.
func NewMessage(id int, sentAt time.Time, from string, fromID int64, text string) Message {
	return Message{
		ID:           id,
		Type:         "message",
		Date:         sentAt.UTC().Format(time.RFC3339),
		DateUnixtime: strconv.FormatInt(sentAt.Unix(), 10),
		From:         from,
		FromID:       "user" + strconv.FormatInt(fromID, 10),
		Text:         text,
		TextEntities: []TextEntity{{Type: "plain", Text: text}},
	}
}

// ChatInfo describes the chat a history belongs to.
type ChatInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// HistoryPayload is the export document for one chat.
type HistoryPayload struct {
	ChatInfo
	Messages []Message `json:"messages"`
}
