// Package telegram connects the bot dispatcher to the Telegram Bot API by
// long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BookMeBot/book-me-bot/internal/bot"
)

// MaxMessageLength is the longest text Telegram accepts in one message.
const MaxMessageLength = 4096

// Dispatcher receives translated events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev bot.Event) *bot.Task
}

type api interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client polls updates and sends replies.
type Client struct {
	api         api
	botID       int64
	username    string
	pollTimeout int
}

// New authenticates with token and returns a client for the bot it belongs to.
func New(token string, debug bool) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	botAPI.Debug = debug
	log.Printf("[telegram] authorized as @%s", botAPI.Self.UserName)

	return &Client{
		api:         botAPI,
		botID:       botAPI.Self.ID,
		username:    botAPI.Self.UserName,
		pollTimeout: 60,
	}, nil
}

// Username is the bot's handle without the leading @.
func (c *Client) Username() string {
	return c.username
}

// Run feeds updates to d until ctx is done.
func (c *Client) Run(ctx context.Context, d Dispatcher) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.pollTimeout
	cfg.AllowedUpdates = []string{"message", "my_chat_member"}

	updates := c.api.GetUpdatesChan(cfg)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := Translate(update, c.botID)
			if !ok {
				continue
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Send delivers msg, splitting texts longer than MaxMessageLength. Split
// messages are sent without Markdown since a chunk may cut through markup.
func (c *Client) Send(ctx context.Context, msg bot.Outgoing) error {
	chunks := splitText(msg.Text, MaxMessageLength)
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := tgbotapi.NewMessage(msg.ChatID, chunk)
		if msg.Markdown && len(chunks) == 1 {
			out.ParseMode = tgbotapi.ModeMarkdown
		}
		if _, err := c.api.Send(out); err != nil {
			return fmt.Errorf("send message to chat %d: %w", msg.ChatID, err)
		}
	}
	return nil
}

// Translate maps an update to a bot event. ok is false for updates the bot ignores.
func Translate(update tgbotapi.Update, botID int64) (bot.Event, bool) {
	if m := update.MyChatMember; m != nil {
		if joined(m, botID) {
			return bot.ActivationEvent{Chat: chatOf(&m.Chat)}, true
		}
		return nil, false
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, false
	}
	c := chatOf(msg.Chat)

	for _, member := range msg.NewChatMembers {
		if member.ID == botID {
			return bot.ActivationEvent{Chat: c}, true
		}
	}

	if msg.From != nil && msg.From.ID == botID {
		return nil, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, false
	}

	from := userOf(msg.From)
	date := time.Unix(int64(msg.Date), 0)
	if msg.IsCommand() {
		return bot.CommandEvent{
			Chat:      c,
			From:      from,
			MessageID: msg.MessageID,
			Date:      date,
			Name:      msg.Command(),
			Args:      strings.TrimSpace(msg.CommandArguments()),
			Text:      msg.Text,
		}, true
	}
	return bot.TextEvent{Chat: c, From: from, MessageID: msg.MessageID, Date: date, Text: msg.Text}, true
}

func joined(m *tgbotapi.ChatMemberUpdated, botID int64) bool {
	if m.NewChatMember.User == nil || m.NewChatMember.User.ID != botID {
		return false
	}
	switch m.NewChatMember.Status {
	case "member", "administrator":
	default:
		return false
	}
	switch m.OldChatMember.Status {
	case "", "left", "kicked":
		return true
	}
	return false
}

func chatOf(c *tgbotapi.Chat) bot.Chat {
	title := c.Title
	if title == "" {
		title = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	if title == "" {
		title = c.UserName
	}
	return bot.Chat{ID: c.ID, Title: title, Type: c.Type}
}

func userOf(u *tgbotapi.User) bot.User {
	if u == nil {
		return bot.User{}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return bot.User{ID: u.ID, Name: name, IsBot: u.IsBot}
}

func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
