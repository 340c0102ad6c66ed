package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/BookMeBot/book-me-bot/internal/service/booking"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
)

type commandFunc func(d *Dispatcher, ctx context.Context, e CommandEvent) error

var commands = map[string]commandFunc{
	"start":         (*Dispatcher).cmdStart,
	"getkey":        (*Dispatcher).cmdGetKey,
	"book":          (*Dispatcher).cmdBook,
	"exporthistory": (*Dispatcher).cmdExportHistory,
	"sendhistory":   (*Dispatcher).cmdSendHistory,
}

func (d *Dispatcher) cmdStart(ctx context.Context, e CommandEvent) error {
	return d.activate(ctx, e.Chat)
}

func (d *Dispatcher) cmdGetKey(ctx context.Context, e CommandEvent) error {
	key, err := d.sessions.PrivateKey(ctx, e.Chat.Key())
	switch {
	case err == nil:
		return d.reply(ctx, e.Chat, replyPrivateKey(key))
	case errors.Is(err, session.ErrNoWallet):
		return d.reply(ctx, e.Chat, replyNoWallet)
	case errors.Is(err, session.ErrNoAppID):
		return d.reply(ctx, e.Chat, replyNoAppID)
	default:
		log.Printf("[bot] getkey for chat %s failed: %v", e.Chat.Key(), err)
		return d.reply(ctx, e.Chat, replyKeyFailed)
	}
}

func (d *Dispatcher) cmdBook(ctx context.Context, e CommandEvent) error {
	args := booking.ParseArguments(e.Args)
	if !args.Complete() {
		return d.replyMarkdown(ctx, e.Chat, replyBookUsage)
	}
	return d.reply(ctx, e.Chat, replyBookingSummary(args))
}

func (d *Dispatcher) cmdExportHistory(ctx context.Context, e CommandEvent) error {
	payload, ok := d.history.Export(e.Chat.Key())
	if !ok {
		return d.reply(ctx, e.Chat, replyNoHistory)
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Printf("[bot] encode history for chat %s: %v", e.Chat.Key(), err)
		return d.reply(ctx, e.Chat, replyHistoryFailed)
	}
	return d.replyMarkdown(ctx, e.Chat, replyHistoryExport(raw))
}

func (d *Dispatcher) cmdSendHistory(ctx context.Context, e CommandEvent) error {
	chatID := e.Chat.Key()
	if d.history.Len(chatID) == 0 {
		return d.reply(ctx, e.Chat, replyNoHistory)
	}
	if d.agent == nil {
		return d.reply(ctx, e.Chat, replyAgentDown)
	}

	res := d.agent.Extract(ctx, chatID, d.history.Recent(chatID, d.historyLimit))
	if !res.Available {
		return d.reply(ctx, e.Chat, replyAgentDown)
	}
	if !res.CompletedData || res.RequestData == nil {
		return d.reply(ctx, e.Chat, replyBookingPending)
	}

	if _, err := d.sessions.RecordBooking(ctx, chatID, *res.RequestData); err != nil {
		if replyErr := d.reply(ctx, e.Chat, replyBookingSaveFail); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return fmt.Errorf("record booking: %w", err)
	}
	return d.reply(ctx, e.Chat, replyBookingCaptured(res.RequestData))
}
