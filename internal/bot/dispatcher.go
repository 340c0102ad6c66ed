package bot

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/platform/ratelimiter"
	"github.com/BookMeBot/book-me-bot/internal/service/booking"
	"github.com/BookMeBot/book-me-bot/internal/service/history"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
)

var (
	ErrRateLimited = errors.New("event dropped by rate limiter")
	ErrClosed      = errors.New("dispatcher closed")
)

// Outgoing is a reply to a chat.
type Outgoing struct {
	ChatID   int64
	Text     string
	Markdown bool
}

// Sender delivers replies to the chat platform.
type Sender interface {
	Send(ctx context.Context, msg Outgoing) error
}

// Sessions is the session state machine as seen by the bot.
type Sessions interface {
	Activate(ctx context.Context, chatID string) (session.Activation, error)
	PrivateKey(ctx context.Context, chatID string) (string, error)
	RecordBooking(ctx context.Context, chatID string, req chat.BookingRequest) (chat.Session, error)
}

// BookingAgent extracts booking intent from a chat history.
type BookingAgent interface {
	Extract(ctx context.Context, chatID string, history []chat.Message) booking.Result
}

// Options wires a Dispatcher.
type Options struct {
	Sessions Sessions
	Sender   Sender
	History  *history.Store
	Agent    BookingAgent
	Limiter  *ratelimiter.PerChat
	Metrics  *metrics.Metrics

	// HistoryLimit bounds the messages handed to the booking agent.
	HistoryLimit int
	// HandlerTimeout bounds one event; defaults to two minutes.
	HandlerTimeout time.Duration
}

// Dispatcher runs every event in its own goroutine and tracks it until done.
type Dispatcher struct {
	sessions     Sessions
	sender       Sender
	history      *history.Store
	agent        BookingAgent
	limiter      *ratelimiter.PerChat
	metrics      *metrics.Metrics
	historyLimit int
	timeout      time.Duration
	now          func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher validates and wires the dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Sessions == nil || opts.Sender == nil {
		return nil, errors.New("dispatcher requires sessions and sender")
	}
	if opts.History == nil {
		opts.History = history.NewStore(history.DefaultCapacity)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		sessions:     opts.Sessions,
		sender:       opts.Sender,
		history:      opts.History,
		agent:        opts.Agent,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
		historyLimit: opts.HistoryLimit,
		timeout:      opts.HandlerTimeout,
		now:          time.Now,
	}, nil
}

// Task is the handle of one dispatched event.
type Task struct {
	done chan struct{}
	err  error
}

func finishedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Done is closed once the event has been handled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the event has been handled and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Dispatch schedules ev. The handler outlives ctx cancellation so that a
// shutdown lets in-flight events finish; Wait joins them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) *Task {
	if ev == nil {
		return finishedTask(errors.New("nil event"))
	}
	c := ev.chat()
	d.countInbound(ev.kind())

	if !d.limiter.Allow(c.Key(), d.now()) {
		if d.metrics != nil {
			d.metrics.RateLimited.Inc()
		}
		log.Printf("[bot] dropped %s event for chat %s: rate limited", ev.kind(), c.Key())
		return finishedTask(ErrRateLimited)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return finishedTask(ErrClosed)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	task := &Task{done: make(chan struct{})}
	go func() {
		defer d.wg.Done()
		defer close(task.done)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		task.err = d.handle(runCtx, ev)
		if task.err != nil {
			log.Printf("[bot] %s event for chat %s failed: %v", ev.kind(), c.Key(), task.err)
		}
	}()
	return task
}

// Wait stops accepting events and blocks until in-flight ones finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case ActivationEvent:
		return d.activate(ctx, e.Chat)
	case CommandEvent:
		if cmd, ok := commands[strings.ToLower(e.Name)]; ok {
			return cmd(d, ctx, e)
		}
		// Unknown commands are ordinary conversation.
		d.record(e.Chat, e.From, e.MessageID, e.Date, e.Text)
		return d.onText(ctx, TextEvent{Chat: e.Chat, From: e.From, MessageID: e.MessageID, Date: e.Date, Text: e.Text})
	case TextEvent:
		d.record(e.Chat, e.From, e.MessageID, e.Date, e.Text)
		return d.onText(ctx, e)
	default:
		return errors.New("unknown event type")
	}
}

func (d *Dispatcher) record(c Chat, from User, messageID int, date time.Time, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if date.IsZero() {
		date = d.now()
	}
	info := chat.ChatInfo{Name: c.Title, Type: c.Type, ID: c.ID}
	d.history.Append(c.Key(), info, chat.NewMessage(messageID, date, from.Name, from.ID, text))
}

func (d *Dispatcher) onText(ctx context.Context, e TextEvent) error {
	if strings.Contains(strings.ToLower(e.Text), "funding is complete") {
		return d.reply(ctx, e.Chat, replyFundingComplete(e.Chat.Key()))
	}
	return nil
}

func (d *Dispatcher) activate(ctx context.Context, c Chat) error {
	if _, err := d.sessions.Activate(ctx, c.Key()); err != nil {
		if replyErr := d.reply(ctx, c, replyInitFailed); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	return d.reply(ctx, c, replyInitialized(c.Key()))
}

func (d *Dispatcher) reply(ctx context.Context, c Chat, text string) error {
	return d.sender.Send(ctx, Outgoing{ChatID: c.ID, Text: text})
}

func (d *Dispatcher) replyMarkdown(ctx context.Context, c Chat, text string) error {
	return d.sender.Send(ctx, Outgoing{ChatID: c.ID, Text: text, Markdown: true})
}

func (d *Dispatcher) countInbound(kind string) {
	if d.metrics != nil {
		d.metrics.InboundEvents.WithLabelValues(kind).Inc()
	}
}
