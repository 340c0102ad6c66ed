package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/platform/ratelimiter"
	"github.com/BookMeBot/book-me-bot/internal/service/booking"
	"github.com/BookMeBot/book-me-bot/internal/service/history"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Outgoing
}

func (f *fakeSender) Send(_ context.Context, msg Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeSessions struct {
	mu          sync.Mutex
	activateErr error
	keyErr      error
	key         string
	recordErr   error
	activated   []string
	recorded    []chat.BookingRequest
	block       chan struct{}
}

func (f *fakeSessions) Activate(_ context.Context, chatID string) (session.Activation, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, chatID)
	if f.activateErr != nil {
		return session.Activation{}, f.activateErr
	}
	return session.Activation{Session: chat.Session{ChatID: chatID, VaultAppID: "A1", WalletAddress: "0xabc"}}, nil
}

func (f *fakeSessions) PrivateKey(context.Context, string) (string, error) {
	return f.key, f.keyErr
}

func (f *fakeSessions) RecordBooking(_ context.Context, chatID string, req chat.BookingRequest) (chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return chat.Session{}, f.recordErr
	}
	f.recorded = append(f.recorded, req)
	return chat.Session{ChatID: chatID, Completed: true, BookingRequest: &req}, nil
}

type fakeAgent struct {
	res  booking.Result
	seen []chat.Message
}

func (f *fakeAgent) Extract(_ context.Context, _ string, h []chat.Message) booking.Result {
	f.seen = h
	return f.res
}

var testChat = Chat{ID: 100, Title: "Trip", Type: "group"}

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	opts.Sender = sender
	if opts.Sessions == nil {
		opts.Sessions = &fakeSessions{}
	}
	d, err := NewDispatcher(opts)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, sender
}

func command(name, args string) CommandEvent {
	text := "/" + name
	if args != "" {
		text += " " + args
	}
	return CommandEvent{Chat: testChat, From: User{ID: 7, Name: "ann"}, MessageID: 1, Date: time.Unix(1700000000, 0), Name: name, Args: args, Text: text}
}

func run(t *testing.T, d *Dispatcher, ev Event) error {
	t.Helper()
	return d.Dispatch(context.Background(), ev).Wait()
}

func TestStartRepliesWithChatID(t *testing.T) {
	sessions := &fakeSessions{}
	d, sender := newTestDispatcher(t, Options{Sessions: sessions})

	if err := run(t, d, command("start", "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "Chat initialized with ID: 100" {
		t.Fatalf("unexpected replies: %v", got)
	}
	if len(sessions.activated) != 1 || sessions.activated[0] != "100" {
		t.Fatalf("unexpected activations: %v", sessions.activated)
	}
}

func TestActivationFailureReply(t *testing.T) {
	sessions := &fakeSessions{activateErr: session.ErrInitializationFailed}
	d, sender := newTestDispatcher(t, Options{Sessions: sessions})

	err := run(t, d, ActivationEvent{Chat: testChat})
	if !errors.Is(err, session.ErrInitializationFailed) {
		t.Fatalf("expected initialization error, got %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "Failed to initialize chat" {
		t.Fatalf("unexpected replies: %v", got)
	}
}

func TestGetKeyReplies(t *testing.T) {
	cases := []struct {
		name string
		key  string
		err  error
		want string
	}{
		{name: "ok", key: "0xdead", want: "The private key for this chat is:\n0xdead"},
		{name: "no wallet", err: session.ErrNoWallet, want: replyNoWallet},
		{name: "no app id", err: session.ErrNoAppID, want: replyNoAppID},
		{name: "vault down", err: session.ErrKeyUnavailable, want: replyKeyFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, sender := newTestDispatcher(t, Options{Sessions: &fakeSessions{key: tc.key, keyErr: tc.err}})
			if err := run(t, d, command("getkey", "")); err != nil {
				t.Fatalf("getkey: %v", err)
			}
			if got := sender.texts(); len(got) != 1 || got[0] != tc.want {
				t.Fatalf("unexpected replies: %v", got)
			}
		})
	}
}

func TestBookCommand(t *testing.T) {
	d, sender := newTestDispatcher(t, Options{})

	if err := run(t, d, command("book", "location=Paris")); err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := run(t, d, command("book", "location=Paris nights=3 budget=1500 dates=06/01-06/04")); err != nil {
		t.Fatalf("book: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(sender.sent))
	}
	if !sender.sent[0].Markdown || !strings.HasPrefix(sender.sent[0].Text, "Please provide booking details") {
		t.Fatalf("unexpected usage reply: %+v", sender.sent[0])
	}
	summary := sender.sent[1].Text
	for _, want := range []string{"- Location: Paris", "- Nights: 3", "- Budget: $1500", "- Dates: 06/01-06/04"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %q missing %q", summary, want)
		}
	}
}

func TestExportHistory(t *testing.T) {
	d, sender := newTestDispatcher(t, Options{})

	if err := run(t, d, command("exporthistory", "")); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := sender.texts(); got[0] != "No chat history found for this chat." {
		t.Fatalf("unexpected reply: %q", got[0])
	}

	run(t, d, TextEvent{Chat: testChat, From: User{ID: 7, Name: "ann"}, MessageID: 2, Date: time.Unix(1700000100, 0), Text: "hello"})
	if err := run(t, d, command("exporthistory", "")); err != nil {
		t.Fatalf("export: %v", err)
	}

	got := sender.texts()
	body := strings.TrimSuffix(strings.TrimPrefix(got[1], "Chat history exported:\n```\n"), "\n```")
	var payload chat.HistoryPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode payload %q: %v", body, err)
	}
	if payload.ID != 100 || payload.Name != "Trip" {
		t.Fatalf("unexpected chat info: %+v", payload.ChatInfo)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Text != "hello" || payload.Messages[0].FromID != "user7" {
		t.Fatalf("unexpected messages: %+v", payload.Messages)
	}
}

func TestSendHistoryCapturesCompletedBooking(t *testing.T) {
	sessions := &fakeSessions{}
	agent := &fakeAgent{res: booking.Result{
		Extraction: booking.Extraction{CompletedData: true, RequestData: &chat.BookingRequest{Location: "Chiang Mai", GuestCount: 4}},
		Available:  true,
	}}
	d, sender := newTestDispatcher(t, Options{Sessions: sessions, Agent: agent, HistoryLimit: 1})

	run(t, d, TextEvent{Chat: testChat, From: User{ID: 8, Name: "bob"}, Text: "somewhere warm"})
	run(t, d, TextEvent{Chat: testChat, From: User{ID: 7, Name: "ann"}, Text: "Chiang Mai for 4?"})
	if err := run(t, d, command("sendhistory", "")); err != nil {
		t.Fatalf("sendhistory: %v", err)
	}

	if len(sessions.recorded) != 1 || sessions.recorded[0].Location != "Chiang Mai" {
		t.Fatalf("booking not recorded: %+v", sessions.recorded)
	}
	if len(agent.seen) != 1 || agent.seen[0].Text != "Chiang Mai for 4?" {
		t.Fatalf("history limit not applied: %+v", agent.seen)
	}
	got := sender.texts()
	if !strings.HasPrefix(got[len(got)-1], "Booking request captured:") {
		t.Fatalf("unexpected reply: %v", got)
	}
}

func TestSendHistoryDegraded(t *testing.T) {
	sessions := &fakeSessions{}
	agent := &fakeAgent{res: booking.Result{Available: false, Err: booking.ErrDownstreamUnavailable}}
	d, sender := newTestDispatcher(t, Options{Sessions: sessions, Agent: agent})

	run(t, d, TextEvent{Chat: testChat, Text: "beach house in May"})
	if err := run(t, d, command("sendhistory", "")); err != nil {
		t.Fatalf("sendhistory: %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != replyAgentDown {
		t.Fatalf("unexpected replies: %v", got)
	}
	if len(sessions.recorded) != 0 {
		t.Fatalf("degraded result must not be recorded")
	}
}

func TestSendHistoryWithoutHistory(t *testing.T) {
	d, sender := newTestDispatcher(t, Options{History: history.NewStore(10), Agent: &fakeAgent{}})

	if err := run(t, d, command("sendhistory", "")); err != nil {
		t.Fatalf("sendhistory: %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != replyNoHistory {
		t.Fatalf("unexpected replies: %v", got)
	}
}

func TestFundingNotice(t *testing.T) {
	d, sender := newTestDispatcher(t, Options{})

	run(t, d, TextEvent{Chat: testChat, Text: "Funding is complete."})
	run(t, d, TextEvent{Chat: testChat, Text: "nothing to see"})

	if got := sender.texts(); len(got) != 1 || got[0] != "funding complete for chat 100" {
		t.Fatalf("unexpected replies: %v", got)
	}
}

func TestUnknownCommandIsText(t *testing.T) {
	d, sender := newTestDispatcher(t, Options{})
	if err := run(t, d, command("status", "funding is complete")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "funding complete for chat 100" {
		t.Fatalf("unexpected replies: %v", got)
	}
}

func TestRateLimitedEventsAreDropped(t *testing.T) {
	m := metrics.New(nil)
	limiter := ratelimiter.New(0.001, 2, time.Minute)
	d, sender := newTestDispatcher(t, Options{Limiter: limiter, Metrics: m})
	d.now = func() time.Time { return time.Unix(1700000000, 0) }

	var dropped int
	for i := 0; i < 5; i++ {
		if err := run(t, d, TextEvent{Chat: testChat, Text: "funding is complete"}); errors.Is(err, ErrRateLimited) {
			dropped++
		}
	}
	if dropped != 3 {
		t.Fatalf("expected 3 dropped events, got %d", dropped)
	}
	if got := len(sender.texts()); got != 2 {
		t.Fatalf("expected 2 replies, got %d", got)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 3 {
		t.Fatalf("rate limited counter = %v", got)
	}
	if got := testutil.ToFloat64(m.InboundEvents.WithLabelValues("text")); got != 5 {
		t.Fatalf("inbound counter = %v", got)
	}
}

func TestWaitJoinsInflightTasks(t *testing.T) {
	sessions := &fakeSessions{block: make(chan struct{})}
	d, sender := newTestDispatcher(t, Options{Sessions: sessions})

	ctx, cancel := context.WithCancel(context.Background())
	task := d.Dispatch(ctx, ActivationEvent{Chat: testChat})
	cancel()

	waitCtx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if err := d.Wait(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to time out while blocked, got %v", err)
	}

	if err := d.Dispatch(context.Background(), TextEvent{Chat: testChat, Text: "x"}).Wait(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed dispatcher, got %v", err)
	}

	close(sessions.block)
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("task: %v", err)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "Chat initialized with ID: 100" {
		t.Fatalf("cancelled parent ctx must not abort the handler: %v", got)
	}
}
