package ratelimiter

import (
	"testing"
	"time"
)

func TestAllowDropsBurstPerChat(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !l.Allow("100", now) || !l.Allow("100", now) {
		t.Fatal("expected burst of two to be allowed")
	}
	if l.Allow("100", now) {
		t.Fatal("expected third event in the same instant to be dropped")
	}
	if got := l.Dropped("100"); got != 1 {
		t.Fatalf("expected one drop, got %d", got)
	}
	if !l.Allow("200", now) {
		t.Fatal("other chats must not share the bucket")
	}
	if !l.Allow("100", now.Add(time.Second)) {
		t.Fatal("expected token to refill after one second")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	l := New(0, 0, 0)
	if l != nil {
		t.Fatal("expected nil limiter for invalid args")
	}
	if !l.Allow("100", time.Now()) || l.Chats() != 0 || l.Dropped("100") != 0 {
		t.Fatal("nil limiter must allow and track nothing")
	}
}

func TestIdleChatsSwept(t *testing.T) {
	l := New(10, 10, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	l.Allow("stale", start)
	l.Allow("fresh", start.Add(30*time.Second))
	if l.Chats() != 2 {
		t.Fatalf("expected 2 chats before sweep, got %d", l.Chats())
	}

	l.Allow("fresh", start.Add(90*time.Second))
	if l.Chats() != 1 {
		t.Fatalf("expected stale chat swept, chats=%d", l.Chats())
	}
	if l.Dropped("stale") != 0 {
		t.Fatal("swept chat must start over")
	}
}
