// Package ratelimiter throttles inbound chat traffic with one token bucket
// per chat.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerChat hands every chat its own bucket. Buckets untouched for idleTTL are
// swept at most once per idleTTL.
type PerChat struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	idleTTL   time.Duration
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
	dropped  uint64
}

// New returns nil, which lets everything through, unless rps and burst are
// both positive.
func New(rps float64, burst int, idleTTL time.Duration) *PerChat {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &PerChat{
		every:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from chatKey's bucket at now.
func (l *PerChat) Allow(chatKey string, now time.Time) bool {
	if l == nil {
		return true
	}
	chatKey = strings.TrimSpace(chatKey)
	if chatKey == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweep(now)
	}

	b := l.buckets[chatKey]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(l.every, l.burst)}
		l.buckets[chatKey] = b
	}
	b.lastSeen = now
	if !b.tokens.AllowN(now, 1) {
		b.dropped++
		return false
	}
	return true
}

// Dropped reports how many events chatKey has had refused so far.
func (l *PerChat) Dropped(chatKey string) uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b := l.buckets[strings.TrimSpace(chatKey)]; b != nil {
		return b.dropped
	}
	return 0
}

// Chats reports how many chats currently hold a bucket.
func (l *PerChat) Chats() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *PerChat) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
	l.nextSweep = now.Add(l.idleTTL)
}
