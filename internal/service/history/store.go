// Package history keeps a bounded, per-chat record of recent messages.
package history

import (
	"sync"

	"github.com/BookMeBot/book-me-bot/internal/model/chat"
)

// DefaultCapacity is the number of messages retained per chat.
const DefaultCapacity = 1000

// Store holds one ring buffer per chat.
type Store struct {
	mu       sync.RWMutex
	capacity int
	chats    map[string]*ring
}

type ring struct {
	info  chat.ChatInfo
	buf   []chat.Message
	start int
	size  int
}

// NewStore returns a store retaining capacity messages per chat.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, chats: make(map[string]*ring)}
}

// Append records msg for chatID, evicting the oldest message when full.
// The chat info is captured on first sight.
func (s *Store) Append(chatID string, info chat.ChatInfo, msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.chats[chatID]
	if !ok {
		r = &ring{info: info, buf: make([]chat.Message, s.capacity)}
		s.chats[chatID] = r
	}

	if r.size < s.capacity {
		r.buf[(r.start+r.size)%s.capacity] = msg
		r.size++
		return
	}
	r.buf[r.start] = msg
	r.start = (r.start + 1) % s.capacity
}

// Recent returns up to n most recent messages, oldest first. n <= 0 returns all.
func (s *Store) Recent(chatID string, n int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]chat.Message, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%s.capacity])
	}
	return out
}

// Export returns the history document for chatID.
func (s *Store) Export(chatID string) (chat.HistoryPayload, bool) {
	s.mu.RLock()
	r, ok := s.chats[chatID]
	var info chat.ChatInfo
	if ok {
		info = r.info
	}
	s.mu.RUnlock()
	if !ok {
		return chat.HistoryPayload{}, false
	}
	return chat.HistoryPayload{ChatInfo: info, Messages: s.Recent(chatID, 0)}, true
}

// Len reports how many messages are held for chatID.
func (s *Store) Len(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.chats[chatID]; ok {
		return r.size
	}
	return 0
}
