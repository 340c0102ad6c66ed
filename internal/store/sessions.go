package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/BookMeBot/book-me-bot/internal/model/chat"
)

// Sessions reads and writes session records and the global chat index.
type Sessions struct {
	kv      KV
	indexMu sync.Mutex
}

// NewSessions wraps a KV backend.
func NewSessions(kv KV) *Sessions {
	return &Sessions{kv: kv}
}

// Load returns the session for chatID. The boolean is false when no record exists.
func (s *Sessions) Load(ctx context.Context, chatID string) (chat.Session, bool, error) {
	raw, err := s.kv.Get(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, err
	}

	var sess chat.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return chat.Session{}, false, fmt.Errorf("decode session %s: %w", chatID, err)
	}
	if sess.ChatID == "" {
		sess.ChatID = chatID
	}
	return sess, true, nil
}

// Save writes the whole session record.
func (s *Sessions) Save(ctx context.Context, sess chat.Session) error {
	if sess.ChatID == "" {
		return errors.New("session chat id is required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ChatID, err)
	}
	return s.kv.Set(ctx, sess.ChatID, string(data))
}

// ChatIDs returns every chat id recorded in the index, in insertion order.
func (s *Sessions) ChatIDs(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, chat.ChatIndexKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode chat index: %w", err)
	}
	return ids, nil
}

// AddChatID appends chatID to the index unless it is already present.
// It reports whether the index changed.
func (s *Sessions) AddChatID(ctx context.Context, chatID string) (bool, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ids, err := s.ChatIDs(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(ids, chatID) {
		return false, nil
	}

	ids = append(ids, chatID)
	data, err := json.Marshal(ids)
	if err != nil {
		return false, fmt.Errorf("encode chat index: %w", err)
	}
	if err := s.kv.Set(ctx, chat.ChatIndexKey, string(data)); err != nil {
		return false, err
	}
	return true, nil
}
