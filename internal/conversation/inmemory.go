package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process conversation store for local/dev use and
// tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string][]Message
	seq           int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

func (s *InMemoryStore) Create(_ context.Context, userID string) (Conversation, error) {
	now := time.Now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) Get(_ context.Context, id, userID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, 8)
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []Conversation{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, conversationID, userID string, role Role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return Message{}, ErrNotFound
	}

	now := time.Now().UTC()
	s.seq++
	m := Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now.Add(time.Duration(s.seq)), // strictly increasing within one store
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)

	c.UpdatedAt = now
	if c.Title == "" && role == RoleUser {
		c.Title = TitleFromContent(content)
	}
	s.conversations[conversationID] = c
	return m, nil
}

func (s *InMemoryStore) Messages(_ context.Context, conversationID, userID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	src := s.messages[conversationID]
	out := make([]Message, len(src))
	copy(out, src)
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return true, nil
}

func (s *InMemoryStore) Close() error { return nil }
