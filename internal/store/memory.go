package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vantagesec/vantage/pkg/models"
)

// MemoryStore is an in-memory Store. It mirrors the sqlite semantics,
// including store-side sequence allocation, and is what the test suites use.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*models.Chat
	messages map[string][]*models.Message // chatID -> sequence-ordered
	files    map[string][]models.Attachment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*models.Chat),
		messages: make(map[string][]*models.Message),
		files:    make(map[string][]models.Attachment),
	}
}

func (s *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if chat.Sharing == "" {
		chat.Sharing = "private"
	}
	cp := *chat
	s.chats[chat.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; !ok {
		return ErrNotFound
	}
	chat.UpdatedAt = time.Now().UTC()
	cp := *chat
	s.chats[chat.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	for _, msg := range s.messages[id] {
		delete(s.files, msg.ID)
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListChats(_ context.Context, userID string, limit, offset int) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var chats []*models.Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			cp := *chat
			chats = append(chats, &cp)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	if offset >= len(chats) {
		return nil, nil
	}
	chats = chats[offset:]
	if len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	seq := 0
	for _, m := range s.messages[msg.ChatID] {
		if m.SequenceNumber > seq {
			seq = m.SequenceNumber
		}
	}
	msg.SequenceNumber = seq + 1
	cp := *msg
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], &cp)
	return nil
}

func (s *MemoryStore) GetMessages(_ context.Context, chatID string, limit, offset int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	src := s.messages[chatID]
	var msgs []*models.Message
	for _, m := range src {
		cp := *m
		msgs = append(msgs, &cp)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].SequenceNumber < msgs[j].SequenceNumber
	})
	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *MemoryStore) LatestAssistantMessage(_ context.Context, chatID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Message
	for _, m := range s.messages[chatID] {
		if m.Role != models.RoleAssistant {
			continue
		}
		if latest == nil || m.SequenceNumber > latest.SequenceNumber {
			latest = m
		}
	}
	if latest == nil {
		return nil, ErrNoAssistantMessage
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages[msg.ChatID] {
		if m.ID == msg.ID {
			msg.SequenceNumber = m.SequenceNumber
			msg.CreatedAt = m.CreatedAt
			msg.UpdatedAt = time.Now().UTC()
			cp := *msg
			s.messages[msg.ChatID][i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteMessagesFrom(_ context.Context, chatID string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.Message
	for _, m := range s.messages[chatID] {
		if m.SequenceNumber >= seq {
			delete(s.files, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.messages[chatID] = kept
	return nil
}

func (s *MemoryStore) DeleteLatestAssistantMessage(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, seq := -1, -1
	for i, m := range s.messages[chatID] {
		if m.Role == models.RoleAssistant && m.SequenceNumber > seq {
			idx, seq = i, m.SequenceNumber
		}
	}
	if idx < 0 {
		return nil
	}
	delete(s.files, s.messages[chatID][idx].ID)
	s.messages[chatID] = append(s.messages[chatID][:idx], s.messages[chatID][idx+1:]...)
	return nil
}

func (s *MemoryStore) AttachFile(_ context.Context, messageID string, att models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[messageID] = append(s.files[messageID], att)
	return nil
}

func (s *MemoryStore) FilesForMessage(_ context.Context, messageID string) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Attachment(nil), s.files[messageID]...), nil
}

func (s *MemoryStore) Close() error { return nil }
