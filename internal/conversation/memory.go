package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]map[string]*Conversation
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]map[string]*Conversation),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetOrCreateConversation(_ context.Context, subjectID, conversationID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != "" {
		if _, ok := s.convs[subjectID][conversationID]; !ok {
			return "", ErrConversationNotFound
		}
		return conversationID, nil
	}

	byID, ok := s.convs[subjectID]
	if !ok {
		byID = make(map[string]*Conversation)
		s.convs[subjectID] = byID
	}
	id := uuid.NewString()
	byID[id] = &Conversation{ID: id, SubjectID: subjectID, StartTime: s.now()}
	return id, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, subjectID, conversationID string, role Role, content string) error {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return err
	}
	if err := validateTurn(role, content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[subjectID][conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Turns = append(conv.Turns, Turn{Role: role, Content: content, Timestamp: s.now()})
	return nil
}

func (s *MemoryStore) ListTurns(_ context.Context, subjectID, conversationID string) ([]Turn, error) {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[subjectID][conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return append([]Turn(nil), conv.Turns...), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, subjectID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.convs[subjectID]))
	for _, conv := range s.convs[subjectID] {
		c := *conv
		c.Turns = append([]Turn(nil), conv.Turns...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
