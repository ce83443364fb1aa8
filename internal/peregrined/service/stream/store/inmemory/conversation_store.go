package inmemory

import (
	"context"
	"sync"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
)

// ConversationStore is an in-memory implementation of the
// ConversationRepository interface.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
}

// NewConversationStore creates a new instance of the ConversationStore.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*entity.Conversation),
	}
}

func (s *ConversationStore) Create(_ context.Context, conv *entity.Conversation) error {
	clone, err := cloneConversation(conv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = clone
	return nil
}

func (s *ConversationStore) Get(_ context.Context, id string) (*entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, errno.ErrConversationNotFound
	}
	return cloneConversation(conv)
}

func (s *ConversationStore) Update(_ context.Context, conv *entity.Conversation) error {
	clone, err := cloneConversation(conv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; !ok {
		return errno.ErrConversationNotFound
	}
	s.conversations[conv.ID] = clone
	return nil
}

func (s *ConversationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return errno.ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *ConversationStore) List(_ context.Context) ([]*entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversations := make([]*entity.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		clone, err := cloneConversation(conv)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, clone)
	}
	return conversations, nil
}
