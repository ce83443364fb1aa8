package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
)

// transcript is one conversation's ordered log plus the id→position index
// that makes Upsert idempotent.
type transcript struct {
	order []string
	rows  map[string]*entity.Message
}

// TranscriptStore is an in-memory implementation of the
// TranscriptRepository interface.
type TranscriptStore struct {
	mu          sync.RWMutex
	transcripts map[string]*transcript
}

// NewTranscriptStore creates a new instance of the TranscriptStore.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{
		transcripts: make(map[string]*transcript),
	}
}

func (s *TranscriptStore) Upsert(_ context.Context, msg *entity.Message) error {
	clone, err := cloneMessage(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[msg.ConversationID]
	if !ok {
		t = &transcript{rows: make(map[string]*entity.Message)}
		s.transcripts[msg.ConversationID] = t
	}

	if _, exists := t.rows[msg.ID]; !exists {
		t.order = append(t.order, msg.ID)
	}
	t.rows[msg.ID] = clone
	return nil
}

func (s *TranscriptStore) MarkFinal(_ context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[conversationID]
	if !ok {
		return errno.ErrMessageNotFound
	}
	msg, ok := t.rows[messageID]
	if !ok {
		return fmt.Errorf("message %q: %w", messageID, errno.ErrMessageNotFound)
	}
	msg.Final = true
	return nil
}

func (s *TranscriptStore) Get(_ context.Context, conversationID, messageID string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[conversationID]
	if !ok {
		return nil, errno.ErrMessageNotFound
	}
	msg, ok := t.rows[messageID]
	if !ok {
		return nil, errno.ErrMessageNotFound
	}
	return cloneMessage(msg)
}

func (s *TranscriptStore) ListByConversation(_ context.Context, conversationID string) ([]*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[conversationID]
	if !ok {
		return nil, nil
	}
	messages := make([]*entity.Message, 0, len(t.order))
	for _, id := range t.order {
		clone, err := cloneMessage(t.rows[id])
		if err != nil {
			return nil, err
		}
		messages = append(messages, clone)
	}
	return messages, nil
}

func (s *TranscriptStore) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, conversationID)
	return nil
}
