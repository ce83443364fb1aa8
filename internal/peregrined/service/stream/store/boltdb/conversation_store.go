package boltdb

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// ConversationStore implements the ConversationRepository interface using BoltDB.
type ConversationStore struct {
	boltDB *bolt.DB
}

// NewConversationStore creates a new ConversationStore instance.
func NewConversationStore(boltDB *DB) *ConversationStore {
	return &ConversationStore{boltDB: boltDB.Bolt()}
}

func (s *ConversationStore) Create(_ context.Context, conv *entity.Conversation) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		return b.Put([]byte(conv.ID), data)
	})
}

func (s *ConversationStore) Get(_ context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		data := b.Get([]byte(id))
		if data == nil {
			return errno.ErrConversationNotFound
		}
		return json.Unmarshal(data, &conv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %q: %w", id, err)
	}
	return &conv, nil
}

func (s *ConversationStore) Update(_ context.Context, conv *entity.Conversation) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(conv.ID)) == nil {
			return fmt.Errorf("conversation %q: %w", conv.ID, errno.ErrConversationNotFound)
		}
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		return b.Put([]byte(conv.ID), data)
	})
}

func (s *ConversationStore) Delete(_ context.Context, id string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("conversation %q: %w", id, errno.ErrConversationNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *ConversationStore) List(_ context.Context) ([]*entity.Conversation, error) {
	var conversations []*entity.Conversation
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(_, v []byte) error {
			var conv entity.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			conversations = append(conversations, &conv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}
