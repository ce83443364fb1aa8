package inmemory

import (
	"fmt"

	"github.com/jinzhu/copier"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
)

// The in-memory stores hand out deep copies so callers can never mutate a
// stored row through a shared block slice or usage pointer.

func cloneMessage(msg *entity.Message) (*entity.Message, error) {
	clone := &entity.Message{}
	if err := copier.CopyWithOption(clone, msg, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("copy message: %w", err)
	}
	return clone, nil
}

func cloneConversation(conv *entity.Conversation) (*entity.Conversation, error) {
	clone := &entity.Conversation{}
	if err := copier.CopyWithOption(clone, conv, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("copy conversation: %w", err)
	}
	return clone, nil
}
