package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// TranscriptStore implements the TranscriptRepository interface using BoltDB.
//
// Layout: one nested bucket per conversation under "transcripts", keyed by an
// 8-byte big-endian sequence assigned on first insert of a message id, so a
// cursor walk yields emission order. A parallel index bucket maps message id
// to its sequence; redelivery of a known id overwrites the row at its
// original position, which gives Upsert its idempotence.
type TranscriptStore struct {
	boltDB *bolt.DB
}

// NewTranscriptStore creates a new TranscriptStore instance.
func NewTranscriptStore(boltDB *DB) *TranscriptStore {
	return &TranscriptStore{boltDB: boltDB.Bolt()}
}

func (s *TranscriptStore) Upsert(_ context.Context, msg *entity.Message) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		rows, idx, err := conversationBuckets(tx, msg.ConversationID, true)
		if err != nil {
			return err
		}

		seq := idx.Get([]byte(msg.ID))
		if seq == nil {
			n, err := rows.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			seq = make([]byte, 8)
			binary.BigEndian.PutUint64(seq, n)
			if err := idx.Put([]byte(msg.ID), seq); err != nil {
				return fmt.Errorf("failed to index message %q: %w", msg.ID, err)
			}
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return rows.Put(seq, data)
	})
}

func (s *TranscriptStore) MarkFinal(_ context.Context, conversationID, messageID string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		rows, idx, err := conversationBuckets(tx, conversationID, false)
		if err != nil {
			return err
		}

		seq := idx.Get([]byte(messageID))
		if seq == nil {
			return fmt.Errorf("message %q in conversation %q: %w", messageID, conversationID, errno.ErrMessageNotFound)
		}

		var msg entity.Message
		if err := json.Unmarshal(rows.Get(seq), &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message %q: %w", messageID, err)
		}
		msg.Final = true

		data, err := json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return rows.Put(seq, data)
	})
}

func (s *TranscriptStore) Get(_ context.Context, conversationID, messageID string) (*entity.Message, error) {
	var msg entity.Message
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		rows, idx, err := conversationBuckets(tx, conversationID, false)
		if err != nil {
			return err
		}
		seq := idx.Get([]byte(messageID))
		if seq == nil {
			return errno.ErrMessageNotFound
		}
		return json.Unmarshal(rows.Get(seq), &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %q: %w", messageID, err)
	}
	return &msg, nil
}

func (s *TranscriptStore) ListByConversation(_ context.Context, conversationID string) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		rows := tx.Bucket(bucketTranscripts).Bucket([]byte(conversationID))
		if rows == nil {
			return nil
		}
		return rows.ForEach(func(_, v []byte) error {
			var msg entity.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, &msg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript for %q: %w", conversationID, err)
	}
	return messages, nil
}

func (s *TranscriptStore) DeleteConversation(_ context.Context, conversationID string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		key := []byte(conversationID)
		if tx.Bucket(bucketTranscripts).Bucket(key) != nil {
			if err := tx.Bucket(bucketTranscripts).DeleteBucket(key); err != nil {
				return fmt.Errorf("failed to delete transcript: %w", err)
			}
		}
		if tx.Bucket(bucketTranscriptIndex).Bucket(key) != nil {
			if err := tx.Bucket(bucketTranscriptIndex).DeleteBucket(key); err != nil {
				return fmt.Errorf("failed to delete transcript index: %w", err)
			}
		}
		return nil
	})
}

// conversationBuckets resolves (creating when create is set) the row and
// index buckets of one conversation.
func conversationBuckets(tx *bolt.Tx, conversationID string, create bool) (rows, idx *bolt.Bucket, err error) {
	key := []byte(conversationID)
	if create {
		rows, err = tx.Bucket(bucketTranscripts).CreateBucketIfNotExists(key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create transcript bucket: %w", err)
		}
		idx, err = tx.Bucket(bucketTranscriptIndex).CreateBucketIfNotExists(key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create index bucket: %w", err)
		}
		return rows, idx, nil
	}

	rows = tx.Bucket(bucketTranscripts).Bucket(key)
	idx = tx.Bucket(bucketTranscriptIndex).Bucket(key)
	if rows == nil || idx == nil {
		return nil, nil, errno.ErrMessageNotFound
	}
	return rows, idx, nil
}
