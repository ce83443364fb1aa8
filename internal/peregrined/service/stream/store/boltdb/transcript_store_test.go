package boltdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "peregrine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMessage(conversationID, id, text string) *entity.Message {
	return &entity.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           entity.RoleAssistant,
		Content:        []entity.ContentBlock{{Type: entity.BlockText, Text: text}},
		Timestamp:      time.Now(),
	}
}

func TestTranscriptStoreOrderAndOverwrite(t *testing.T) {
	store := NewTranscriptStore(openTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		if err := store.Upsert(ctx, testMessage("c1", id, "v"+string(rune('1'+i)))); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	// Redelivery of a known id must land at its original position with the
	// new content, not append a fourth row.
	if err := store.Upsert(ctx, testMessage("c1", "m2", "v2-final")); err != nil {
		t.Fatalf("upsert redelivery: %v", err)
	}

	msgs, err := store.ListByConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("row %d: expected %s, got %s", i, want, msgs[i].ID)
		}
	}
	if msgs[1].Content[0].Text != "v2-final" {
		t.Errorf("redelivery should overwrite content, got %q", msgs[1].Content[0].Text)
	}
}

func TestTranscriptStoreMarkFinal(t *testing.T) {
	store := NewTranscriptStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, testMessage("c1", "m1", "hello")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.MarkFinal(ctx, "c1", "m1"); err != nil {
		t.Fatalf("mark final: %v", err)
	}

	msg, err := store.Get(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !msg.Final {
		t.Error("expected Final to be set")
	}
	if msg.Content[0].Text != "hello" {
		t.Errorf("mark final must not touch content, got %q", msg.Content[0].Text)
	}

	if err := store.MarkFinal(ctx, "c1", "missing"); !errors.Is(err, errno.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestTranscriptStoreGetMissing(t *testing.T) {
	store := NewTranscriptStore(openTestDB(t))
	ctx := context.Background()

	if _, err := store.Get(ctx, "c1", "m1"); !errors.Is(err, errno.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound for unknown conversation, got %v", err)
	}

	if err := store.Upsert(ctx, testMessage("c1", "m1", "hi")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Get(ctx, "c1", "m2"); !errors.Is(err, errno.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound for unknown message, got %v", err)
	}
}

func TestTranscriptStoreDeleteConversation(t *testing.T) {
	store := NewTranscriptStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, testMessage("c1", "m1", "hi")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	msgs, err := store.ListByConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty transcript after delete, got %d rows", len(msgs))
	}

	// The index bucket is gone too, so a re-inserted id starts a fresh
	// sequence instead of reviving the old position.
	if err := store.Upsert(ctx, testMessage("c1", "m1", "again")); err != nil {
		t.Fatalf("upsert after delete: %v", err)
	}
	msgs, _ = store.ListByConversation(ctx, "c1")
	if len(msgs) != 1 || msgs[0].Content[0].Text != "again" {
		t.Errorf("unexpected transcript after re-insert: %+v", msgs)
	}

	// Deleting a conversation that never existed is a no-op.
	if err := store.DeleteConversation(ctx, "never"); err != nil {
		t.Errorf("delete of unknown conversation: %v", err)
	}
}

func TestTranscriptStoreIsolatesConversations(t *testing.T) {
	store := NewTranscriptStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Upsert(ctx, testMessage("c1", "m1", "one")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, testMessage("c2", "m1", "two")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	msg, err := store.Get(ctx, "c2", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Content[0].Text != "two" {
		t.Errorf("same id in another conversation must not collide, got %q", msg.Content[0].Text)
	}
}

func TestConversationStoreCRUD(t *testing.T) {
	store := NewConversationStore(openTestDB(t))
	ctx := context.Background()

	now := time.Now()
	conv := &entity.Conversation{ID: "c1", Title: "first", CreatedAt: now, UpdatedAt: now}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("expected title %q, got %q", "first", got.Title)
	}

	got.Title = "renamed"
	got.TurnCount = 2
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Get(ctx, "c1")
	if got.Title != "renamed" || got.TurnCount != 2 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.Update(ctx, &entity.Conversation{ID: "missing"}); !errors.Is(err, errno.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}

	if err := store.Create(ctx, &entity.Conversation{ID: "c2", Title: "second"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, errno.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "c1"); !errors.Is(err, errno.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound for repeated delete, got %v", err)
	}
}

func TestDBReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peregrine.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewTranscriptStore(db)
	if err := store.Upsert(ctx, testMessage("c1", "m1", "persisted")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	msg, err := NewTranscriptStore(db).Get(ctx, "c1", "m1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if msg.Content[0].Text != "persisted" {
		t.Errorf("expected durable row, got %q", msg.Content[0].Text)
	}
}
