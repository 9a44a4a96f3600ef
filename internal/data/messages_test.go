package data

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/localmesh/relay/internal/store"
)

func newTestMessages(t *testing.T) (*MessagesStore, *store.Memory) {
	t.Helper()
	kv := store.NewMemory()
	return NewMessagesStore(kv), kv
}

func TestMessagesStore_SaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	original := msgs.New("alice", "Alice", "bob", "", "hi there", "text")
	if err := msgs.Save(ctx, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := msgs.Get(ctx, original.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Round-trip must preserve every field byte-for-byte.
	wantJSON, _ := json.Marshal(original)
	gotJSON, _ := json.Marshal(got)
	if string(wantJSON) != string(gotJSON) {
		t.Fatalf("round-trip mismatch:\n want %s\n got  %s", wantJSON, gotJSON)
	}
}

func TestMessagesStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	if _, err := msgs.Get(ctx, "no-such-id"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationKey(t *testing.T) {
	dm := &ChatMessage{SenderID: "bob", RecipientID: "alice"}
	if got := ConversationKey(dm); got != "conv:dm:alice:bob" {
		t.Fatalf("direct key = %q, want sorted pair", got)
	}
	// Same key regardless of direction.
	if got := DirectConversationKey("alice", "bob"); got != "conv:dm:alice:bob" {
		t.Fatalf("DirectConversationKey = %q", got)
	}

	room := &ChatMessage{SenderID: "bob", RoomID: "Study-Group"}
	if got := ConversationKey(room); got != "conv:room:study-group" {
		t.Fatalf("room key = %q, want normalized room id", got)
	}
}

func TestMessagesStore_ReactionIdempotence(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	msg := msgs.New("alice", "Alice", "bob", "", "hello", "text")
	if err := msgs.Save(ctx, msg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	r := Reaction{Emoji: "👍", UserID: "bob", Username: "Bob"}
	if _, err := msgs.AddReaction(ctx, msg.ID, r); err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	// Re-adding the same (user, emoji) is a no-op.
	updated, err := msgs.AddReaction(ctx, msg.ID, r)
	if err != nil {
		t.Fatalf("second AddReaction failed: %v", err)
	}
	if len(updated.Reactions) != 1 {
		t.Fatalf("expected exactly one reaction, got %d", len(updated.Reactions))
	}

	// Removing a reaction that was never added leaves the count unchanged.
	updated, err = msgs.RemoveReaction(ctx, msg.ID, "bob", "🎉")
	if err != nil {
		t.Fatalf("RemoveReaction (absent) failed: %v", err)
	}
	if len(updated.Reactions) != 1 {
		t.Fatalf("remove-absent changed reaction count: %d", len(updated.Reactions))
	}

	updated, err = msgs.RemoveReaction(ctx, msg.ID, "bob", "👍")
	if err != nil {
		t.Fatalf("RemoveReaction failed: %v", err)
	}
	if len(updated.Reactions) != 0 {
		t.Fatalf("expected no reactions after removal, got %d", len(updated.Reactions))
	}
}

func TestMessagesStore_ReactionOnExpiredMessage(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	_, err := msgs.AddReaction(ctx, "expired-id", Reaction{Emoji: "👍", UserID: "bob"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired message, got %v", err)
	}
}

func TestMessagesStore_ConcurrentReactions(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	msg := msgs.New("alice", "Alice", "", "room-1", "hello", "text")
	if err := msgs.Save(ctx, msg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := Reaction{Emoji: "👍", UserID: "user-" + string(rune('a'+i)), Username: "u"}
			if _, err := msgs.AddReaction(ctx, msg.ID, r); err != nil {
				t.Errorf("AddReaction failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := msgs.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Reactions) != n {
		t.Fatalf("lost updates: expected %d reactions, got %d", n, len(got.Reactions))
	}
}

func TestMessagesStore_History(t *testing.T) {
	ctx := context.Background()
	msgs, _ := newTestMessages(t)

	var lastID string
	for _, content := range []string{"one", "two", "three"} {
		m := msgs.New("alice", "Alice", "bob", "", content, "text")
		if err := msgs.Save(ctx, m); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := msgs.Index(ctx, m); err != nil {
			t.Fatalf("Index failed: %v", err)
		}
		lastID = m.ID
	}

	history, err := msgs.History(ctx, DirectConversationKey("bob", "alice"), 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "one" || history[2].Content != "three" {
		t.Fatalf("history out of order: %q, %q", history[0].Content, history[2].Content)
	}
	if history[2].ID != lastID {
		t.Fatalf("newest message id mismatch")
	}
}

func TestMessagesStore_HistorySkipsExpired(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	msgs := NewMessagesStore(kv)

	m1 := msgs.New("alice", "Alice", "bob", "", "kept", "text")
	if err := msgs.Save(ctx, m1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := msgs.Index(ctx, m1); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	// Index an id whose message body was never stored, emulating a message
	// that expired while the 30-day index survived.
	m2 := msgs.New("alice", "Alice", "bob", "", "gone", "text")
	if err := msgs.Index(ctx, m2); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	history, err := msgs.History(ctx, DirectConversationKey("alice", "bob"), 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "kept" {
		t.Fatalf("expected only the surviving message, got %d", len(history))
	}
}
