package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localmesh/relay/internal/normalize"
	"github.com/localmesh/relay/internal/store"
)

// reactionStripes bounds the number of mutexes serializing concurrent
// reaction writes to the same message.
const reactionStripes = 64

// MessagesStore persists chat messages and conversation indices on the
// durable KV.
type MessagesStore struct {
	kv      store.KV
	stripes [reactionStripes]sync.Mutex
}

// NewMessagesStore returns a MessagesStore using the given KV.
func NewMessagesStore(kv store.KV) *MessagesStore {
	return &MessagesStore{kv: kv}
}

func messageKey(id string) string { return "msg:" + id }

// ConversationKey derives the index key for a message: the sorted pair of
// participant ids for direct messages, the room id for group rooms.
func ConversationKey(msg *ChatMessage) string {
	if msg.RoomID != "" {
		return "conv:room:" + normalize.ID(msg.RoomID)
	}
	pair := []string{normalize.ID(msg.SenderID), normalize.ID(msg.RecipientID)}
	sort.Strings(pair)
	return "conv:dm:" + pair[0] + ":" + pair[1]
}

// DirectConversationKey is ConversationKey for a direct pair without a
// message in hand.
func DirectConversationKey(a, b string) string {
	pair := []string{normalize.ID(a), normalize.ID(b)}
	sort.Strings(pair)
	return "conv:dm:" + pair[0] + ":" + pair[1]
}

// RoomConversationKey is ConversationKey for a room without a message in
// hand.
func RoomConversationKey(roomID string) string {
	return "conv:room:" + normalize.ID(roomID)
}

// New builds a ChatMessage with a fresh id and server timestamp.
func (s *MessagesStore) New(senderID, senderName, recipientID, roomID, content, msgType string) *ChatMessage {
	return &ChatMessage{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		SenderName:  senderName,
		RecipientID: recipientID,
		RoomID:      roomID,
		Content:     content,
		Type:        msgType,
		Timestamp:   time.Now().UTC(),
		Reactions:   []Reaction{},
	}
}

// Save persists a message with the message retention TTL. Callers relay
// only after Save succeeds.
func (s *MessagesStore) Save(ctx context.Context, msg *ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.kv.Set(ctx, messageKey(msg.ID), raw, MessageTTL); err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	return nil
}

// Get loads a message by id. Expired or unknown ids return
// store.ErrNotFound.
func (s *MessagesStore) Get(ctx context.Context, id string) (*ChatMessage, error) {
	raw, err := s.kv.Get(ctx, messageKey(id))
	if err != nil {
		return nil, err
	}
	var msg ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, nil
}

// Index appends a message id to its conversation index and refreshes the
// index TTL.
func (s *MessagesStore) Index(ctx context.Context, msg *ChatMessage) error {
	return s.kv.ListAppend(ctx, ConversationKey(msg), []byte(msg.ID), ConversationTTL)
}

// Mutate loads a message, applies fn under the per-message stripe lock and
// persists the result with a refreshed TTL when fn reports a change.
// A missing or expired id returns store.ErrNotFound; callers that treat
// that as a no-op check errors.Is.
func (s *MessagesStore) Mutate(ctx context.Context, id string, fn func(*ChatMessage) bool) (*ChatMessage, error) {
	lock := &s.stripes[stripeFor(id)]
	lock.Lock()
	defer lock.Unlock()

	msg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fn(msg) {
		return msg, nil
	}
	if err := s.Save(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AddReaction applies the idempotent reaction set rule: re-adding an
// existing (user, emoji) pair leaves the message unchanged.
func (s *MessagesStore) AddReaction(ctx context.Context, messageID string, r Reaction) (*ChatMessage, error) {
	return s.Mutate(ctx, messageID, func(m *ChatMessage) bool {
		for _, existing := range m.Reactions {
			if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
				return false
			}
		}
		m.Reactions = append(m.Reactions, r)
		return true
	})
}

// RemoveReaction removes a (user, emoji) pair; removing one that was never
// added leaves the message unchanged.
func (s *MessagesStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*ChatMessage, error) {
	return s.Mutate(ctx, messageID, func(m *ChatMessage) bool {
		for i, existing := range m.Reactions {
			if existing.UserID == userID && existing.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return true
			}
		}
		return false
	})
}

// History returns up to limit messages for a conversation index key,
// oldest first, skipping ids whose message already expired.
func (s *MessagesStore) History(ctx context.Context, convKey string, limit int64) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.kv.ListRange(ctx, convKey, -limit, -1)
	if err != nil {
		return nil, err
	}

	msgs := make([]*ChatMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := s.Get(ctx, string(id))
		if errors.Is(err, store.ErrNotFound) {
			// The index outlives individual messages; expired entries are
			// expected.
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func stripeFor(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32() % reactionStripes
}
