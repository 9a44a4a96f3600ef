// Package chat validates, persists and relays chat messages and reaction
// mutations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/normalize"
	"github.com/localmesh/relay/internal/notify"
	"github.com/localmesh/relay/internal/store"
	"github.com/localmesh/relay/internal/wire"
)

// ValidationError marks a malformed event payload. The offending event is
// rejected; the connection stays open.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// Engine is the messaging engine. Messages are persisted before they are
// relayed: a message that could not be stored is never delivered.
type Engine struct {
	msgs       *data.MessagesStore
	registry   hub.Registry
	router     *hub.Router
	dispatcher *notify.Dispatcher
	log        *slog.Logger

	// echoAllDevices controls whether the sender's other devices also
	// receive the chat:message_sent echo, or only the originating
	// connection (the default).
	echoAllDevices bool
}

// NewEngine returns an Engine.
func NewEngine(msgs *data.MessagesStore, registry hub.Registry, router *hub.Router, dispatcher *notify.Dispatcher, echoAllDevices bool, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		msgs:           msgs,
		registry:       registry,
		router:         router,
		dispatcher:     dispatcher,
		echoAllDevices: echoAllDevices,
		log:            log,
	}
}

// SendMessage validates, timestamps, persists and relays a chat message,
// falling back to a push notification for offline direct recipients.
func (e *Engine) SendMessage(ctx context.Context, sess hub.Session, in wire.SendMessage) (*data.ChatMessage, error) {
	recipientID := normalize.ID(in.RecipientID)
	roomID := normalize.ID(in.RoomID)
	if (recipientID == "") == (roomID == "") {
		return nil, ValidationError("exactly one of recipientId and roomId must be set")
	}
	if in.Content == "" {
		return nil, ValidationError("content must not be empty")
	}
	msgType := in.Type
	if msgType == "" {
		msgType = "text"
	}

	msg := e.msgs.New(sess.UserID, sess.DisplayName, recipientID, roomID, in.Content, msgType)

	// Write-then-relay: a persistence failure aborts the send and nothing
	// is delivered.
	if err := e.msgs.Save(ctx, msg); err != nil {
		return nil, err
	}

	if roomID != "" {
		e.router.DeliverExcept(hub.RoomTarget(roomID), sess.Handle, wire.EvMessageReceived, msg)
	} else {
		e.router.Deliver(hub.UserTarget(recipientID), wire.EvMessageReceived, msg)
	}
	e.echo(sess, msg)

	if err := e.msgs.Index(ctx, msg); err != nil {
		// The message itself is stored and delivered; a failed index
		// append only degrades history.
		e.log.Warn("conversation index append failed", "message", msg.ID, "error", err)
	}

	// Only direct messages fall back to push; group rooms never do.
	if recipientID != "" && !e.registry.IsOnline(recipientID) {
		e.notifyOffline(ctx, recipientID, msg)
	}
	return msg, nil
}

func (e *Engine) echo(sess hub.Session, msg *data.ChatMessage) {
	if e.echoAllDevices {
		e.router.Deliver(hub.UserTarget(sess.UserID), wire.EvMessageSent, msg)
		return
	}
	if conn, ok := e.registry.Conn(sess.Handle); ok {
		if err := conn.Send(wire.EvMessageSent, msg); err != nil {
			e.log.Debug("sent echo failed", "handle", sess.Handle, "error", err)
		}
	}
}

func (e *Engine) notifyOffline(ctx context.Context, recipientID string, msg *data.ChatMessage) {
	preview := msg.Content
	if msg.Type != "text" {
		preview = fmt.Sprintf("sent a %s", msg.Type)
	}
	note := wire.Notification{
		Title: msg.SenderName,
		Body:  preview,
		Data: map[string]any{
			"type":      "chat_message",
			"messageId": msg.ID,
			"senderId":  msg.SenderID,
		},
	}
	if err := e.dispatcher.MaybeNotify(ctx, recipientID, notify.CategoryMessages, note); err != nil {
		e.log.Warn("push dispatch failed", "recipient", recipientID, "message", msg.ID, "error", err)
	}
}

// React applies a reaction mutation and broadcasts the updated reaction
// set to the message's original target. Reacting to a missing or expired
// message is a silent no-op.
func (e *Engine) React(ctx context.Context, sess hub.Session, ref wire.ReactionRef, add bool) error {
	if ref.MessageID == "" || ref.Emoji == "" {
		return ValidationError("messageId and emoji are required")
	}

	var msg *data.ChatMessage
	var err error
	if add {
		msg, err = e.msgs.AddReaction(ctx, ref.MessageID, data.Reaction{
			Emoji:    ref.Emoji,
			UserID:   sess.UserID,
			Username: sess.DisplayName,
		})
	} else {
		msg, err = e.msgs.RemoveReaction(ctx, ref.MessageID, sess.UserID, ref.Emoji)
	}
	if errors.Is(err, store.ErrNotFound) {
		// The message may have expired naturally.
		return nil
	}
	if err != nil {
		return err
	}

	update := wire.ReactionUpdated{MessageID: msg.ID, Reactions: msg.Reactions}
	if msg.RoomID != "" {
		e.router.Deliver(hub.RoomTarget(msg.RoomID), wire.EvReactionUpdated, update)
		return nil
	}
	e.router.Deliver(hub.UserTarget(msg.SenderID), wire.EvReactionUpdated, update)
	e.router.Deliver(hub.UserTarget(msg.RecipientID), wire.EvReactionUpdated, update)
	return nil
}

// DirectHistory returns recent messages between two users, oldest first.
func (e *Engine) DirectHistory(ctx context.Context, a, b string, limit int64) ([]*data.ChatMessage, error) {
	return e.msgs.History(ctx, data.DirectConversationKey(a, b), limit)
}

// RoomHistory returns recent messages in a room, oldest first.
func (e *Engine) RoomHistory(ctx context.Context, roomID string, limit int64) ([]*data.ChatMessage, error) {
	return e.msgs.History(ctx, data.RoomConversationKey(roomID), limit)
}
