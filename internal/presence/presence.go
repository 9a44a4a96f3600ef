// Package presence tracks online/away/busy/offline transitions and relays
// ephemeral typing indicators.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/wire"
)

// Statuses clients may set explicitly. Offline is registry-driven only.
var validStatuses = map[string]bool{
	"online": true, "away": true, "busy": true,
}

// Signaler owns the per-user status state machine:
// offline → online → {away, busy} → online → offline.
// Every transition is broadcast to all connected clients and snapshotted
// to the durable store so "last known status" survives restarts.
type Signaler struct {
	registry  hub.Registry
	router    *hub.Router
	snapshots *data.PresenceStore
	log       *slog.Logger

	// snapshot writes are fire-and-forget; tests flip this to keep them
	// on the caller's goroutine.
	syncSnapshots bool
}

// NewSignaler returns a Signaler over the given registry and router.
func NewSignaler(registry hub.Registry, router *hub.Router, snapshots *data.PresenceStore, log *slog.Logger) *Signaler {
	if log == nil {
		log = slog.Default()
	}
	return &Signaler{registry: registry, router: router, snapshots: snapshots, log: log}
}

// HandleConnect reacts to a registry registration. Only the user's first
// connection publishes the offline→online transition.
func (s *Signaler) HandleConnect(sess hub.Session, cameOnline bool) {
	if !cameOnline {
		return
	}
	s.transition(sess.UserID, "online")
}

// HandleDisconnect reacts to a registry deregistration. Only the last
// device's disconnect publishes the offline transition.
func (s *Signaler) HandleDisconnect(sess hub.Session, wentOffline bool) {
	if !wentOffline {
		return
	}
	s.transition(sess.UserID, "offline")
}

// UpdateStatus applies an explicit client status change (online, away,
// busy). Unknown statuses are a validation error; the connection stays
// open.
func (s *Signaler) UpdateStatus(userID, status string) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid status %q", status)
	}
	if !s.registry.SetStatus(userID, status) {
		return fmt.Errorf("user %s has no live connection", userID)
	}
	s.transition(userID, status)
	return nil
}

func (s *Signaler) transition(userID, status string) {
	now := time.Now().UTC()
	s.router.Deliver(hub.TargetAll, wire.EvStatusChanged, wire.StatusChanged{
		UserID:    userID,
		Status:    status,
		Timestamp: now.UnixMilli(),
	})

	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.snapshots.Save(ctx, userID, status, now); err != nil {
			// Presence snapshots are not safety-critical; degrade to a log
			// line and keep serving.
			s.log.Warn("presence snapshot write failed", "user", userID, "status", status, "error", err)
		}
	}
	if s.syncSnapshots {
		write()
		return
	}
	go write()
}

// UserStatus resolves a user's aggregate status and last-seen time. The
// live registry is authoritative: a user with no live connection is
// offline regardless of what a stale snapshot from a crashed instance
// says; the snapshot only contributes the last-seen timestamp.
func (s *Signaler) UserStatus(ctx context.Context, userID string) (string, time.Time) {
	if status, online := s.registry.LiveStatus(userID); online {
		return status, time.Now().UTC()
	}
	if snap, err := s.snapshots.Get(ctx, userID); err == nil {
		return "offline", snap.LastSeen
	}
	return "offline", time.Time{}
}

// Typing relays an ephemeral typing indicator to the counterparties:
// the recipient's devices for direct chats, the room minus the sender for
// group chats. Indicators are never persisted.
func (s *Signaler) Typing(sess hub.Session, t wire.Typing, isTyping bool) error {
	if (t.RecipientID == "") == (t.RoomID == "") {
		return fmt.Errorf("exactly one of recipientId and roomId must be set")
	}

	indicator := wire.TypingIndicator{
		UserID:   sess.UserID,
		Username: sess.DisplayName,
		IsTyping: isTyping,
	}
	if t.RecipientID != "" {
		s.router.Deliver(hub.UserTarget(t.RecipientID), wire.EvTypingIndicator, indicator)
		return nil
	}
	s.router.DeliverExcept(hub.RoomTarget(t.RoomID), sess.Handle, wire.EvTypingIndicator, indicator)
	return nil
}
