package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/localmesh/relay/internal/normalize"
	"github.com/localmesh/relay/internal/store"
)

// PreferencesStore persists per-user notification preferences and push
// subscriptions.
type PreferencesStore struct {
	kv store.KV
}

// NewPreferencesStore returns a PreferencesStore using the given KV.
func NewPreferencesStore(kv store.KV) *PreferencesStore {
	return &PreferencesStore{kv: kv}
}

func prefsKey(userID string) string { return "notifyprefs:" + normalize.ID(userID) }
func subKey(userID string) string   { return "pushsub:" + normalize.ID(userID) }

// Get returns the user's preferences, falling back to defaults when the
// user has never written any.
func (s *PreferencesStore) Get(ctx context.Context, userID string) (NotificationPreferences, error) {
	raw, err := s.kv.Get(ctx, prefsKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return NotificationPreferences{}, err
	}
	var prefs NotificationPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return NotificationPreferences{}, fmt.Errorf("decode preferences for %s: %w", userID, err)
	}
	return prefs, nil
}

// Update merges a partial patch into the stored preferences (defaults when
// absent) and persists the result. Preferences never expire.
func (s *PreferencesStore) Update(ctx context.Context, userID string, patch PreferencesPatch) (NotificationPreferences, error) {
	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return NotificationPreferences{}, err
	}

	if patch.PushEnabled != nil {
		prefs.PushEnabled = *patch.PushEnabled
	}
	if patch.Messages != nil {
		prefs.Messages = *patch.Messages
	}
	if patch.Gigs != nil {
		prefs.Gigs = *patch.Gigs
	}
	if patch.Safety != nil {
		prefs.Safety = *patch.Safety
	}
	if patch.Community != nil {
		prefs.Community = *patch.Community
	}
	if patch.QuietHours != nil {
		prefs.QuietHours = *patch.QuietHours
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return NotificationPreferences{}, fmt.Errorf("marshal preferences: %w", err)
	}
	if err := s.kv.Set(ctx, prefsKey(userID), raw, 0); err != nil {
		return NotificationPreferences{}, err
	}
	return prefs, nil
}

// SaveSubscription stores the user's push subscription, replacing any
// previous one (last write wins).
func (s *PreferencesStore) SaveSubscription(ctx context.Context, userID string, sub PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	return s.kv.Set(ctx, subKey(userID), raw, SubscriptionTTL)
}

// Subscription returns the user's push subscription or store.ErrNotFound;
// absence is an expected steady state for users who never opted in.
func (s *PreferencesStore) Subscription(ctx context.Context, userID string) (PushSubscription, error) {
	raw, err := s.kv.Get(ctx, subKey(userID))
	if err != nil {
		return PushSubscription{}, err
	}
	var sub PushSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return PushSubscription{}, fmt.Errorf("decode subscription for %s: %w", userID, err)
	}
	return sub, nil
}

// PresenceStore persists "last known status" snapshots.
type PresenceStore struct {
	kv store.KV
}

// NewPresenceStore returns a PresenceStore using the given KV.
func NewPresenceStore(kv store.KV) *PresenceStore {
	return &PresenceStore{kv: kv}
}

func presenceKey(userID string) string { return "presence:" + normalize.ID(userID) }

// Save writes the presence snapshot with the presence retention TTL.
func (s *PresenceStore) Save(ctx context.Context, userID, status string, lastSeen time.Time) error {
	raw, err := json.Marshal(PresenceSnapshot{Status: status, LastSeen: lastSeen})
	if err != nil {
		return fmt.Errorf("marshal presence snapshot: %w", err)
	}
	return s.kv.Set(ctx, presenceKey(userID), raw, PresenceTTL)
}

// Get returns the last snapshot or store.ErrNotFound.
func (s *PresenceStore) Get(ctx context.Context, userID string) (PresenceSnapshot, error) {
	raw, err := s.kv.Get(ctx, presenceKey(userID))
	if err != nil {
		return PresenceSnapshot{}, err
	}
	var snap PresenceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return PresenceSnapshot{}, fmt.Errorf("decode presence snapshot for %s: %w", userID, err)
	}
	return snap, nil
}
