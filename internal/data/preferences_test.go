package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/localmesh/relay/internal/store"
)

func TestPreferencesStore_LazyDefaults(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferencesStore(store.NewMemory())

	got, err := prefs.Get(ctx, "newcomer")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.PushEnabled || !got.Messages || !got.Safety {
		t.Fatalf("expected permissive defaults, got %+v", got)
	}
	if got.QuietHours.Enabled {
		t.Fatalf("quiet hours should default to disabled")
	}
}

func TestPreferencesStore_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferencesStore(store.NewMemory())

	off := false
	updated, err := prefs.Update(ctx, "alice", PreferencesPatch{Messages: &off})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Messages {
		t.Fatalf("messages category should be off")
	}
	if !updated.PushEnabled || !updated.Gigs {
		t.Fatalf("untouched fields must keep defaults: %+v", updated)
	}

	qh := QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	updated, err = prefs.Update(ctx, "alice", PreferencesPatch{QuietHours: &qh})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.QuietHours.Enabled || updated.QuietHours.Start != "22:00" {
		t.Fatalf("quiet hours not applied: %+v", updated.QuietHours)
	}
	if updated.Messages {
		t.Fatalf("earlier patch lost on second update")
	}
}

func TestPreferencesStore_SubscriptionLastWriteWins(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferencesStore(store.NewMemory())

	if _, err := prefs.Subscription(ctx, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before opt-in, got %v", err)
	}

	first := PushSubscription{Endpoint: "https://push.example/one"}
	if err := prefs.SaveSubscription(ctx, "bob", first); err != nil {
		t.Fatalf("SaveSubscription failed: %v", err)
	}
	second := PushSubscription{Endpoint: "https://push.example/two"}
	if err := prefs.SaveSubscription(ctx, "bob", second); err != nil {
		t.Fatalf("SaveSubscription failed: %v", err)
	}

	got, err := prefs.Subscription(ctx, "bob")
	if err != nil {
		t.Fatalf("Subscription failed: %v", err)
	}
	if got.Endpoint != "https://push.example/two" {
		t.Fatalf("expected last write to win, got %q", got.Endpoint)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be stamped on save")
	}
}

func TestPresenceStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps := NewPresenceStore(store.NewMemory())

	seen := time.Now().UTC().Truncate(time.Second)
	if err := ps.Save(ctx, "alice", "away", seen); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap, err := ps.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Status != "away" || !snap.LastSeen.Equal(seen) {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}

	if _, err := ps.Get(ctx, "stranger"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}
