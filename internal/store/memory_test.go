package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	if err := m.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	m.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemory_ListRangeSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, v := range []string{"a", "b", "c", "d"} {
		if err := m.ListAppend(ctx, "l", []byte(v), time.Hour); err != nil {
			t.Fatalf("ListAppend failed: %v", err)
		}
	}

	all, err := m.ListRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(all) != 4 || string(all[0]) != "a" || string(all[3]) != "d" {
		t.Fatalf("unexpected full range: %q", all)
	}

	tail, err := m.ListRange(ctx, "l", -2, -1)
	if err != nil {
		t.Fatalf("ListRange tail failed: %v", err)
	}
	if len(tail) != 2 || string(tail[0]) != "c" || string(tail[1]) != "d" {
		t.Fatalf("unexpected tail range: %q", tail)
	}

	empty, err := m.ListRange(ctx, "missing", 0, -1)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty range for missing key, got %q err=%v", empty, err)
	}
}

func TestMemory_ListExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	if err := m.ListAppend(ctx, "l", []byte("a"), time.Hour); err != nil {
		t.Fatalf("ListAppend failed: %v", err)
	}

	// Appending again refreshes the expiry.
	m.SetClock(func() time.Time { return now.Add(50 * time.Minute) })
	if err := m.ListAppend(ctx, "l", []byte("b"), time.Hour); err != nil {
		t.Fatalf("ListAppend failed: %v", err)
	}

	m.SetClock(func() time.Time { return now.Add(100 * time.Minute) })
	vals, err := m.ListRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected refreshed list to survive, got %d entries", len(vals))
	}

	m.SetClock(func() time.Time { return now.Add(3 * time.Hour) })
	vals, err = m.ListRange(ctx, "l", 0, -1)
	if err != nil || len(vals) != 0 {
		t.Fatalf("expected expired list to be empty, got %q err=%v", vals, err)
	}
}
