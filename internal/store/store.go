// Package store provides the durable key-value layer used for message
// persistence, conversation indices, presence snapshots, push
// subscriptions and notification preferences. All values are opaque bytes
// (JSON at the call sites); keys may carry an expiry.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired. Callers
// that treat absence as a normal steady state (preferences, subscriptions,
// reactions on expired messages) check for it with errors.Is.
var ErrNotFound = errors.New("store: key not found")

// KV is the durable store contract. A ttl of zero means the key never
// expires. ListAppend refreshes the list's expiry on every append so
// active conversations keep their index alive.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	ListAppend(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	Close(ctx context.Context) error
}
