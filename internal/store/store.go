// Package store defines the distributed key/value store the coordinator
// shares state through, with a Redis backend for cross-process coordination
// and an in-process backend with the same contract for fallback mode.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key or hash field does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the coordination backend contract. Both implementations must
// behave identically so fallback mode is a drop-in for distributed mode.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically adds amount to the integer at key and returns the result.
	Incr(ctx context.Context, key string, amount int64) (int64, error)

	// HGet returns one hash field, or ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)
	// HSet writes the given hash fields, creating the hash when absent.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns all hash fields; an empty map when the hash is absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// LAppend appends values to the list at key.
	LAppend(ctx context.Context, key string, values ...string) error
	// LRange returns list elements in [start, stop], inclusive, -1 for end.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Expire sets the key TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Delete removes the key.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
