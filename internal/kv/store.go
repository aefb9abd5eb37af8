// Package kv provides the string-keyed persistence adapter used by the chat store.
// Values are opaque strings; callers own serialization.
package kv

import (
	"context"
	"errors"
)

// Store is the minimal contract for a durable key-value store.
// Implementations must be safe for concurrent use. There are no multi-key transactions.
type Store interface {
	// Get returns the value stored at key, or ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// ListKeys returns the keys starting with prefix in lexical order.
	// An empty prefix lists every key.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrMiss signals an absent key. It is never wrapped with ErrUnavailable.
var ErrMiss = errors.New("kv: miss")

// ErrUnavailable wraps every backend failure (I/O, connectivity, timeout, quota).
// Callers treat it as recoverable.
var ErrUnavailable = errors.New("kv: storage unavailable")
