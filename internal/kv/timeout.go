package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every operation on next to d. An expired deadline is reported
// as ErrUnavailable so callers can retry. A non-positive d returns next unchanged.
func WithTimeout(next Store, d time.Duration) Store {
	if d <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: d}
}

func (t *timeoutStore) wrap(err error) error {
	if err == nil || errors.Is(err, ErrMiss) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s: %w", ErrUnavailable, t.timeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (t *timeoutStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	v, err := t.next.Get(ctx, key)
	return v, t.wrap(err)
}

func (t *timeoutStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap(t.next.Set(ctx, key, value))
}

func (t *timeoutStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap(t.next.Remove(ctx, key))
}

func (t *timeoutStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	keys, err := t.next.ListKeys(ctx, prefix)
	return keys, t.wrap(err)
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}
