package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// Storage layout. Every value is JSON.
const (
	conversationPrefix = "chat:conversation:"
	indexPrefix        = "chat:conversations:"
	unreadPrefix       = "chat:unread:"
	messagesPrefix     = "chat:messages:"
	suspectPrefix      = "chat:suspect:"
)

func conversationKey(id string) string { return conversationPrefix + id }

func indexKey(participantID string) string { return indexPrefix + participantID }

func unreadKey(id, participantID string) string { return unreadPrefix + id + ":" + participantID }

func messagesKey(id string) string { return messagesPrefix + id }

func suspectKey(id string) string { return suspectPrefix + id }

// readJSON decodes the value at key into v. A missing key reports found=false with no error.
func readJSON(ctx context.Context, store kv.Store, key string, v any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", ErrStorageUnavailable, key, err)
	}
	return true, nil
}

// writeJSON encodes v and stores it at key, retrying a failed write up to retries times.
func writeJSON(ctx context.Context, store kv.Store, key string, v any, retries int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStorageUnavailable, key, err)
	}
	for attempt := 0; ; attempt++ {
		err = store.Set(ctx, key, string(b))
		if err == nil {
			return nil
		}
		logger.L.Warn("kv write failed", "key", key, "attempt", attempt+1, "error", err)
		if attempt >= retries || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: write %s: %w", ErrStorageUnavailable, key, err)
}
