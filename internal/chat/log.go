package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// MessageLog is the append-only, per-conversation message sequence.
// Each conversation's messages are stored as one JSON array and rewritten on every change.
// Writers in one process are serialized per conversation together with the summary update;
// two processes appending to the same conversation concurrently can still lose an update.
type MessageLog struct {
	store   kv.Store
	repo    *Repository
	retries int
	now     func() time.Time
}

func NewMessageLog(store kv.Store, repo *Repository, writeRetries int, now func() time.Time) *MessageLog {
	if now == nil {
		now = time.Now
	}
	return &MessageLog{store: store, repo: repo, retries: writeRetries, now: now}
}

// List returns the conversation's messages in append order, or an empty slice.
func (l *MessageLog) List(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	if _, err := readJSON(ctx, l.store, messagesKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Append trims text, persists a new unread message and updates the conversation summary.
// Blank text fails with ErrEmptyMessage before anything is stored. There is no check that
// the conversation exists; call EnsureConversation first.
//
// When only the summary update fails the message is returned together with ErrInconsistentWrite.
func (l *MessageLog) Append(ctx context.Context, conversationID, text string, sender Identity) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if err := sender.Validate(); err != nil {
		return Message{}, err
	}
	defer l.repo.lockConversation(conversationID)()

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	msg := Message{
		ID:         id.String(),
		Text:       text,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Timestamp:  l.now().UTC(),
		Read:       false,
	}

	msgs, err := l.List(ctx, conversationID)
	if err == nil {
		err = writeJSON(ctx, l.store, messagesKey(conversationID), append(msgs, msg), l.retries)
	}
	if err != nil {
		return Message{}, err
	}
	logger.L.Debug("message appended", "conversation", conversationID, "message", msg.ID, "sender", sender.ID)

	if err := l.repo.recordNewMessage(ctx, conversationID, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// MarkRead flags every message not authored by readerID as read and resets the reader's
// unread counter. Messages authored by the reader are left as they are. A send to the same
// conversation either completes before the flip or starts after the reset.
func (l *MessageLog) MarkRead(ctx context.Context, conversationID, readerID string) error {
	defer l.repo.lockConversation(conversationID)()

	msgs, err := l.List(ctx, conversationID)
	if err != nil {
		return err
	}
	changed := 0
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].Read {
			msgs[i].Read = true
			changed++
		}
	}
	if changed > 0 {
		if err := writeJSON(ctx, l.store, messagesKey(conversationID), msgs, l.retries); err != nil {
			return err
		}
		logger.L.Debug("messages marked read", "conversation", conversationID, "reader", readerID, "count", changed)
	}
	return l.repo.resetUnread(ctx, conversationID, readerID)
}

// Reconcile rebuilds the conversation summary and counters from the log, holding the
// conversation so no send or read lands between reading the log and writing the summary.
func (l *MessageLog) Reconcile(ctx context.Context, conversationID string) error {
	defer l.repo.lockConversation(conversationID)()

	msgs, err := l.List(ctx, conversationID)
	if err != nil {
		return err
	}
	return l.repo.rebuild(ctx, conversationID, msgs)
}
