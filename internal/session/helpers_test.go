package session

import (
	"context"
	"sync"
	"time"

	"github.com/psiqueia/psique-chat/internal/chat"
)

var (
	patient      = chat.Identity{ID: "pat-1", Name: "Patient", Role: chat.RolePatient}
	psychologist = chat.Identity{ID: "psy-1", Name: "Dr. Q", Role: chat.RolePsychologist}
)

// manualClock only moves when told to.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t.IsZero() {
		c.t = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	}
	c.t = c.t.Add(time.Second)
	return c.t
}

type mockThreadSource struct {
	MessagesFunc func(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendFunc     func(ctx context.Context, conversationID, text string, sender chat.Identity) (chat.Message, error)
	MarkReadFunc func(ctx context.Context, conversationID, readerID string) error
}

func (m *mockThreadSource) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if m.MessagesFunc != nil {
		return m.MessagesFunc(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockThreadSource) Send(ctx context.Context, conversationID, text string, sender chat.Identity) (chat.Message, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, conversationID, text, sender)
	}
	return chat.Message{ID: "m-" + text, Text: text, SenderID: sender.ID, Timestamp: time.Now().UTC()}, nil
}

func (m *mockThreadSource) MarkRead(ctx context.Context, conversationID, readerID string) error {
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, conversationID, readerID)
	}
	return nil
}

type mockConversationSource struct {
	ConversationsFunc func(ctx context.Context, participantID string) ([]chat.Conversation, error)
}

func (m *mockConversationSource) Conversations(ctx context.Context, participantID string) ([]chat.Conversation, error) {
	return m.ConversationsFunc(ctx, participantID)
}

// snapshotRecorder collects OnChange callbacks.
type snapshotRecorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *snapshotRecorder[T]) record(s T) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *snapshotRecorder[T]) last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.items) == 0 {
		return zero
	}
	return r.items[len(r.items)-1]
}
