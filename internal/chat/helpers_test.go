package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psiqueia/psique-chat/internal/kv"
)

var errDisk = errors.New("disk full")

// faultyStore wraps the memory store and lets a test fail selected operations.
type faultyStore struct {
	*kv.Memory
	SetFunc func(key string) error
	GetFunc func(key string) error
}

func (f *faultyStore) Get(ctx context.Context, key string) (string, error) {
	if f.GetFunc != nil {
		if err := f.GetFunc(key); err != nil {
			return "", err
		}
	}
	return f.Memory.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key, value string) error {
	if f.SetFunc != nil {
		if err := f.SetFunc(key); err != nil {
			return err
		}
	}
	return f.Memory.Set(ctx, key, value)
}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type alertRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (a *alertRecorder) Alert(message string) {
	a.mu.Lock()
	a.messages = append(a.messages, message)
	a.mu.Unlock()
}

func (a *alertRecorder) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type fixture struct {
	svc    *Service
	store  *faultyStore
	alerts *alertRecorder
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store := &faultyStore{Memory: kv.NewMemory()}
	alerts := &alertRecorder{}
	if opts.Now == nil {
		opts.Now = newStepClock().Now
	}
	return fixture{svc: NewService(store, opts, alerts), store: store, alerts: alerts}
}

var (
	patient      = Identity{ID: "pat-1", Name: "Patient", Role: RolePatient}
	psychologist = Identity{ID: "psy-1", Name: "Dr. Q", Role: RolePsychologist}
)

func (f fixture) ensure(t *testing.T) Conversation {
	t.Helper()
	c, err := f.svc.EnsureConversation(context.Background(), patient.ID, patient.Name, psychologist.ID, psychologist.Name)
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	return c
}

func (f fixture) unread(t *testing.T, conversationID, participantID string) int {
	t.Helper()
	n, err := f.svc.repo.Unread(context.Background(), conversationID, participantID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	return n
}
