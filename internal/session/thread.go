package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// ThreadState is a state of the message-thread watcher.
type ThreadState string

const (
	StateIdle    ThreadState = "Idle"
	StateLoading ThreadState = "Loading"
	StateReady   ThreadState = "Ready"
	StateSending ThreadState = "Sending"
	StateError   ThreadState = "Error"
)

// ThreadTrigger moves the thread watcher between states.
type ThreadTrigger string

const (
	TriggerLoad       ThreadTrigger = "Load"
	TriggerLoaded     ThreadTrigger = "Loaded"
	TriggerLoadFailed ThreadTrigger = "LoadFailed"
	TriggerSend       ThreadTrigger = "Send"
	TriggerSent       ThreadTrigger = "Sent"
	TriggerSendFailed ThreadTrigger = "SendFailed"
)

// ErrNotReady rejects a send while the thread is loading, failed or already sending.
var ErrNotReady = errors.New("session: thread is not ready")

// ThreadSource is the subset of chat.Service the thread watcher uses.
type ThreadSource interface {
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
	Send(ctx context.Context, conversationID, text string, sender chat.Identity) (chat.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// ThreadSnapshot is the thread watcher state handed to OnChange.
type ThreadSnapshot struct {
	State    ThreadState
	Messages []chat.Message
	// Draft holds the text of a failed send so it can be retried.
	Draft string
	Err   error
}

// Thread watches one conversation for one participant.
type Thread struct {
	src            ThreadSource
	conversationID string
	me             chat.Identity
	onChange       func(ThreadSnapshot)
	throttle       *Throttle
	poller         *Poller
	life           lifecycle

	mu       sync.Mutex
	fsm      *stateless.StateMachine
	messages *MessageSet
	draft    string
	err      error
	ctx      context.Context
}

func NewThread(src ThreadSource, conversationID string, me chat.Identity, opts Options, onChange func(ThreadSnapshot)) *Thread {
	t := &Thread{
		src:            src,
		conversationID: conversationID,
		me:             me,
		onChange:       onChange,
		throttle:       NewThrottle(opts.MinRefreshInterval, opts.Now),
		fsm:            newThreadMachine(conversationID),
		messages:       NewMessageSet(),
		ctx:            context.Background(),
	}
	t.poller = NewPoller(opts.PollInterval, t.poll)
	return t
}

func newThreadMachine(conversationID string) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerLoad, StateLoading)

	fsm.Configure(StateLoading).
		Permit(TriggerLoaded, StateReady).
		Permit(TriggerLoadFailed, StateError)

	// a failed poll of a loaded thread keeps it Ready with Err set
	fsm.Configure(StateReady).
		Permit(TriggerSend, StateSending)

	// a failed send returns to Ready; the text survives as the draft
	fsm.Configure(StateSending).
		Permit(TriggerSent, StateReady).
		Permit(TriggerSendFailed, StateReady)

	fsm.Configure(StateError).
		Permit(TriggerLoad, StateLoading)

	fsm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		logger.L.Debug("thread state", "conversation", conversationID, "from", tr.Source, "to", tr.Destination, "trigger", tr.Trigger)
	})
	return fsm
}

// stateLocked must be called with t.mu held.
func (t *Thread) stateLocked() ThreadState {
	return t.fsm.MustState().(ThreadState)
}

// fireLocked must be called with t.mu held.
func (t *Thread) fireLocked(trigger ThreadTrigger) {
	if err := t.fsm.Fire(trigger); err != nil {
		logger.L.Warn("thread transition rejected", "conversation", t.conversationID, "trigger", trigger, "error", err)
	}
}

// State returns the current state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Start mounts the watcher, loads the thread and begins polling.
func (t *Thread) Start(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	t.life.mount()
	t.throttle.Touch()
	err := t.load(ctx)
	t.poller.Start()
	return err
}

// Stop cancels polling. In-flight loads and sends complete but their results are dropped.
func (t *Thread) Stop() {
	t.life.unmount()
	t.poller.Stop()
}

// Refresh reloads the thread unless the previous refresh was too recent. From Error it
// retries the load. It reports whether a load ran.
func (t *Thread) Refresh(ctx context.Context) (bool, error) {
	if !t.throttle.Allow() {
		return false, nil
	}
	return true, t.load(ctx)
}

func (t *Thread) poll() {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if _, err := t.Refresh(ctx); err != nil {
		logger.L.Debug("thread poll failed", "conversation", t.conversationID, "error", err)
	}
}

func (t *Thread) load(ctx context.Context) error {
	t.mu.Lock()
	switch t.stateLocked() {
	case StateIdle, StateError:
		t.fireLocked(TriggerLoad)
	case StateLoading:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	t.notify()

	msgs, err := t.src.Messages(ctx, t.conversationID)
	if err == nil {
		t.markRead(ctx, msgs)
	}

	t.life.deliver(func() {
		t.mu.Lock()
		state := t.stateLocked()
		if err != nil {
			t.err = err
			if state == StateLoading {
				t.fireLocked(TriggerLoadFailed)
			}
		} else {
			t.messages.Merge(msgs)
			t.err = nil
			if state == StateLoading {
				t.fireLocked(TriggerLoaded)
			}
		}
		snap := t.snapshotLocked()
		t.mu.Unlock()
		t.emit(snap)
	})
	return err
}

// markRead flags incoming messages as read in the store and in msgs.
func (t *Thread) markRead(ctx context.Context, msgs []chat.Message) {
	pending := false
	for _, m := range msgs {
		if m.SenderID != t.me.ID && !m.Read {
			pending = true
			break
		}
	}
	if !pending {
		return
	}
	if err := t.src.MarkRead(ctx, t.conversationID, t.me.ID); err != nil {
		logger.L.Warn("mark read failed", "conversation", t.conversationID, "reader", t.me.ID, "error", err)
		return
	}
	for i := range msgs {
		if msgs[i].SenderID != t.me.ID {
			msgs[i].Read = true
		}
	}
}

// Send posts text as the current participant. Blank text is ignored with
// chat.ErrEmptyMessage. On success the message is shown at once; on failure the text is
// kept as the draft and no message is added.
func (t *Thread) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, chat.ErrEmptyMessage
	}

	t.mu.Lock()
	if t.stateLocked() != StateReady {
		t.mu.Unlock()
		return chat.Message{}, ErrNotReady
	}
	t.fireLocked(TriggerSend)
	t.draft = ""
	t.mu.Unlock()
	t.notify()

	msg, err := t.src.Send(ctx, t.conversationID, text, t.me)
	persisted := err == nil || errors.Is(err, chat.ErrInconsistentWrite)
	if persisted && err != nil {
		logger.L.Warn("message sent but conversation summary lags", "conversation", t.conversationID, "message", msg.ID, "error", err)
	}

	t.life.deliver(func() {
		t.mu.Lock()
		if persisted {
			t.messages.Put(msg)
			t.err = nil
			t.fireLocked(TriggerSent)
		} else {
			t.draft = text
			t.err = err
			t.fireLocked(TriggerSendFailed)
		}
		snap := t.snapshotLocked()
		t.mu.Unlock()
		t.emit(snap)
	})

	if !persisted {
		return chat.Message{}, err
	}
	return msg, nil
}

func (t *Thread) notify() {
	t.life.deliver(func() {
		t.mu.Lock()
		snap := t.snapshotLocked()
		t.mu.Unlock()
		t.emit(snap)
	})
}

func (t *Thread) emit(snap ThreadSnapshot) {
	if t.onChange != nil {
		t.onChange(snap)
	}
}

func (t *Thread) snapshotLocked() ThreadSnapshot {
	return ThreadSnapshot{
		State:    t.stateLocked(),
		Messages: t.messages.List(),
		Draft:    t.draft,
		Err:      t.err,
	}
}

// Snapshot returns the current thread state.
func (t *Thread) Snapshot() ThreadSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}
