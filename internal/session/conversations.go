package session

import (
	"context"
	"sync"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// ConversationSource is the subset of chat.Service the list watcher reads from.
type ConversationSource interface {
	Conversations(ctx context.Context, participantID string) ([]chat.Conversation, error)
}

// ConversationSnapshot is the list watcher state handed to OnChange.
type ConversationSnapshot struct {
	Conversations []chat.Conversation
	TotalUnread   int
	Loaded        bool
	Err           error
}

// ConversationList keeps a participant's conversations fresh, newest first.
type ConversationList struct {
	src           ConversationSource
	participantID string
	onChange      func(ConversationSnapshot)
	throttle      *Throttle
	poller        *Poller
	life          lifecycle

	mu     sync.Mutex
	items  []chat.Conversation
	loaded bool
	err    error
	ctx    context.Context
}

func NewConversationList(src ConversationSource, participantID string, opts Options, onChange func(ConversationSnapshot)) *ConversationList {
	l := &ConversationList{
		src:           src,
		participantID: participantID,
		onChange:      onChange,
		throttle:      NewThrottle(opts.MinRefreshInterval, opts.Now),
		ctx:           context.Background(),
	}
	l.poller = NewPoller(opts.PollInterval, l.poll)
	return l
}

// Start mounts the watcher, loads once and begins polling. The load error, if any, is
// returned but polling starts regardless.
func (l *ConversationList) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	l.life.mount()
	l.throttle.Touch()
	err := l.load(ctx)
	l.poller.Start()
	return err
}

// Stop cancels polling. Results of loads still in flight are discarded.
func (l *ConversationList) Stop() {
	l.life.unmount()
	l.poller.Stop()
}

// Refresh reloads unless the previous refresh was too recent; it reports whether it ran.
func (l *ConversationList) Refresh(ctx context.Context) (bool, error) {
	if !l.throttle.Allow() {
		return false, nil
	}
	return true, l.load(ctx)
}

func (l *ConversationList) poll() {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if _, err := l.Refresh(ctx); err != nil {
		logger.L.Debug("conversation poll failed", "participant", l.participantID, "error", err)
	}
}

func (l *ConversationList) load(ctx context.Context) error {
	list, err := l.src.Conversations(ctx, l.participantID)
	if err == nil {
		chat.SortByUpdated(list)
	}
	l.life.deliver(func() {
		l.mu.Lock()
		if err != nil {
			l.err = err
		} else {
			l.items = list
			l.loaded = true
			l.err = nil
		}
		snap := l.snapshotLocked()
		l.mu.Unlock()
		if l.onChange != nil {
			l.onChange(snap)
		}
	})
	return err
}

func (l *ConversationList) snapshotLocked() ConversationSnapshot {
	items := append([]chat.Conversation(nil), l.items...)
	total := 0
	for _, c := range items {
		total += c.UnreadCount
	}
	return ConversationSnapshot{Conversations: items, TotalUnread: total, Loaded: l.loaded, Err: l.err}
}

// TotalUnread is the badge total of the last successful load.
func (l *ConversationList) TotalUnread() int {
	return l.Snapshot().TotalUnread
}

// Snapshot returns the current list state.
func (l *ConversationList) Snapshot() ConversationSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}
