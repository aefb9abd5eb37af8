// Package session adapts the chat store to a reactive client: watchers that load once,
// poll while mounted, throttle redundant refreshes and stop delivering updates on Stop.
package session

import (
	"sync"
	"time"

	"github.com/psiqueia/psique-chat/internal/config"
)

// Options configure a watcher. A zero PollInterval disables polling.
type Options struct {
	PollInterval       time.Duration
	MinRefreshInterval time.Duration
	Now                func() time.Time
}

// ConversationListOptions derives list watcher options from the sync config.
func ConversationListOptions(cfg config.SyncConfig) Options {
	return Options{PollInterval: cfg.ConversationPollInterval, MinRefreshInterval: cfg.MinRefreshInterval}
}

// ThreadOptions derives thread watcher options from the sync config.
func ThreadOptions(cfg config.SyncConfig) Options {
	return Options{PollInterval: cfg.ThreadPollInterval, MinRefreshInterval: cfg.MinRefreshInterval}
}

// lifecycle gates every state update and callback on the watcher still being mounted.
type lifecycle struct {
	mu      sync.Mutex
	mounted bool
}

func (l *lifecycle) mount() {
	l.mu.Lock()
	l.mounted = true
	l.mu.Unlock()
}

// unmount waits for an in-progress delivery to finish.
func (l *lifecycle) unmount() {
	l.mu.Lock()
	l.mounted = false
	l.mu.Unlock()
}

// deliver runs fn only while mounted and reports whether it ran.
// fn must not call Stop on the watcher.
func (l *lifecycle) deliver(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.mounted {
		return false
	}
	fn()
	return true
}
