package chat

import "sync"

// conversationLocks hands out one mutex per conversation id. Entries are dropped once
// no caller holds or waits on them.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until id is free and returns its unlock func. It is not reentrant.
func (c *conversationLocks) lock(id string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*conversationLock)
	}
	l, ok := c.locks[id]
	if !ok {
		l = &conversationLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func (c *conversationLocks) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
