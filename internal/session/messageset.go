package session

import (
	"slices"

	"github.com/psiqueia/psique-chat/internal/chat"
)

// MessageSet keeps a thread's messages keyed by id in send order, so merging a refreshed
// list after an optimistic append never shows the same message twice.
// It is not safe for concurrent use.
type MessageSet struct {
	order []string
	byID  map[string]chat.Message
}

func NewMessageSet() *MessageSet {
	return &MessageSet{byID: make(map[string]chat.Message)}
}

// Put inserts or replaces m and reports whether it was new.
func (s *MessageSet) Put(m chat.Message) bool {
	_, exists := s.byID[m.ID]
	s.byID[m.ID] = m
	if exists {
		return false
	}
	s.order = append(s.order, m.ID)
	s.sort()
	return true
}

// Merge applies an authoritative list and returns how many messages were new.
// Messages missing from msgs are kept.
func (s *MessageSet) Merge(msgs []chat.Message) int {
	added := 0
	for _, m := range msgs {
		if _, exists := s.byID[m.ID]; !exists {
			s.order = append(s.order, m.ID)
			added++
		}
		s.byID[m.ID] = m
	}
	if added > 0 {
		s.sort()
	}
	return added
}

func (s *MessageSet) sort() {
	slices.SortStableFunc(s.order, func(a, b string) int {
		if c := s.byID[a].Timestamp.Compare(s.byID[b].Timestamp); c != 0 {
			return c
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
}

// List returns a copy of the messages in order.
func (s *MessageSet) List() []chat.Message {
	out := make([]chat.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *MessageSet) Len() int { return len(s.order) }
