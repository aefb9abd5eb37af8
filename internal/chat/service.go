package chat

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// User-facing failure messages handed to the Alerter.
const (
	ActionStartConversation = "could not start conversation"
	ActionLoadConversations = "could not load conversations"
	ActionLoadMessages      = "could not load messages"
	ActionSendMessage       = "could not send message"
	ActionMarkRead          = "could not mark messages as read"
	ActionReconcile         = "could not repair conversation"
)

// Alerter is the user-facing notification surface. It receives a short action message,
// never raw error detail.
type Alerter interface {
	Alert(message string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(message string)

func (f AlertFunc) Alert(message string) { f(message) }

// LogAlerter writes alerts to the process logger.
var LogAlerter Alerter = AlertFunc(func(message string) {
	logger.L.Info("user alert", "message", message)
})

// Options tune a Service.
type Options struct {
	// CountSenderUnread also increments the sender's own unread counter on send.
	CountSenderUnread bool
	// WriteRetries is how many times a failed store write is retried.
	WriteRetries int
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Service is the chat store entry point: conversation metadata plus message logs.
// Construct one per process and share it.
type Service struct {
	repo    *Repository
	log     *MessageLog
	alerter Alerter
}

func NewService(store kv.Store, opts Options, alerter Alerter) *Service {
	if alerter == nil {
		alerter = LogAlerter
	}
	repo := NewRepository(store, opts.CountSenderUnread, opts.WriteRetries, opts.Now)
	return &Service{
		repo:    repo,
		log:     NewMessageLog(store, repo, opts.WriteRetries, opts.Now),
		alerter: alerter,
	}
}

// fail reports err to the Alerter unless it is a validation or lookup error,
// and wraps it with the action that failed.
func (s *Service) fail(action string, err error) error {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidIdentity), errors.Is(err, ErrConversationNotFound):
		return err
	case errors.Is(err, ErrInconsistentWrite):
		// logged where it happened
	default:
		logger.L.Warn(action, "error", err)
	}
	s.alerter.Alert(action)
	return &FailureError{Action: action, Err: err}
}

func (s *Service) EnsureConversation(ctx context.Context, patientID, patientName, psychologistID, psychologistName string) (Conversation, error) {
	c, err := s.repo.EnsureConversation(ctx, patientID, patientName, psychologistID, psychologistName)
	if err != nil {
		return Conversation{}, s.fail(ActionStartConversation, err)
	}
	return c, nil
}

// Conversations lists participantID's conversations, most recently updated first.
func (s *Service) Conversations(ctx context.Context, participantID string) ([]Conversation, error) {
	list, err := s.repo.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, s.fail(ActionLoadConversations, err)
	}
	SortByUpdated(list)
	return list, nil
}

// Conversation returns one conversation as seen by viewerID.
func (s *Service) Conversation(ctx context.Context, id, viewerID string) (Conversation, error) {
	c, err := s.repo.Conversation(ctx, id, viewerID)
	if err != nil {
		return Conversation{}, s.fail(ActionLoadConversations, err)
	}
	return c, nil
}

// TotalUnread sums participantID's unread counters across all conversations.
func (s *Service) TotalUnread(ctx context.Context, participantID string) (int, error) {
	list, err := s.repo.ListForParticipant(ctx, participantID)
	if err != nil {
		return 0, s.fail(ActionLoadConversations, err)
	}
	total := 0
	for _, c := range list {
		total += c.UnreadCount
	}
	return total, nil
}

func (s *Service) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	msgs, err := s.log.List(ctx, conversationID)
	if err != nil {
		return nil, s.fail(ActionLoadMessages, err)
	}
	return msgs, nil
}

// Send appends text from sender. With ErrInconsistentWrite the returned message was stored
// and can be shown; only the conversation summary lags behind.
func (s *Service) Send(ctx context.Context, conversationID, text string, sender Identity) (Message, error) {
	msg, err := s.log.Append(ctx, conversationID, text, sender)
	if errors.Is(err, ErrInconsistentWrite) {
		return msg, err
	}
	if err != nil {
		return Message{}, s.fail(ActionSendMessage, err)
	}
	return msg, nil
}

func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) error {
	if err := s.log.MarkRead(ctx, conversationID, readerID); err != nil {
		return s.fail(ActionMarkRead, err)
	}
	return nil
}

// Suspects lists conversations left inconsistent by a partial write.
func (s *Service) Suspects(ctx context.Context) ([]string, error) {
	ids, err := s.repo.Suspects(ctx)
	if err != nil {
		return nil, s.fail(ActionLoadConversations, err)
	}
	return ids, nil
}

// Reconcile rebuilds a conversation's summary and unread counters from its message log.
func (s *Service) Reconcile(ctx context.Context, conversationID string) error {
	if err := s.log.Reconcile(ctx, conversationID); err != nil {
		return s.fail(ActionReconcile, err)
	}
	return nil
}

// ReconcileAll reconciles every suspect conversation and returns how many were repaired.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.Suspects(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, id := range ids {
		if err := s.Reconcile(ctx, id); err != nil {
			logger.L.Warn("reconcile failed", "conversation", id, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// SortByUpdated orders conversations by UpdatedAt, newest first. Ties keep id order.
func SortByUpdated(list []Conversation) {
	slices.SortStableFunc(list, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
