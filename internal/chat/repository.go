package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// record is the stored conversation body, shared by both participants.
type record struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patientId"`
	PatientName      string    `json:"patientName"`
	PsychologistID   string    `json:"psychologistId"`
	PsychologistName string    `json:"psychologistName"`
	LastMessage      *Message  `json:"lastMessage,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (r record) view(unread int) Conversation {
	return Conversation{
		ID:               r.ID,
		PatientID:        r.PatientID,
		PatientName:      r.PatientName,
		PsychologistID:   r.PsychologistID,
		PsychologistName: r.PsychologistName,
		LastMessage:      r.LastMessage,
		UnreadCount:      unread,
		UpdatedAt:        r.UpdatedAt,
	}
}

// Repository owns conversation metadata: the shared body, each participant's index
// of conversation ids, and each participant's unread counter.
type Repository struct {
	store             kv.Store
	countSenderUnread bool
	writeRetries      int
	now               func() time.Time

	// conversations serializes every operation on one conversation's body, log and
	// counters. mu serializes participant index updates, which span conversations.
	// Lock order is conversation before mu.
	conversations conversationLocks
	mu            sync.Mutex
}

// NewRepository returns a Repository over store. When countSenderUnread is set the
// sender's own counter is incremented on send as well.
func NewRepository(store kv.Store, countSenderUnread bool, writeRetries int, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{
		store:             store,
		countSenderUnread: countSenderUnread,
		writeRetries:      writeRetries,
		now:               now,
	}
}

func (r *Repository) loadRecord(ctx context.Context, id string) (record, error) {
	var rec record
	found, err := readJSON(ctx, r.store, conversationKey(id), &rec)
	if err != nil {
		return record{}, err
	}
	if !found {
		return record{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return rec, nil
}

// EnsureConversation returns the conversation between the two participants, creating it
// with zero unread counts when it does not exist. It also repairs a missing index entry
// left by an earlier partial write. The returned UnreadCount is not populated.
func (r *Repository) EnsureConversation(ctx context.Context, patientID, patientName, psychologistID, psychologistName string) (Conversation, error) {
	patientID = strings.TrimSpace(patientID)
	psychologistID = strings.TrimSpace(psychologistID)
	if patientID == "" || psychologistID == "" {
		return Conversation{}, fmt.Errorf("%w: both participant ids are required", ErrInvalidIdentity)
	}
	if patientID == psychologistID {
		return Conversation{}, fmt.Errorf("%w: participants must differ", ErrInvalidIdentity)
	}

	id := ConversationID(patientID, psychologistID)
	defer r.lockConversation(id)()

	rec, err := r.loadRecord(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrConversationNotFound):
		rec = record{
			ID:               id,
			PatientID:        patientID,
			PatientName:      patientName,
			PsychologistID:   psychologistID,
			PsychologistName: psychologistName,
			UpdatedAt:        r.now().UTC(),
		}
		if err := writeJSON(ctx, r.store, conversationKey(id), rec, r.writeRetries); err != nil {
			return Conversation{}, err
		}
		logger.L.Info("conversation created", "conversation", id, "patient", patientID, "psychologist", psychologistID)
	default:
		return Conversation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, participantID := range rec.Participants() {
		if err := r.addToIndex(ctx, participantID, id); err != nil {
			if i == 0 {
				// nobody can see the conversation yet; the next call repairs it
				return Conversation{}, err
			}
			return Conversation{}, r.diverged(ctx, id, err)
		}
	}
	return rec.view(0), nil
}

// Participants returns the patient and psychologist ids of the stored body.
func (r record) Participants() []string {
	return []string{r.PatientID, r.PsychologistID}
}

func (r *Repository) index(ctx context.Context, participantID string) ([]string, error) {
	var ids []string
	if _, err := readJSON(ctx, r.store, indexKey(participantID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// addToIndex must be called with r.mu held.
func (r *Repository) addToIndex(ctx context.Context, participantID, id string) error {
	ids, err := r.index(ctx, participantID)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	return writeJSON(ctx, r.store, indexKey(participantID), append(ids, id), r.writeRetries)
}

// ListForParticipant returns every conversation indexed under participantID with that
// participant's unread count. Order is unspecified. Dangling index entries are skipped.
func (r *Repository) ListForParticipant(ctx context.Context, participantID string) ([]Conversation, error) {
	ids, err := r.index(ctx, participantID)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		rec, err := r.loadRecord(ctx, id)
		if errors.Is(err, ErrConversationNotFound) {
			logger.L.Warn("index points at a missing conversation", "participant", participantID, "conversation", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		unread, err := r.Unread(ctx, id, participantID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.view(unread))
	}
	return out, nil
}

// lockConversation blocks until no other operation holds conversation id and returns
// the unlock func.
func (r *Repository) lockConversation(id string) func() {
	return r.conversations.lock(id)
}

// Conversation returns one conversation as seen by viewerID.
func (r *Repository) Conversation(ctx context.Context, id, viewerID string) (Conversation, error) {
	rec, err := r.loadRecord(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	unread, err := r.Unread(ctx, id, viewerID)
	if err != nil {
		return Conversation{}, err
	}
	return rec.view(unread), nil
}

// Unread returns participantID's unread counter for the conversation. Absent means zero.
func (r *Repository) Unread(ctx context.Context, id, participantID string) (int, error) {
	var n int
	if _, err := readJSON(ctx, r.store, unreadKey(id, participantID), &n); err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// RecordNewMessage updates the conversation summary after msg has been appended to the log
// and increments the unread counters. A conversation without a stored body is left alone.
// Any failure here leaves the log ahead of the summary and is reported as ErrInconsistentWrite.
func (r *Repository) RecordNewMessage(ctx context.Context, id string, msg Message) error {
	defer r.lockConversation(id)()
	return r.recordNewMessage(ctx, id, msg)
}

// recordNewMessage must be called with the conversation locked.
func (r *Repository) recordNewMessage(ctx context.Context, id string, msg Message) error {
	rec, err := r.loadRecord(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		logger.L.Warn("message appended to a conversation without metadata", "conversation", id, "message", msg.ID)
		return nil
	}
	if err != nil {
		return r.diverged(ctx, id, err)
	}

	last := msg
	rec.LastMessage = &last
	rec.UpdatedAt = msg.Timestamp
	if err := writeJSON(ctx, r.store, conversationKey(id), rec, r.writeRetries); err != nil {
		return r.diverged(ctx, id, err)
	}

	var failed error
	for _, participantID := range rec.Participants() {
		if participantID == msg.SenderID && !r.countSenderUnread {
			continue
		}
		n, err := r.Unread(ctx, id, participantID)
		if err == nil {
			err = writeJSON(ctx, r.store, unreadKey(id, participantID), n+1, r.writeRetries)
		}
		if err != nil && failed == nil {
			failed = err
		}
	}
	if failed != nil {
		return r.diverged(ctx, id, failed)
	}
	return nil
}

// ResetUnread sets participantID's counter to zero. The other participant is untouched.
func (r *Repository) ResetUnread(ctx context.Context, id, participantID string) error {
	defer r.lockConversation(id)()
	return r.resetUnread(ctx, id, participantID)
}

// resetUnread must be called with the conversation locked.
func (r *Repository) resetUnread(ctx context.Context, id, participantID string) error {
	return writeJSON(ctx, r.store, unreadKey(id, participantID), 0, r.writeRetries)
}

// rebuild recomputes the summary and both counters from the full message log and clears
// the suspect mark. A participant's count is the number of unread messages from the other side.
// It must be called with the conversation locked, and messages read under that lock.
func (r *Repository) rebuild(ctx context.Context, id string, messages []Message) error {
	rec, err := r.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	if n := len(messages); n > 0 {
		last := messages[n-1]
		rec.LastMessage = &last
		rec.UpdatedAt = last.Timestamp
	} else {
		rec.LastMessage = nil
	}
	if err := writeJSON(ctx, r.store, conversationKey(id), rec, r.writeRetries); err != nil {
		return err
	}

	for _, participantID := range rec.Participants() {
		unread := 0
		for _, m := range messages {
			if m.SenderID != participantID && !m.Read {
				unread++
			}
		}
		if err := writeJSON(ctx, r.store, unreadKey(id, participantID), unread, r.writeRetries); err != nil {
			return err
		}
		r.mu.Lock()
		err := r.addToIndex(ctx, participantID, id)
		r.mu.Unlock()
		if err != nil {
			return err
		}
	}
	if err := r.store.Remove(ctx, suspectKey(id)); err != nil {
		return fmt.Errorf("%w: clear suspect %s: %w", ErrStorageUnavailable, id, err)
	}
	logger.L.Info("conversation reconciled", "conversation", id, "messages", len(messages))
	return nil
}

// Suspects lists conversations whose consistency is unknown after a partial write.
func (r *Repository) Suspects(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeys(ctx, suspectPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list suspects: %w", ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, suspectPrefix))
	}
	return ids, nil
}

// diverged logs a partial write, marks the conversation suspect and wraps cause.
func (r *Repository) diverged(ctx context.Context, id string, cause error) error {
	logger.L.Error("conversation copies diverged", "conversation", id, "error", cause)
	if err := r.store.Set(ctx, suspectKey(id), r.now().UTC().Format(time.RFC3339Nano)); err != nil {
		logger.L.Error("could not mark conversation consistency unknown", "conversation", id, "error", err)
	}
	return fmt.Errorf("%w: conversation %s: %w", ErrInconsistentWrite, id, cause)
}
