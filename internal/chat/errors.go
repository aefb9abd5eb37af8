package chat

import "errors"

var (
	// ErrEmptyMessage rejects a send whose text is blank after trimming.
	ErrEmptyMessage = errors.New("chat: message text is empty")

	// ErrInvalidIdentity rejects missing participant ids, unknown roles and self-conversations.
	ErrInvalidIdentity = errors.New("chat: invalid identity")

	// ErrConversationNotFound is returned by point lookups only; listings return empty slices.
	ErrConversationNotFound = errors.New("chat: conversation not found")

	// ErrStorageUnavailable wraps every failed read, write or decode of the underlying store.
	ErrStorageUnavailable = errors.New("chat: storage unavailable")

	// ErrInconsistentWrite means a message was persisted but the conversation summary or an
	// unread counter was not. The conversation is marked suspect until reconciled.
	ErrInconsistentWrite = errors.New("chat: conversation state diverged")
)

// FailureError carries the user-facing action that failed alongside the cause.
type FailureError struct {
	Action string
	Err    error
}

func (e *FailureError) Error() string { return e.Action + ": " + e.Err.Error() }

func (e *FailureError) Unwrap() error { return e.Err }
