package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
)

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RolePatient {
		return RolePsychologist
	}
	return RolePatient
}

// Identity is the current user as supplied by the identity provider.
type Identity struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
	Role Role   `json:"role" validate:"required,oneof=patient psychologist"`
}

// Validate reports ErrInvalidIdentity when a required field is missing or the role is unknown.
func (i Identity) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

// Message is a single entry of a conversation's log.
// Sender fields are a snapshot taken at send time. Only Read changes after creation.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Conversation is a patient/psychologist thread as seen by one participant.
// UnreadCount belongs to that participant only.
type Conversation struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patientId"`
	PatientName      string    `json:"patientName"`
	PsychologistID   string    `json:"psychologistId"`
	PsychologistName string    `json:"psychologistName"`
	LastMessage      *Message  `json:"lastMessage,omitempty"`
	UnreadCount      int       `json:"unreadCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Participants returns the patient and psychologist ids.
func (c Conversation) Participants() []string {
	return []string{c.PatientID, c.PsychologistID}
}

// HasParticipant reports whether id is one of the two participants.
func (c Conversation) HasParticipant(id string) bool {
	return id != "" && (id == c.PatientID || id == c.PsychologistID)
}

// ConversationID derives the stable id of the thread between a and b.
// The pair is sorted, so the order of the arguments does not matter.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}
