package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/logger"
)

var validate = validator.New()

// Handler serves the chat routes for the authenticated caller.
type Handler struct {
	svc *chat.Service
	now func() time.Time
}

// startConversationRequest names the other participant. The token only vouches for the
// caller, so CounterpartRole is the client's claim; when given it must be the opposite role.
type startConversationRequest struct {
	CounterpartID   string    `json:"counterpartId" validate:"required"`
	CounterpartName string    `json:"counterpartName"`
	CounterpartRole chat.Role `json:"counterpartRole" validate:"omitempty,oneof=patient psychologist"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// conversationView adds the list's display time to a conversation.
type conversationView struct {
	chat.Conversation
	DisplayTime string `json:"displayTime,omitempty"`
}

// fail maps a chat error to a status. Storage failures only expose the action message.
func fail(w http.ResponseWriter, err error) {
	var failure *chat.FailureError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidIdentity):
		errorStatus(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, chat.ErrConversationNotFound):
		errorStatus(w, http.StatusNotFound, "conversation not found", nil)
	case errors.As(err, &failure):
		errorStatus(w, http.StatusServiceUnavailable, failure.Action, err)
	default:
		errorStatus(w, http.StatusInternalServerError, "internal error", err)
	}
}

// participantConversation loads the {id} conversation and checks the caller is part of it.
func (h *Handler) participantConversation(w http.ResponseWriter, r *http.Request) (chat.Conversation, bool) {
	me := caller(r)
	c, err := h.svc.Conversation(r.Context(), mux.Vars(r)["id"], me.ID)
	if err != nil {
		fail(w, err)
		return chat.Conversation{}, false
	}
	if !c.HasParticipant(me.ID) {
		errorStatus(w, http.StatusForbidden, "not a participant of this conversation", nil)
		return chat.Conversation{}, false
	}
	return c, true
}

// StartConversation ensures the conversation between the caller and a counterpart of the
// opposite role.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorStatus(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		errorStatus(w, http.StatusBadRequest, "counterpartId is required and counterpartRole must be patient or psychologist", nil)
		return
	}

	me := caller(r)
	if req.CounterpartRole != "" && req.CounterpartRole != me.Role.Counterpart() {
		errorStatus(w, http.StatusBadRequest, "a conversation needs one patient and one psychologist", nil)
		return
	}
	var (
		c   chat.Conversation
		err error
	)
	if me.Role == chat.RolePatient {
		c, err = h.svc.EnsureConversation(r.Context(), me.ID, me.Name, req.CounterpartID, req.CounterpartName)
	} else {
		c, err = h.svc.EnsureConversation(r.Context(), req.CounterpartID, req.CounterpartName, me.ID, me.Name)
	}
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Conversations(r.Context(), caller(r).ID)
	if err != nil {
		fail(w, err)
		return
	}
	now := h.now()
	out := make([]conversationView, 0, len(list))
	for _, c := range list {
		v := conversationView{Conversation: c}
		if c.LastMessage != nil {
			v.DisplayTime = chat.FormatTimestamp(c.LastMessage.Timestamp, now)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	total, err := h.svc.TotalUnread(r.Context(), caller(r).ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.Messages(r.Context(), c.ID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage appends a message as the caller. A message that was stored while the
// conversation summary failed to update is still reported as created.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorStatus(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	msg, err := h.svc.Send(r.Context(), c.ID, req.Text, caller(r))
	if errors.Is(err, chat.ErrInconsistentWrite) {
		logger.L.Warn("message stored with stale summary", "conversation", c.ID, "message", msg.ID)
		err = nil
	}
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	c, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), c.ID, caller(r).ID); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reconcile(r.Context(), c.ID); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
