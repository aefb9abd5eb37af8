package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/kv"
)

const secret = "test-secret"

var (
	patient      = chat.Identity{ID: "pat-1", Name: "Patient", Role: chat.RolePatient}
	psychologist = chat.Identity{ID: "psy-1", Name: "Dr. Q", Role: chat.RolePsychologist}
	outsider     = chat.Identity{ID: "pat-2", Name: "Someone Else", Role: chat.RolePatient}
)

// brokenMessages fails every write to a message log.
type brokenMessages struct {
	*kv.Memory
}

func (b brokenMessages) Set(ctx context.Context, key, value string) error {
	if strings.HasPrefix(key, "chat:messages:") {
		return errors.New("quota exceeded")
	}
	return b.Memory.Set(ctx, key, value)
}

func newServer(t *testing.T, store kv.Store) http.Handler {
	t.Helper()
	svc := chat.NewService(store, chat.Options{}, chat.AlertFunc(func(string) {}))
	return New(svc, secret)
}

func token(t *testing.T, id chat.Identity) string {
	t.Helper()
	tok, err := SignToken(secret, id, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func start(t *testing.T, h http.Handler) chat.Conversation {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/conversations", token(t, patient),
		map[string]string{"counterpartId": psychologist.ID, "counterpartName": psychologist.Name})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[chat.Conversation](t, rr)
}

func TestHealth(t *testing.T) {
	h := newServer(t, kv.NewMemory())
	rr := do(t, h, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"alive": true}`, rr.Body.String())
}

func TestAuth(t *testing.T) {
	h := newServer(t, kv.NewMemory())

	rr := do(t, h, http.MethodGet, "/conversations", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	forged, err := SignToken("other-secret", patient, time.Hour)
	require.NoError(t, err)
	rr = do(t, h, http.MethodGet, "/conversations", forged, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	expired, err := SignToken(secret, patient, -time.Minute)
	require.NoError(t, err)
	rr = do(t, h, http.MethodGet, "/conversations", expired, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	noRole, err := SignToken(secret, chat.Identity{ID: "x"}, time.Hour)
	require.NoError(t, err)
	rr = do(t, h, http.MethodGet, "/conversations", noRole, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStartConversation_RolesFollowCaller(t *testing.T) {
	h := newServer(t, kv.NewMemory())

	c := start(t, h)
	require.Equal(t, chat.ConversationID(patient.ID, psychologist.ID), c.ID)
	require.Equal(t, patient.ID, c.PatientID)
	require.Equal(t, psychologist.ID, c.PsychologistID)

	rr := do(t, h, http.MethodPost, "/conversations", token(t, psychologist),
		map[string]string{"counterpartId": patient.ID, "counterpartName": patient.Name})
	require.Equal(t, http.StatusOK, rr.Code)
	again := decode[chat.Conversation](t, rr)
	require.Equal(t, c.ID, again.ID)
	require.Equal(t, patient.ID, again.PatientID)

	rr = do(t, h, http.MethodPost, "/conversations", token(t, patient), map[string]string{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/conversations", token(t, patient), map[string]string{"counterpartId": patient.ID})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStartConversation_CounterpartRole(t *testing.T) {
	h := newServer(t, kv.NewMemory())

	rr := do(t, h, http.MethodPost, "/conversations", token(t, patient),
		map[string]string{"counterpartId": outsider.ID, "counterpartRole": string(chat.RolePatient)})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/conversations", token(t, outsider), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String(), "nothing was created")

	rr = do(t, h, http.MethodPost, "/conversations", token(t, patient),
		map[string]string{"counterpartId": psychologist.ID, "counterpartRole": "admin"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/conversations", token(t, patient),
		map[string]string{"counterpartId": psychologist.ID, "counterpartRole": string(chat.RolePsychologist)})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, psychologist.ID, decode[chat.Conversation](t, rr).PsychologistID)
}

func TestMessageFlow(t *testing.T) {
	h := newServer(t, kv.NewMemory())
	c := start(t, h)
	path := "/conversations/" + c.ID

	rr := do(t, h, http.MethodPost, path+"/messages", token(t, psychologist), map[string]string{"text": " welcome "})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sent := decode[chat.Message](t, rr)
	require.Equal(t, "welcome", sent.Text)
	require.Equal(t, chat.RolePsychologist, sent.SenderRole)

	rr = do(t, h, http.MethodGet, "/unread", token(t, patient), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, decode[map[string]int](t, rr)["total"])

	rr = do(t, h, http.MethodGet, "/conversations", token(t, patient), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]map[string]any](t, rr)
	require.Len(t, list, 1)
	require.Equal(t, "just now", list[0]["displayTime"])
	require.EqualValues(t, 1, list[0]["unreadCount"])

	rr = do(t, h, http.MethodGet, path+"/messages", token(t, patient), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	msgs := decode[[]chat.Message](t, rr)
	require.Len(t, msgs, 1)
	require.Equal(t, sent.ID, msgs[0].ID)

	rr = do(t, h, http.MethodPost, path+"/read", token(t, patient), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/unread", token(t, patient), nil)
	require.Equal(t, 0, decode[map[string]int](t, rr)["total"])

	rr = do(t, h, http.MethodPost, path+"/reconcile", token(t, psychologist), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestConversationAccess(t *testing.T) {
	h := newServer(t, kv.NewMemory())
	c := start(t, h)

	rr := do(t, h, http.MethodGet, "/conversations/"+c.ID+"/messages", token(t, outsider), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodPost, "/conversations/"+c.ID+"/messages", token(t, outsider), map[string]string{"text": "hi"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodGet, "/conversations/nope/messages", token(t, patient), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendMessage_EmptyText(t *testing.T) {
	h := newServer(t, kv.NewMemory())
	c := start(t, h)

	rr := do(t, h, http.MethodPost, "/conversations/"+c.ID+"/messages", token(t, patient), map[string]string{"text": "   "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendMessage_StorageFailure(t *testing.T) {
	h := newServer(t, brokenMessages{Memory: kv.NewMemory()})
	c := start(t, h)

	rr := do(t, h, http.MethodPost, "/conversations/"+c.ID+"/messages", token(t, patient), map[string]string{"text": "hello"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.JSONEq(t, `{"error": "could not send message"}`, rr.Body.String())
}
