// Package api exposes the chat service over HTTP with bearer-token identities.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// New builds the router. Every route but /health requires a token signed with secret.
func New(svc *chat.Service, secret string) *mux.Router {
	h := &Handler{svc: svc, now: time.Now}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(authenticate(secret))
	authed.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", h.StartConversation).Methods(http.MethodPost)
	authed.HandleFunc("/unread", h.TotalUnread).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", h.SendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/read", h.MarkRead).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/reconcile", h.Reconcile).Methods(http.MethodPost)
	return r
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L.Warn("failed to write response", "error", err)
	}
}

// errorStatus logs err and writes {"error": message}.
func errorStatus(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logger.L.Info(message, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
