package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/logger"
)

// Claims are the bearer token claims; the subject is the participant id.
type Claims struct {
	Name string    `json:"name"`
	Role chat.Role `json:"role"`
	jwt.RegisteredClaims
}

type identityKey struct{}

// SignToken issues an HS256 token for id, valid for ttl.
func SignToken(secret string, id chat.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (chat.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return chat.Identity{}, err
	}
	id := chat.Identity{ID: claims.Subject, Name: claims.Name, Role: claims.Role}
	if err := id.Validate(); err != nil {
		return chat.Identity{}, err
	}
	return id, nil
}

// authenticate rejects requests without a valid bearer token and stores the caller's
// identity in the request context.
func authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				errorStatus(w, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
				return
			}
			id, err := parseToken(secret, raw)
			if err != nil {
				logger.L.Debug("token rejected", "url", r.URL.String(), "error", err)
				errorStatus(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}

func caller(r *http.Request) chat.Identity {
	id, _ := r.Context().Value(identityKey{}).(chat.Identity)
	return id
}
