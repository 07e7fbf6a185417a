package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"flowsync/pkg/logger"
)

// TokenAuth guards the sync endpoints with a static bearer token. An empty
// token disables the check.
type TokenAuth struct {
	token []byte
	log   logger.Logger
}

func NewTokenAuth(token string, log logger.Logger) *TokenAuth {
	return &TokenAuth{
		token: []byte(strings.TrimSpace(token)),
		log:   log,
	}
}

func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
			a.log.Warn("auth: rejected request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
