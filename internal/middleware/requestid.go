// Package middleware provides HTTP middleware for QueryForge.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/QueryForge/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"

	maxRequestIDLen = 64
)

// RequestID tags each request with a correlation id. A caller-supplied
// X-Request-ID is kept when it is short and made of safe characters, so a
// frontend can follow one chat turn across its own logs and ours. Anything
// else is replaced by a fresh UUID. The id is echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID rejects ids that could forge log lines or bloat every
// record they are attached to.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := range len(id) {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
