package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/QueryForge/internal/service"
)

type identityCtxKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Method string // "jwt", "api_key" or "default"
}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// Auth returns middleware that resolves the caller from an X-API-Key header
// or an Authorization bearer token. When authEnabled is false, the default
// identity is injected. WebSocket clients that cannot set headers may pass
// the token as ?token=.
func Auth(authSvc *service.AuthService, authEnabled bool, defaultUserID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{UserID: defaultUserID, Method: "default"})))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				uid, err := authSvc.ValidateAPIKey(apiKey)
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{UserID: uid, Method: "api_key"})))
				return
			}

			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "authorization required")
				return
			}
			claims, err := authSvc.ValidateAccessToken(token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{UserID: claims.Subject, Method: "jwt"})))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token := strings.TrimPrefix(h, "Bearer ")
		if token == h {
			return ""
		}
		return token
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// UserIDFromContext returns the authenticated user id, or "" when none.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityCtxKey{}).(Identity)
	return id.UserID
}
