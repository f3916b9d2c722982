package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const (
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

// APIKeyHeader carries the public (anon) key on every request.
const APIKeyHeader = "apikey"

// RequireAPIKey rejects requests that do not present the anon key in the
// "apikey" header, as a bearer token, or as an "apikey" query parameter.
//
// The anon key is public: it identifies the project, it does not
// authenticate a user. User identity comes from Authenticate.
func RequireAPIKey(anonKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				key = bearerToken(r)
			}
			if key == "" {
				// websocket clients in browsers cannot set headers
				key = r.URL.Query().Get(APIKeyHeader)
			}
			if !equalKeys(key, anonKey) {
				writeUnauthorized(w, "invalid_api_key", "a valid API key is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate resolves the caller's identity from the bearer token.
//
// A bearer equal to the anon key, a missing bearer, or an invalid/expired
// access token all leave the request anonymous; routes that need a user
// add RequireAuth after this middleware.
func Authenticate(tokens *TokenService, anonKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw != "" && !equalKeys(raw, anonKey) {
				if c, err := tokens.ValidateAccess(raw); err == nil {
					ctx := context.WithValue(r.Context(), userIDKey, c.Subject)
					ctx = context.WithValue(ctx, sessionIDKey, c.SessionID)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth stops anonymous requests with 401. It must run after Authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			writeUnauthorized(w, "unauthenticated", "valid authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// SessionIDFromContext returns the session the access token was issued for.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// WithUserID returns a context carrying an authenticated identity.
// Handlers and tests use it to bypass token parsing.
func WithUserID(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func equalKeys(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `","code":"` + code + `"}`))
}
