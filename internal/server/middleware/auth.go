package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type actorKey struct{}

// ActorFrom returns the actor resolved by Auth, or "" when the request
// carried no credentials.
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// WithActor returns a copy of ctx carrying actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// Auth returns middleware that resolves the calling actor from either a
// Bearer token in the Authorization header or a key in the X-API-Key header.
// keys maps API key to actor ID. Requests without a token pass through
// anonymously; privileged operations reject them at the capability gate.
// A token that matches no key is rejected with 401.
func Auth(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			actorID, ok := lookupKey(keys, token)
			if !ok {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			if info := infoFrom(r.Context()); info != nil {
				info.actor = actorID
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actorID)))
		})
	}
}

// lookupKey compares token against every key in constant time so the match
// position does not leak through timing.
func lookupKey(keys map[string]string, token string) (string, bool) {
	var found string
	match := 0
	for key, actorID := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			found = actorID
			match = 1
		}
	}
	return found, match == 1
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", msg)
}
