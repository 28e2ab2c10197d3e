package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/scorepeers/settlement/internal/domain"
)

// Gate checks capabilities at the edge so a refused caller is turned away
// before its request body is read or validated. The services run the same
// check again inside their operations.
type Gate struct {
	auth   domain.Authorizer
	logger *slog.Logger
}

// NewGate returns a Gate backed by auth. A nil auth lets every request
// through to the service-level check.
func NewGate(auth domain.Authorizer, logger *slog.Logger) *Gate {
	return &Gate{auth: auth, logger: logger}
}

// Require wraps next so it only runs for actors holding c.
func (g *Gate) Require(c domain.Capability, next http.HandlerFunc) http.HandlerFunc {
	if g == nil || g.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		err := g.auth.Authorize(r.Context(), ActorFrom(r.Context()), c)
		switch {
		case err == nil:
			next(w, r)
		case errors.Is(err, domain.ErrForbidden):
			writeJSONError(w, http.StatusForbidden, "forbidden", "forbidden")
		default:
			g.logger.ErrorContext(r.Context(), "capability check failed",
				slog.String("capability", string(c)),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
