package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/scorepeers/settlement/internal/domain"
)

// AuditService pages the audit trail.
type AuditService interface {
	AuditLog(ctx context.Context, actorID, contestID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  AuditService
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

// List returns audit entries, newest first.
// GET /api/audit?contest_id=...&limit=50&offset=0
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.audit.AuditLog(r.Context(), actor(r), r.URL.Query().Get("contest_id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON{
			ID:        e.ID,
			Event:     e.Event,
			ActorID:   e.ActorID,
			ContestID: e.ContestID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
