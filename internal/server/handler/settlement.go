package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/service"
)

// SettlementService closes contests.
type SettlementService interface {
	Settle(ctx context.Context, req service.SettleRequest) (service.SettlementResult, error)
	Refund(ctx context.Context, req service.RefundRequest) (service.RefundResult, error)
}

// SettlementHandler serves the settle and refund admin endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logger.With(slog.String("handler", "settlement")),
	}
}

type settleRequest struct {
	Mode        string   `json:"mode" validate:"omitempty,oneof=auto explicit draw"`
	EntryIDs    []string `json:"entry_ids" validate:"omitempty,unique,dive,required"`
	ConfirmVoid bool     `json:"confirm_void"`
}

// Settle pays out a contest. Repeating a committed settlement returns the
// stored result with replayed set.
// POST /api/contests/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.settlements.Settle(r.Context(), service.SettleRequest{
		ContestID: r.PathValue("id"),
		Selection: domain.WinnerSelection{
			Mode:     domain.SelectionMode(req.Mode),
			EntryIDs: req.EntryIDs,
		},
		ConfirmVoid: req.ConfirmVoid,
		ActorID:     actor(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Refund returns every entry fee of a contest.
// POST /api/contests/{id}/refund
func (h *SettlementHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.settlements.Refund(r.Context(), service.RefundRequest{
		ContestID: r.PathValue("id"),
		Reason:    req.Reason,
		ActorID:   actor(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
