package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/service"
)

// PropService creates props.
type PropService interface {
	CreateProp(ctx context.Context, req service.CreatePropRequest) (domain.Prop, error)
}

// OutcomeService records authoritative prop outcomes.
type OutcomeService interface {
	RecordOutcome(ctx context.Context, req service.RecordOutcomeRequest) (domain.Prop, error)
}

// PropHandler serves prop endpoints.
type PropHandler struct {
	props    PropService
	outcomes OutcomeService
	logger   *slog.Logger
}

// NewPropHandler creates a PropHandler.
func NewPropHandler(props PropService, outcomes OutcomeService, logger *slog.Logger) *PropHandler {
	return &PropHandler{
		props:    props,
		outcomes: outcomes,
		logger:   logger.With(slog.String("handler", "props")),
	}
}

type createPropRequest struct {
	FightID  string   `json:"fight_id" validate:"required"`
	Subject  string   `json:"subject" validate:"required"`
	Category string   `json:"category" validate:"required"`
	Line     *float64 `json:"line" validate:"required,halfstep"`
}

// CreateProp adds an unresolved prop line.
// POST /api/props
func (h *PropHandler) CreateProp(w http.ResponseWriter, r *http.Request) {
	var req createPropRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.props.CreateProp(r.Context(), service.CreatePropRequest{
		FightID:  req.FightID,
		Subject:  req.Subject,
		Category: req.Category,
		Line:     *req.Line,
		ActorID:  actor(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPropJSON(p))
}

type outcomeRequest struct {
	Value    *float64 `json:"value" validate:"required"`
	Override string   `json:"override"`
}

// RecordOutcome sets the authoritative result of a prop.
// PUT /api/props/{id}/outcome
func (h *PropHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.outcomes.RecordOutcome(r.Context(), service.RecordOutcomeRequest{
		PropID:   r.PathValue("id"),
		Value:    req.Value,
		Override: req.Override,
		ActorID:  actor(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropJSON(p))
}
