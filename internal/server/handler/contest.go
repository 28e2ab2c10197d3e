package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/scoring"
	"github.com/scorepeers/settlement/internal/service"
)

// ContestService defines the read and management methods the contest
// handler requires from the service layer.
type ContestService interface {
	Get(ctx context.Context, id string) (domain.ContestView, error)
	Standings(ctx context.Context, id string, sel domain.WinnerSelection) (scoring.Plan, error)
	CreateContest(ctx context.Context, req service.CreateContestRequest) (domain.Contest, error)
	Balances(ctx context.Context, userID string) ([]domain.Account, error)
	Receipt(ctx context.Context, contestID string) (domain.SignedReceipt, error)
}

// EntryService joins users to contests.
type EntryService interface {
	Join(ctx context.Context, req service.JoinRequest) (domain.Entry, error)
}

// ContestHandler serves contest, entry, and balance endpoints.
type ContestHandler struct {
	contests ContestService
	entries  EntryService
	logger   *slog.Logger
}

// NewContestHandler creates a ContestHandler.
func NewContestHandler(contests ContestService, entries EntryService, logger *slog.Logger) *ContestHandler {
	return &ContestHandler{
		contests: contests,
		entries:  entries,
		logger:   logger.With(slog.String("handler", "contests")),
	}
}

// GetContest returns committed contest state with its entries.
// GET /api/contests/{id}
func (h *ContestHandler) GetContest(w http.ResponseWriter, r *http.Request) {
	view, err := h.contests.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contestViewJSON{
		Contest: toContestJSON(view.Contest),
		Entries: toEntriesJSON(view.Entries),
	})
}

// Standings previews the ranked outcome without writing anything.
// GET /api/contests/{id}/standings?mode=explicit&entry_ids=a,b
func (h *ContestHandler) Standings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	sel := domain.WinnerSelection{Mode: domain.SelectionMode(q.Get("mode"))}
	if v := q.Get("entry_ids"); v != "" {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				sel.EntryIDs = append(sel.EntryIDs, e)
			}
		}
	}

	plan, err := h.contests.Standings(r.Context(), id, sel)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toStandingsJSON(id, plan))
}

type createContestRequest struct {
	Title         string        `json:"title" validate:"required"`
	Currency      string        `json:"currency" validate:"required,oneof=cash coins"`
	EntryFee      domain.Amount `json:"entry_fee" validate:"gte=0"`
	ProcessingFee domain.Amount `json:"processing_fee" validate:"gte=0"`
	MaxPlayers    int           `json:"max_players" validate:"gte=2"`
	EventStartsAt time.Time     `json:"event_starts_at" validate:"required"`
	PropIDs       []string      `json:"prop_ids" validate:"required,min=1,unique,dive,required"`
}

// CreateContest opens a contest on a card of props.
// POST /api/contests
func (h *ContestHandler) CreateContest(w http.ResponseWriter, r *http.Request) {
	var req createContestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.contests.CreateContest(r.Context(), service.CreateContestRequest{
		Title:         req.Title,
		Currency:      domain.Currency(req.Currency),
		EntryFee:      req.EntryFee,
		ProcessingFee: req.ProcessingFee,
		MaxPlayers:    req.MaxPlayers,
		EventStartsAt: req.EventStartsAt,
		PropIDs:       req.PropIDs,
		ActorID:       actor(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContestJSON(c))
}

type pickRequest struct {
	PropID    string `json:"prop_id" validate:"required"`
	Direction string `json:"direction" validate:"required"`
}

type joinRequest struct {
	UserID string        `json:"user_id" validate:"required"`
	Picks  []pickRequest `json:"picks" validate:"required,min=1,dive"`
}

// Join enters a user into a contest with a set of picks.
// POST /api/contests/{id}/entries
func (h *ContestHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	picks := make([]service.PickInput, 0, len(req.Picks))
	for _, p := range req.Picks {
		picks = append(picks, service.PickInput{PropID: p.PropID, Direction: p.Direction})
	}
	entry, err := h.entries.Join(r.Context(), service.JoinRequest{
		ContestID: r.PathValue("id"),
		UserID:    req.UserID,
		Picks:     picks,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(entry))
}

// Receipt returns the verified signed receipt of a closed contest.
// GET /api/contests/{id}/receipt
func (h *ContestHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	rec, err := h.contests.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Balances lists a user's accounts.
// GET /api/users/{id}/balances
func (h *ContestHandler) Balances(w http.ResponseWriter, r *http.Request) {
	accts, err := h.contests.Balances(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]accountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, accountJSON{Currency: a.Currency, Balance: a.Balance, UpdatedAt: a.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  r.PathValue("id"),
		"accounts": out,
	})
}
