package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/scoring"
	"github.com/scorepeers/settlement/internal/server/handler"
	"github.com/scorepeers/settlement/internal/service"
)

// fakeServices implements every service interface the handlers consume.
type fakeServices struct {
	err error

	settleReq  service.SettleRequest
	refundReq  service.RefundRequest
	outcomeReq service.RecordOutcomeRequest
	joinReq    service.JoinRequest
	standSel   domain.WinnerSelection
	auditActor string
	auditID    string
}

func (f *fakeServices) Get(_ context.Context, id string) (domain.ContestView, error) {
	if f.err != nil {
		return domain.ContestView{}, f.err
	}
	return domain.ContestView{
		Contest: domain.Contest{ID: id, Title: "UFC 300", Currency: domain.CurrencyCash, AdminStatus: domain.AdminReady, PlayerStatus: domain.PlayerActive},
		Entries: []domain.Entry{{ID: "e1", UserID: "u1"}},
	}, nil
}

func (f *fakeServices) Standings(_ context.Context, _ string, sel domain.WinnerSelection) (scoring.Plan, error) {
	f.standSel = sel
	if f.err != nil {
		return scoring.Plan{}, f.err
	}
	return scoring.Plan{
		Standings: scoring.Standings{Entries: []domain.Entry{{ID: "e1", Score: 3, Rank: 1}}, TopScore: 3, Winners: []string{"e1"}},
		Mode:      domain.SelectAuto,
		WinnerIDs: []string{"e1"},
		Payouts:   []domain.Payout{{EntryID: "e1", UserID: "u1", Amount: 20000}},
		Total:     20000,
	}, nil
}

func (f *fakeServices) CreateContest(_ context.Context, req service.CreateContestRequest) (domain.Contest, error) {
	if f.err != nil {
		return domain.Contest{}, f.err
	}
	return domain.Contest{ID: "c9", Title: req.Title, Currency: req.Currency}, nil
}

func (f *fakeServices) Balances(_ context.Context, userID string) ([]domain.Account, error) {
	return []domain.Account{{UserID: userID, Currency: domain.CurrencyCoins, Balance: 150}}, f.err
}

func (f *fakeServices) Receipt(_ context.Context, id string) (domain.SignedReceipt, error) {
	if f.err != nil {
		return domain.SignedReceipt{}, f.err
	}
	return domain.SignedReceipt{Payload: json.RawMessage(`{"contest_id":"` + id + `"}`), KeyID: "abcd1234", Signature: "sig"}, nil
}

func (f *fakeServices) Join(_ context.Context, req service.JoinRequest) (domain.Entry, error) {
	f.joinReq = req
	if f.err != nil {
		return domain.Entry{}, f.err
	}
	return domain.Entry{ID: "e2", ContestID: req.ContestID, UserID: req.UserID}, nil
}

func (f *fakeServices) Settle(_ context.Context, req service.SettleRequest) (service.SettlementResult, error) {
	f.settleReq = req
	if f.err != nil {
		return service.SettlementResult{}, f.err
	}
	return service.SettlementResult{ContestID: req.ContestID, Winners: []string{"e1"}, Total: 20000, SettledBy: req.ActorID}, nil
}

func (f *fakeServices) Refund(_ context.Context, req service.RefundRequest) (service.RefundResult, error) {
	f.refundReq = req
	if f.err != nil {
		return service.RefundResult{}, f.err
	}
	return service.RefundResult{ContestID: req.ContestID, Reason: req.Reason, RefundedBy: req.ActorID}, nil
}

func (f *fakeServices) CreateProp(_ context.Context, req service.CreatePropRequest) (domain.Prop, error) {
	if f.err != nil {
		return domain.Prop{}, f.err
	}
	return domain.Prop{ID: "p9", FightID: req.FightID, Line: req.Line}, nil
}

func (f *fakeServices) RecordOutcome(_ context.Context, req service.RecordOutcomeRequest) (domain.Prop, error) {
	f.outcomeReq = req
	if f.err != nil {
		return domain.Prop{}, f.err
	}
	return domain.Prop{ID: req.PropID, OutcomeValue: req.Value}, nil
}

func (f *fakeServices) AuditLog(_ context.Context, actorID, contestID string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	f.auditActor, f.auditID = actorID, contestID
	if f.err != nil {
		return nil, f.err
	}
	return []domain.AuditEntry{{ID: 1, Event: "contest.settled", ActorID: actorID, ContestID: contestID}}, nil
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, svc *fakeServices, limiter domain.RateLimiter, deps map[string]handler.Pinger) http.Handler {
	t.Helper()
	logger := testLogger()
	cfg := Config{
		APIKeys:    map[string]string{"admin-key": "alice"},
		RateLimit:  10,
		RateWindow: time.Minute,
	}
	return NewHandler(cfg, Handlers{
		Health:     handler.NewHealthHandler(deps, logger),
		Contests:   handler.NewContestHandler(svc, svc, logger),
		Settlement: handler.NewSettlementHandler(svc, logger),
		Props:      handler.NewPropHandler(svc, svc, logger),
		Audit:      handler.NewAuditHandler(svc, logger),
	}, nil, limiter, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		h := newTestHandler(t, &fakeServices{}, nil, map[string]handler.Pinger{
			"postgres": handler.PingFunc(func(context.Context) error { return nil }),
		})
		rec := do(t, h, http.MethodGet, "/api/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode(t, rec)["status"])
	})

	t.Run("dependency down", func(t *testing.T) {
		h := newTestHandler(t, &fakeServices{}, nil, map[string]handler.Pinger{
			"redis": handler.PingFunc(func(context.Context) error { return errors.New("refused") }),
		})
		rec := do(t, h, http.MethodGet, "/api/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "down", body["checks"].(map[string]any)["redis"])
	})
}

func TestSettlePassesActorAndSelection(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/contests/c1/settle",
		`{"mode":"explicit","entry_ids":["e1","e2"],"confirm_void":false}`,
		"Authorization", "Bearer admin-key")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "c1", svc.settleReq.ContestID)
	assert.Equal(t, "alice", svc.settleReq.ActorID)
	assert.Equal(t, domain.SelectExplicit, svc.settleReq.Selection.Mode)
	assert.Equal(t, []string{"e1", "e2"}, svc.settleReq.Selection.EntryIDs)

	body := decode(t, rec)
	assert.Equal(t, "200.00", body["total"])
	assert.Equal(t, "alice", body["settled_by"])
}

func TestAnonymousCallerReachesGate(t *testing.T) {
	svc := &fakeServices{err: fmt.Errorf("%w: actor \"\" lacks contest:settle", domain.ErrForbidden)}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/contests/c1/settle", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.settleReq.ActorID)
}

func TestUnknownTokenRejected(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/contests/c1/refund", `{"reason":"x"}`, "X-API-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.refundReq.ContestID)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"precondition", fmt.Errorf("settle c1: %w", domain.ErrUnresolvedProp), http.StatusUnprocessableEntity, "precondition_failed", false},
		{"void not confirmed", domain.ErrVoidNotConfirmed, http.StatusUnprocessableEntity, "precondition_failed", false},
		{"conflict", fmt.Errorf("contest c1 already refunded: %w", domain.ErrConflict), http.StatusConflict, "conflict", false},
		{"not found", fmt.Errorf("contest c1: %w", domain.ErrNotFound), http.StatusNotFound, "not_found", false},
		{"unavailable", fmt.Errorf("settle c1: %w: %w", domain.ErrUnavailable, errors.New("conn reset")), http.StatusServiceUnavailable, "unavailable", true},
		{"lock contention", fmt.Errorf("settle c1: %w: %w", domain.ErrUnavailable, domain.ErrLockHeld), http.StatusServiceUnavailable, "unavailable", true},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeServices{err: tt.err}, nil, nil)
			rec := do(t, h, http.MethodPost, "/api/contests/c1/settle", `{}`, "X-API-Key", "admin-key")

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.code, body["code"])
			if tt.retryable {
				assert.Equal(t, true, body["retryable"])
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
				assert.NotContains(t, body["error"], "conn reset")
			} else {
				assert.Nil(t, body["retryable"])
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	h := newTestHandler(t, &fakeServices{}, nil, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/api/contests/c1/settle", `{`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/contests/c1/settle", `{"winners":["e1"]}`, http.StatusBadRequest},
		{"bad mode", http.MethodPost, "/api/contests/c1/settle", `{"mode":"random"}`, http.StatusUnprocessableEntity},
		{"duplicate entry ids", http.MethodPost, "/api/contests/c1/settle", `{"mode":"explicit","entry_ids":["e1","e1"]}`, http.StatusUnprocessableEntity},
		{"refund without reason", http.MethodPost, "/api/contests/c1/refund", `{}`, http.StatusUnprocessableEntity},
		{"outcome without value", http.MethodPut, "/api/props/p1/outcome", `{"override":"none"}`, http.StatusUnprocessableEntity},
		{"join without picks", http.MethodPost, "/api/contests/c1/entries", `{"user_id":"u1","picks":[]}`, http.StatusUnprocessableEntity},
		{"contest with one player", http.MethodPost, "/api/contests", `{"title":"t","currency":"cash","max_players":1,"event_starts_at":"2026-01-01T00:00:00Z","prop_ids":["p1"]}`, http.StatusUnprocessableEntity},
		{"prop whole-number line", http.MethodPost, "/api/props", `{"fight_id":"f1","subject":"Jones","category":"strikes","line":45}`, http.StatusUnprocessableEntity},
		{"prop quarter line", http.MethodPost, "/api/props", `{"fight_id":"f1","subject":"Jones","category":"strikes","line":45.25}`, http.StatusUnprocessableEntity},
		{"prop half-step line", http.MethodPost, "/api/props", `{"fight_id":"f1","subject":"Jones","category":"strikes","line":45.5}`, http.StatusCreated},
		{"contest bad currency", http.MethodPost, "/api/contests", `{"title":"t","currency":"gems","max_players":2,"event_starts_at":"2026-01-01T00:00:00Z","prop_ids":["p1"]}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body, "X-API-Key", "admin-key")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRefund(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/contests/c1/refund", `{"reason":"Event cancelled"}`, "X-API-Key", "admin-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, service.RefundRequest{ContestID: "c1", Reason: "Event cancelled", ActorID: "alice"}, svc.refundReq)
	assert.Equal(t, "Event cancelled", decode(t, rec)["reason"])
}

func TestRecordOutcome(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPut, "/api/props/p1/outcome", `{"value":4.5,"override":"no_contest"}`, "X-API-Key", "admin-key")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "p1", svc.outcomeReq.PropID)
	require.NotNil(t, svc.outcomeReq.Value)
	assert.Equal(t, 4.5, *svc.outcomeReq.Value)
	assert.Equal(t, "no_contest", svc.outcomeReq.Override)
	assert.Equal(t, "alice", svc.outcomeReq.ActorID)
}

func TestJoin(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/contests/c1/entries",
		`{"user_id":"u7","picks":[{"prop_id":"p1","direction":"more"},{"prop_id":"p2","direction":"less"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "c1", svc.joinReq.ContestID)
	assert.Equal(t, "u7", svc.joinReq.UserID)
	assert.Equal(t, []service.PickInput{{PropID: "p1", Direction: "more"}, {PropID: "p2", Direction: "less"}}, svc.joinReq.Picks)
}

func TestReadEndpoints(t *testing.T) {
	svc := &fakeServices{}
	h := newTestHandler(t, svc, nil, nil)

	t.Run("contest", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/contests/c1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		contest := body["contest"].(map[string]any)
		assert.Equal(t, "c1", contest["id"])
		assert.Equal(t, "ready", contest["admin_status"])
		assert.Equal(t, "active", contest["player_status"])
		assert.Len(t, body["entries"], 1)
	})

	t.Run("standings query", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/contests/c1/standings?mode=draw&entry_ids=e1,%20e2,", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.WinnerSelection{Mode: domain.SelectDraw, EntryIDs: []string{"e1", "e2"}}, svc.standSel)
		body := decode(t, rec)
		assert.Equal(t, "200.00", body["total"])
		assert.Equal(t, false, body["void"])
	})

	t.Run("receipt", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/contests/c1/receipt", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "abcd1234", body["key_id"])
		assert.Equal(t, "c1", body["payload"].(map[string]any)["contest_id"])
	})

	t.Run("balances", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/users/u1/balances", "")
		require.Equal(t, http.StatusOK, rec.Code)
		accounts := decode(t, rec)["accounts"].([]any)
		require.Len(t, accounts, 1)
		assert.Equal(t, "1.50", accounts[0].(map[string]any)["balance"])
	})

	t.Run("audit", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/audit?contest_id=c1&limit=10", "", "X-API-Key", "admin-key")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", svc.auditActor)
		assert.Equal(t, "c1", svc.auditID)
		assert.EqualValues(t, 10, decode(t, rec)["limit"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("mutation over limit", func(t *testing.T) {
		lim := &stubLimiter{allow: false}
		h := newTestHandler(t, &fakeServices{}, lim, nil)

		rec := do(t, h, http.MethodPost, "/api/contests/c1/refund", `{"reason":"x"}`, "X-API-Key", "admin-key")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, []string{"api:actor:alice"}, lim.keys)
	})

	t.Run("reads are not limited", func(t *testing.T) {
		lim := &stubLimiter{allow: false}
		h := newTestHandler(t, &fakeServices{}, lim, nil)

		rec := do(t, h, http.MethodGet, "/api/contests/c1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, lim.keys)
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		lim := &stubLimiter{err: errors.New("redis down")}
		h := newTestHandler(t, &fakeServices{}, lim, nil)

		rec := do(t, h, http.MethodPost, "/api/contests/c1/refund", `{"reason":"x"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, lim.keys, 1)
		assert.True(t, strings.HasPrefix(lim.keys[0], "api:ip:"))
	})
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, &fakeServices{}, nil, nil)
	rec := do(t, h, http.MethodOptions, "/api/contests/c1/settle", "", "Origin", "https://admin.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCapabilityCheckedBeforeBody(t *testing.T) {
	svc := &fakeServices{}
	logger := testLogger()
	h := NewHandler(Config{
		APIKeys:    map[string]string{"admin-key": "alice"},
		Authorizer: service.NewStaticAuthorizer(map[string][]domain.Capability{"alice": {domain.CapabilitySettle}}),
	}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Contests:   handler.NewContestHandler(svc, svc, logger),
		Settlement: handler.NewSettlementHandler(svc, logger),
		Props:      handler.NewPropHandler(svc, svc, logger),
		Audit:      handler.NewAuditHandler(svc, logger),
	}, nil, nil, logger)

	tests := []struct {
		name    string
		path    string
		body    string
		headers []string
		status  int
	}{
		{"anonymous with invalid body", "/api/contests/c1/refund", `{"reason":""}`, nil, http.StatusForbidden},
		{"anonymous with malformed json", "/api/contests/c1/settle", `{`, nil, http.StatusForbidden},
		{"admin lacking capability", "/api/contests/c1/refund", `{"reason":""}`, []string{"X-API-Key", "admin-key"}, http.StatusForbidden},
		{"anonymous prop create", "/api/props", `{}`, nil, http.StatusForbidden},
		{"granted admin reaches validation", "/api/contests/c1/settle", `{"mode":"bogus"}`, []string{"X-API-Key", "admin-key"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body, tt.headers...)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Empty(t, svc.settleReq.ContestID)
	assert.Empty(t, svc.refundReq.ContestID)
}
