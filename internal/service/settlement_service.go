// Package service implements contest creation, joining, outcome recording,
// settlement, refunds and the lifecycle sweep on top of the domain stores.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/metrics"
	"github.com/scorepeers/settlement/internal/notify"
	"github.com/scorepeers/settlement/internal/scoring"
)

// Notifier delivers admin alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementConfig bounds how long a closure may wait and run.
type SettlementConfig struct {
	LockTTL   time.Duration
	LockWait  time.Duration
	LockPoll  time.Duration
	TxTimeout time.Duration
}

func (c SettlementConfig) withDefaults() SettlementConfig {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 10 * time.Second
	}
	if c.LockPoll <= 0 {
		c.LockPoll = 100 * time.Millisecond
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = 20 * time.Second
	}
	return c
}

// SettleRequest asks for a contest to be settled.
type SettleRequest struct {
	ContestID string
	Selection domain.WinnerSelection
	// ConfirmVoid must be set to commit a settlement with no winners.
	ConfirmVoid bool
	ActorID     string
}

// SettlementResult describes a committed settlement. Replayed is true when
// the contest had already been settled with the same winners.
type SettlementResult struct {
	ContestID string               `json:"contest_id"`
	Mode      domain.SelectionMode `json:"mode"`
	Winners   []string             `json:"winners"`
	Void      bool                 `json:"void"`
	Payouts   []domain.Payout      `json:"payouts"`
	Total     domain.Amount        `json:"total"`
	PrizePool domain.Amount        `json:"prize_pool"`
	Currency  domain.Currency      `json:"currency"`
	SettledBy string               `json:"settled_by"`
	SettledAt time.Time            `json:"settled_at"`
	Replayed  bool                 `json:"replayed"`
}

// RefundRequest asks for every entry fee of a contest to be returned.
type RefundRequest struct {
	ContestID string
	Reason    string
	ActorID   string
}

// RefundResult describes a committed refund.
type RefundResult struct {
	ContestID  string          `json:"contest_id"`
	Refunds    []domain.Payout `json:"refunds"`
	Total      domain.Amount   `json:"total"`
	Currency   domain.Currency `json:"currency"`
	Reason     string          `json:"reason"`
	RefundedBy string          `json:"refunded_by"`
	RefundedAt time.Time       `json:"refunded_at"`
	Replayed   bool            `json:"replayed"`
}

// SettlementService closes contests. Each Settle or Refund runs as a single
// transaction under the contest row lock; side effects outside the database
// (events, receipts, alerts) happen only after commit and never fail the
// call.
type SettlementService struct {
	uow      domain.UnitOfWork
	auth     domain.Authorizer
	locker   contestLocker
	bus      domain.SignalBus
	cache    domain.ContestCache
	receipts domain.ReceiptSink
	notifier Notifier
	cfg      SettlementConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. locks may be nil, in
// which case only the row lock serializes closures.
func NewSettlementService(
	uow domain.UnitOfWork,
	auth domain.Authorizer,
	locks domain.LockManager,
	cfg SettlementConfig,
	logger *slog.Logger,
) *SettlementService {
	cfg = cfg.withDefaults()
	logger = logger.With(slog.String("component", "settlement"))
	return &SettlementService{
		uow:  uow,
		auth: auth,
		locker: contestLocker{
			locks:  locks,
			ttl:    cfg.LockTTL,
			wait:   cfg.LockWait,
			poll:   cfg.LockPoll,
			logger: logger,
		},
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithEvents publishes committed closures on the signal bus.
func (s *SettlementService) WithEvents(bus domain.SignalBus) *SettlementService {
	s.bus = bus
	return s
}

// WithCache invalidates cached contest views after a closure.
func (s *SettlementService) WithCache(cache domain.ContestCache) *SettlementService {
	s.cache = cache
	return s
}

// WithReceipts stores a signed receipt for every closure.
func (s *SettlementService) WithReceipts(sink domain.ReceiptSink) *SettlementService {
	s.receipts = sink
	return s
}

// WithNotifier sends operator alerts after each closure.
func (s *SettlementService) WithNotifier(n Notifier) *SettlementService {
	s.notifier = n
	return s
}

// Settle resolves every pick, ranks the entries, picks the winners, credits
// their prizes and marks the contest settled, all in one transaction.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (res SettlementResult, err error) {
	if err := s.auth.Authorize(ctx, req.ActorID, domain.CapabilitySettle); err != nil {
		return SettlementResult{}, err
	}
	switch req.Selection.Mode {
	case "", domain.SelectAuto, domain.SelectExplicit, domain.SelectDraw:
	default:
		return SettlementResult{}, fmt.Errorf("settle %s: mode %q: %w", req.ContestID, req.Selection.Mode, domain.ErrInvalidSelection)
	}

	started := time.Now()
	defer func() { metrics.RecordClosure(domain.ClosureSettlement, res.Replayed, err, started) }()

	unlock, err := s.locker.acquire(ctx, req.ContestID)
	if err != nil {
		return SettlementResult{}, err
	}
	defer unlock()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TxTimeout)
	defer cancel()

	var closure domain.Closure
	var replayed bool
	err = s.uow.WithinTx(txCtx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		closure, replayed, err = s.settleTx(ctx, tx, req)
		return err
	})
	if err != nil {
		err = classify("settle "+req.ContestID, err)
		s.failed(ctx, "settle", req.ContestID, req.ActorID, err)
		return SettlementResult{}, err
	}

	if replayed {
		s.logger.InfoContext(ctx, "settlement replayed",
			slog.String("contest_id", req.ContestID),
			slog.String("actor_id", req.ActorID),
		)
		s.writeReceipt(ctx, closure)
	} else {
		s.logger.InfoContext(ctx, "contest settled",
			slog.String("contest_id", closure.ContestID),
			slog.String("actor_id", closure.ActorID),
			slog.String("mode", string(closure.Mode)),
			slog.Int("winners", len(closure.WinnerIDs)),
			slog.String("total", closure.Total.String()),
			slog.Bool("void", closure.Void),
		)
		s.afterCommit(ctx, closure)
	}
	return settlementResult(closure, replayed), nil
}

func (s *SettlementService) settleTx(ctx context.Context, tx domain.Tx, req SettleRequest) (domain.Closure, bool, error) {
	c, err := tx.LockContest(ctx, req.ContestID)
	if err != nil {
		return domain.Closure{}, false, err
	}

	switch c.AdminStatus {
	case domain.AdminReady, domain.AdminManualVerification:
	case domain.AdminSettled:
		return s.replaySettlement(ctx, tx, c, req)
	case domain.AdminExpired:
		return domain.Closure{}, false, fmt.Errorf("contest was refunded: %w", domain.ErrConflict)
	default:
		return domain.Closure{}, false, fmt.Errorf("contest is %s: %w", c.AdminStatus, domain.ErrInvalidState)
	}

	plan, err := s.plan(ctx, tx, c, req.Selection)
	if err != nil {
		return domain.Closure{}, false, err
	}
	if plan.Void() && !req.ConfirmVoid {
		return domain.Closure{}, false, domain.ErrVoidNotConfirmed
	}

	var picks []domain.Pick
	for _, e := range plan.Entries {
		picks = append(picks, e.Picks...)
	}
	if err := tx.SavePickResults(ctx, picks); err != nil {
		return domain.Closure{}, false, err
	}
	if err := tx.SaveEntryResults(ctx, plan.Entries); err != nil {
		return domain.Closure{}, false, err
	}

	for _, p := range plan.Payouts {
		if p.Amount == 0 {
			continue
		}
		if _, err := tx.Credit(ctx, domain.LedgerEntry{
			UserID:    p.UserID,
			Currency:  c.Currency,
			Amount:    p.Amount,
			Kind:      domain.LedgerPrize,
			ContestID: c.ID,
		}); err != nil {
			return domain.Closure{}, false, fmt.Errorf("credit %s: %w", p.UserID, err)
		}
	}

	now := s.now()
	if err := c.Transition(domain.AdminSettled); err != nil {
		return domain.Closure{}, false, err
	}
	c.SettledAt = &now
	c.SettledBy = req.ActorID
	c.UpdatedAt = now
	if err := tx.SaveContest(ctx, c); err != nil {
		return domain.Closure{}, false, err
	}

	closure := domain.Closure{
		ContestID: c.ID,
		Kind:      domain.ClosureSettlement,
		Mode:      plan.Mode,
		WinnerIDs: plan.WinnerIDs,
		Void:      plan.Void(),
		Payouts:   plan.Payouts,
		Total:     plan.Total,
		PrizePool: c.PrizePool,
		Currency:  c.Currency,
		ActorID:   req.ActorID,
		ClosedAt:  now,
	}
	if err := tx.InsertClosure(ctx, closure); err != nil {
		return domain.Closure{}, false, err
	}

	err = tx.AppendAudit(ctx, domain.AuditEntry{
		Event:     "contest.settled",
		ActorID:   req.ActorID,
		ContestID: c.ID,
		Detail: map[string]any{
			"mode":    string(plan.Mode),
			"winners": plan.WinnerIDs,
			"total":   plan.Total.String(),
			"void":    plan.Void(),
		},
	})
	return closure, false, err
}

// replaySettlement answers a repeated settle. The requested selection is
// evaluated against the settled state and must name the same winners with
// the same status: a draw over a tied field never replays an auto win.
func (s *SettlementService) replaySettlement(ctx context.Context, tx domain.Tx, c domain.Contest, req SettleRequest) (domain.Closure, bool, error) {
	closure, err := tx.GetClosure(ctx, c.ID)
	if err != nil {
		return domain.Closure{}, false, err
	}
	plan, err := s.plan(ctx, tx, c, req.Selection)
	if err != nil {
		return domain.Closure{}, false, err
	}
	if !closure.SameWinners(plan.WinnerIDs) {
		return domain.Closure{}, false, fmt.Errorf("contest already settled with winners %v: %w", closure.WinnerIDs, domain.ErrConflict)
	}
	if settled := closure.Mode.Awards(); settled != plan.Status {
		return domain.Closure{}, false, fmt.Errorf("contest already settled as %s, not %s: %w", settled, plan.Status, domain.ErrConflict)
	}
	return closure, true, nil
}

func (s *SettlementService) plan(ctx context.Context, tx domain.Tx, c domain.Contest, sel domain.WinnerSelection) (scoring.Plan, error) {
	entries, err := tx.ListEntries(ctx, c.ID)
	if err != nil {
		return scoring.Plan{}, err
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.PropIDs()...)
	}
	slices.Sort(ids)
	props, err := tx.GetProps(ctx, slices.Compact(ids))
	if err != nil {
		return scoring.Plan{}, err
	}
	return scoring.BuildPlan(entries, props, sel, c.PrizePool)
}

// Refund returns EntryFee+ProcessingFee to every entrant and expires the
// contest.
func (s *SettlementService) Refund(ctx context.Context, req RefundRequest) (res RefundResult, err error) {
	if err := s.auth.Authorize(ctx, req.ActorID, domain.CapabilityRefund); err != nil {
		return RefundResult{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return RefundResult{}, domain.ErrReasonRequired
	}

	started := time.Now()
	defer func() { metrics.RecordClosure(domain.ClosureRefund, res.Replayed, err, started) }()

	unlock, err := s.locker.acquire(ctx, req.ContestID)
	if err != nil {
		return RefundResult{}, err
	}
	defer unlock()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TxTimeout)
	defer cancel()

	var closure domain.Closure
	var replayed bool
	err = s.uow.WithinTx(txCtx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		closure, replayed, err = s.refundTx(ctx, tx, req)
		return err
	})
	if err != nil {
		err = classify("refund "+req.ContestID, err)
		s.failed(ctx, "refund", req.ContestID, req.ActorID, err)
		return RefundResult{}, err
	}

	if replayed {
		s.logger.InfoContext(ctx, "refund replayed", slog.String("contest_id", req.ContestID))
		s.writeReceipt(ctx, closure)
	} else {
		s.logger.InfoContext(ctx, "contest refunded",
			slog.String("contest_id", closure.ContestID),
			slog.String("actor_id", closure.ActorID),
			slog.Int("entries", len(closure.Payouts)),
			slog.String("total", closure.Total.String()),
		)
		s.afterCommit(ctx, closure)
	}
	return refundResult(closure, replayed), nil
}

func (s *SettlementService) refundTx(ctx context.Context, tx domain.Tx, req RefundRequest) (domain.Closure, bool, error) {
	c, err := tx.LockContest(ctx, req.ContestID)
	if err != nil {
		return domain.Closure{}, false, err
	}

	switch c.AdminStatus {
	case domain.AdminAvailable, domain.AdminReady, domain.AdminManualVerification:
	case domain.AdminExpired:
		closure, err := tx.GetClosure(ctx, c.ID)
		if err != nil {
			return domain.Closure{}, false, err
		}
		return closure, true, nil
	case domain.AdminSettled:
		return domain.Closure{}, false, fmt.Errorf("contest already settled: %w", domain.ErrConflict)
	default:
		return domain.Closure{}, false, fmt.Errorf("contest is %s: %w", c.AdminStatus, domain.ErrInvalidState)
	}

	entries, err := tx.ListEntries(ctx, c.ID)
	if err != nil {
		return domain.Closure{}, false, err
	}

	amount := c.EntryFee + c.ProcessingFee
	refunds := make([]domain.Payout, 0, len(entries))
	var total domain.Amount
	for _, e := range entries {
		if amount > 0 {
			if _, err := tx.Credit(ctx, domain.LedgerEntry{
				UserID:    e.UserID,
				Currency:  c.Currency,
				Amount:    amount,
				Kind:      domain.LedgerRefund,
				ContestID: c.ID,
			}); err != nil {
				return domain.Closure{}, false, fmt.Errorf("refund %s: %w", e.UserID, err)
			}
		}
		refunds = append(refunds, domain.Payout{EntryID: e.ID, UserID: e.UserID, Amount: amount})
		total += amount
	}

	now := s.now()
	if err := c.Transition(domain.AdminExpired); err != nil {
		return domain.Closure{}, false, err
	}
	c.RefundReason = req.Reason
	c.RefundedBy = req.ActorID
	c.RefundedAt = &now
	c.UpdatedAt = now
	if err := tx.SaveContest(ctx, c); err != nil {
		return domain.Closure{}, false, err
	}

	closure := domain.Closure{
		ContestID: c.ID,
		Kind:      domain.ClosureRefund,
		Payouts:   refunds,
		Total:     total,
		PrizePool: c.PrizePool,
		Currency:  c.Currency,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
		ClosedAt:  now,
	}
	if err := tx.InsertClosure(ctx, closure); err != nil {
		return domain.Closure{}, false, err
	}

	err = tx.AppendAudit(ctx, domain.AuditEntry{
		Event:     "contest.refunded",
		ActorID:   req.ActorID,
		ContestID: c.ID,
		Detail: map[string]any{
			"reason":  req.Reason,
			"entries": len(refunds),
			"total":   total.String(),
		},
	})
	return closure, false, err
}

// afterCommit runs the best-effort side effects of a fresh closure. None of
// them can undo or fail the committed transaction.
func (s *SettlementService) afterCommit(ctx context.Context, c domain.Closure) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	metrics.RecordPaidOut(c.Kind, c.Currency, c.Total)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, c.ContestID); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("contest_id", c.ContestID),
				slog.String("error", err.Error()),
			)
		}
	}

	event := domain.ContestEvent{
		Type:      eventType(c.Kind),
		ContestID: c.ContestID,
		ActorID:   c.ActorID,
		Winners:   c.WinnerIDs,
		Void:      c.Void,
		Total:     c.Total,
		Currency:  c.Currency,
		Reason:    c.Reason,
		At:        c.ClosedAt,
	}
	if s.bus != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			if err := s.bus.Publish(ctx, domain.SettlementChannel, payload); err != nil {
				s.logger.WarnContext(ctx, "publish closure event failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, domain.SettlementStream, payload); err != nil {
				s.logger.WarnContext(ctx, "append closure stream failed", slog.String("error", err.Error()))
			}
		}
	}

	s.writeReceipt(ctx, c)

	if s.notifier != nil {
		title := fmt.Sprintf("Contest %s settled", c.ContestID)
		msg := fmt.Sprintf("%d winner(s), %s %s paid by %s", len(c.WinnerIDs), c.Total, c.Currency, c.ActorID)
		if c.Void {
			msg = fmt.Sprintf("void settlement, nothing paid, confirmed by %s", c.ActorID)
		}
		if c.Kind == domain.ClosureRefund {
			title = fmt.Sprintf("Contest %s refunded", c.ContestID)
			msg = fmt.Sprintf("%d entr(ies), %s %s returned by %s: %s", len(c.Payouts), c.Total, c.Currency, c.ActorID, c.Reason)
		}
		_ = s.notifier.Notify(ctx, event.Type, title, msg)
	}
}

func (s *SettlementService) writeReceipt(ctx context.Context, c domain.Closure) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.WriteReceipt(ctx, c); err != nil {
		s.logger.WarnContext(ctx, "write receipt failed",
			slog.String("contest_id", c.ContestID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) failed(ctx context.Context, op, contestID, actorID string, err error) {
	s.logger.ErrorContext(ctx, op+" failed",
		slog.String("contest_id", contestID),
		slog.String("actor_id", actorID),
		slog.Bool("retryable", retryable(err)),
		slog.String("error", err.Error()),
	)
	if s.notifier != nil && retryable(err) {
		_ = s.notifier.Notify(context.WithoutCancel(ctx), notify.EventSettlementFailed,
			fmt.Sprintf("Contest %s %s failed", contestID, op), err.Error())
	}
}

func eventType(k domain.ClosureKind) string {
	if k == domain.ClosureRefund {
		return notify.EventRefunded
	}
	return notify.EventSettled
}

func settlementResult(c domain.Closure, replayed bool) SettlementResult {
	return SettlementResult{
		ContestID: c.ContestID,
		Mode:      c.Mode,
		Winners:   nonNil(c.WinnerIDs),
		Void:      c.Void,
		Payouts:   nonNil(c.Payouts),
		Total:     c.Total,
		PrizePool: c.PrizePool,
		Currency:  c.Currency,
		SettledBy: c.ActorID,
		SettledAt: c.ClosedAt,
		Replayed:  replayed,
	}
}

func refundResult(c domain.Closure, replayed bool) RefundResult {
	return RefundResult{
		ContestID:  c.ContestID,
		Refunds:    nonNil(c.Payouts),
		Total:      c.Total,
		Currency:   c.Currency,
		Reason:     c.Reason,
		RefundedBy: c.ActorID,
		RefundedAt: c.ClosedAt,
		Replayed:   replayed,
	}
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
