package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/scoring"
)

// CreateContestRequest opens a new contest on a card of props.
type CreateContestRequest struct {
	Title         string
	Currency      domain.Currency
	EntryFee      domain.Amount
	ProcessingFee domain.Amount
	MaxPlayers    int
	EventStartsAt time.Time
	PropIDs       []string
	ActorID       string
}

// CreatePropRequest adds a prop line.
type CreatePropRequest struct {
	FightID  string
	Subject  string
	Category string
	Line     float64
	ActorID  string
}

// ContestService manages contests and props and serves read models.
type ContestService struct {
	uow      domain.UnitOfWork
	auth     domain.Authorizer
	contests domain.ContestStore
	props    domain.PropStore
	ledger   domain.LedgerStore
	audit    domain.AuditStore
	cache    domain.ContestCache
	receipts domain.ReceiptSource
	now      func() time.Time
	logger   *slog.Logger
}

// NewContestService creates a ContestService.
func NewContestService(
	uow domain.UnitOfWork,
	auth domain.Authorizer,
	contests domain.ContestStore,
	props domain.PropStore,
	ledger domain.LedgerStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ContestService {
	return &ContestService{
		uow:      uow,
		auth:     auth,
		contests: contests,
		props:    props,
		ledger:   ledger,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "contests")),
	}
}

// WithCache serves contest views from cache when set.
func (s *ContestService) WithCache(cache domain.ContestCache) *ContestService {
	s.cache = cache
	return s
}

// WithReceipts enables receipt lookups.
func (s *ContestService) WithReceipts(src domain.ReceiptSource) *ContestService {
	s.receipts = src
	return s
}

// CreateProp validates and stores a new unresolved prop.
func (s *ContestService) CreateProp(ctx context.Context, req CreatePropRequest) (domain.Prop, error) {
	if err := s.auth.Authorize(ctx, req.ActorID, domain.CapabilityManageContests); err != nil {
		return domain.Prop{}, err
	}
	p := domain.Prop{
		ID:        uuid.NewString(),
		FightID:   strings.TrimSpace(req.FightID),
		Subject:   strings.TrimSpace(req.Subject),
		Category:  strings.TrimSpace(req.Category),
		Line:      req.Line,
		CreatedAt: s.now(),
	}
	if p.FightID == "" || p.Subject == "" || p.Category == "" {
		return domain.Prop{}, fmt.Errorf("fight, subject and category are required: %w", domain.ErrInvalidProp)
	}
	if !domain.HalfIntegerLine(p.Line) {
		return domain.Prop{}, fmt.Errorf("line %v is not a half step: %w", p.Line, domain.ErrInvalidProp)
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertProp(ctx, p); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditEntry{
			Event:   "prop.created",
			ActorID: req.ActorID,
			Detail: map[string]any{
				"prop_id":  p.ID,
				"fight_id": p.FightID,
				"subject":  p.Subject,
				"category": p.Category,
				"line":     p.Line,
			},
		})
	})
	if err != nil {
		return domain.Prop{}, classify("create prop", err)
	}
	return p, nil
}

// CreateContest opens a contest in the available state.
func (s *ContestService) CreateContest(ctx context.Context, req CreateContestRequest) (domain.Contest, error) {
	if err := s.auth.Authorize(ctx, req.ActorID, domain.CapabilityManageContests); err != nil {
		return domain.Contest{}, err
	}
	if err := validateContest(req); err != nil {
		return domain.Contest{}, err
	}

	now := s.now()
	c := domain.Contest{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Currency:      req.Currency,
		EntryFee:      req.EntryFee,
		ProcessingFee: req.ProcessingFee,
		MaxPlayers:    req.MaxPlayers,
		EventStartsAt: req.EventStartsAt.UTC(),
		PropIDs:       slices.Clone(req.PropIDs),
		AdminStatus:   domain.AdminAvailable,
		PlayerStatus:  domain.AdminAvailable.PlayerStatus(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		props, err := tx.GetProps(ctx, c.PropIDs)
		if err != nil {
			return err
		}
		for _, id := range c.PropIDs {
			p, ok := props[id]
			if !ok {
				return fmt.Errorf("prop %s: %w", id, domain.ErrInvalidContest)
			}
			if p.Resolved() {
				return fmt.Errorf("prop %s already resolved: %w", id, domain.ErrInvalidContest)
			}
		}
		if err := tx.InsertContest(ctx, c); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditEntry{
			Event:     "contest.created",
			ActorID:   req.ActorID,
			ContestID: c.ID,
			Detail: map[string]any{
				"currency":    string(c.Currency),
				"entry_fee":   c.EntryFee.String(),
				"max_players": c.MaxPlayers,
				"props":       len(c.PropIDs),
			},
		})
	})
	if err != nil {
		return domain.Contest{}, classify("create contest", err)
	}

	s.logger.InfoContext(ctx, "contest created",
		slog.String("contest_id", c.ID),
		slog.String("actor_id", req.ActorID),
	)
	return c, nil
}

func validateContest(req CreateContestRequest) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return fmt.Errorf("title required: %w", domain.ErrInvalidContest)
	case !req.Currency.Valid():
		return fmt.Errorf("currency %q: %w", req.Currency, domain.ErrInvalidContest)
	case req.EntryFee < 0 || req.ProcessingFee < 0:
		return fmt.Errorf("fees must not be negative: %w", domain.ErrInvalidContest)
	case req.MaxPlayers < 2:
		return fmt.Errorf("max players %d: %w", req.MaxPlayers, domain.ErrInvalidContest)
	case req.EventStartsAt.IsZero():
		return fmt.Errorf("event start required: %w", domain.ErrInvalidContest)
	case len(req.PropIDs) == 0:
		return fmt.Errorf("contest needs at least one prop: %w", domain.ErrInvalidContest)
	}
	ids := slices.Clone(req.PropIDs)
	slices.Sort(ids)
	if len(slices.Compact(ids)) != len(req.PropIDs) {
		return fmt.Errorf("duplicate prop on card: %w", domain.ErrInvalidContest)
	}
	return nil
}

// Get returns committed contest state, served from the cache when warm.
func (s *ContestService) Get(ctx context.Context, id string) (domain.ContestView, error) {
	if s.cache != nil {
		view, err := s.cache.Get(ctx, id)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "contest cache read failed",
				slog.String("contest_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	c, err := s.contests.GetByID(ctx, id)
	if err != nil {
		return domain.ContestView{}, classify("get contest "+id, err)
	}
	entries, err := s.contests.ListEntries(ctx, id)
	if err != nil {
		return domain.ContestView{}, classify("list entries "+id, err)
	}
	view := domain.ContestView{Contest: c, Entries: entries}

	if s.cache != nil {
		if err := s.cache.Set(ctx, view); err != nil {
			s.logger.WarnContext(ctx, "contest cache write failed",
				slog.String("contest_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return view, nil
}

// Standings previews the settlement outcome for sel without writing
// anything. It fails with ErrUnresolvedProp while any pick is still open.
func (s *ContestService) Standings(ctx context.Context, id string, sel domain.WinnerSelection) (scoring.Plan, error) {
	c, err := s.contests.GetByID(ctx, id)
	if err != nil {
		return scoring.Plan{}, classify("standings "+id, err)
	}
	entries, err := s.contests.ListEntries(ctx, id)
	if err != nil {
		return scoring.Plan{}, classify("standings "+id, err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.PropIDs()...)
	}
	slices.Sort(ids)
	props, err := s.props.GetMany(ctx, slices.Compact(ids))
	if err != nil {
		return scoring.Plan{}, classify("standings "+id, err)
	}
	plan, err := scoring.BuildPlan(entries, props, sel, c.PrizePool)
	if err != nil {
		return scoring.Plan{}, fmt.Errorf("standings %s: %w", id, err)
	}
	return plan, nil
}

// Balances lists a user's accounts.
func (s *ContestService) Balances(ctx context.Context, userID string) ([]domain.Account, error) {
	accts, err := s.ledger.Balances(ctx, userID)
	if err != nil {
		return nil, classify("balances "+userID, err)
	}
	return accts, nil
}

// Receipt returns the verified receipt of a closed contest.
func (s *ContestService) Receipt(ctx context.Context, contestID string) (domain.SignedReceipt, error) {
	if s.receipts == nil {
		return domain.SignedReceipt{}, fmt.Errorf("receipt %s: receipts not configured: %w", contestID, domain.ErrNotFound)
	}
	r, err := s.receipts.ReadReceipt(ctx, contestID)
	if err != nil {
		return domain.SignedReceipt{}, classify("receipt "+contestID, err)
	}
	return r, nil
}

// AuditLog pages the audit trail, optionally for one contest.
func (s *ContestService) AuditLog(ctx context.Context, actorID, contestID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := s.auth.Authorize(ctx, actorID, domain.CapabilityReadAudit); err != nil {
		return nil, err
	}
	var (
		out []domain.AuditEntry
		err error
	)
	if contestID != "" {
		out, err = s.audit.ListByContest(ctx, contestID, opts)
	} else {
		out, err = s.audit.List(ctx, opts)
	}
	if err != nil {
		return nil, classify("audit log", err)
	}
	return out, nil
}
