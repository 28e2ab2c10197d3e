package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/metrics"
)

// PickInput is one raw pick from a join request.
type PickInput struct {
	PropID    string
	Direction string
}

// JoinRequest enters a user into a contest.
type JoinRequest struct {
	ContestID string
	UserID    string
	Picks     []PickInput
}

// EntryService lets users join open contests.
type EntryService struct {
	uow    domain.UnitOfWork
	cache  domain.ContestCache
	now    func() time.Time
	logger *slog.Logger
}

// NewEntryService creates an EntryService. cache may be nil.
func NewEntryService(uow domain.UnitOfWork, cache domain.ContestCache, logger *slog.Logger) *EntryService {
	return &EntryService{
		uow:    uow,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "entries")),
	}
}

// Join debits the entry and processing fee, records the entry and grows the
// prize pool by the entry fee. The contest becomes ready once full. Entries
// close when the event starts.
func (s *EntryService) Join(ctx context.Context, req JoinRequest) (entry domain.Entry, err error) {
	defer func() { metrics.RecordEntry(err) }()

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.Entry{}, fmt.Errorf("user id required: %w", domain.ErrInvalidPick)
	}
	if len(req.Picks) == 0 {
		return domain.Entry{}, fmt.Errorf("no picks: %w", domain.ErrInvalidPick)
	}

	entryID := uuid.NewString()
	picks := make([]domain.Pick, 0, len(req.Picks))
	seen := make(map[string]bool, len(req.Picks))
	for _, in := range req.Picks {
		dir, err := domain.ParseDirection(in.Direction)
		if err != nil {
			return domain.Entry{}, fmt.Errorf("prop %s direction %q: %w", in.PropID, in.Direction, err)
		}
		if seen[in.PropID] {
			return domain.Entry{}, fmt.Errorf("prop %s picked twice: %w", in.PropID, domain.ErrDuplicatePick)
		}
		seen[in.PropID] = true
		picks = append(picks, domain.Pick{
			ID:        uuid.NewString(),
			EntryID:   entryID,
			PropID:    in.PropID,
			Direction: dir,
			Result:    domain.PickPending,
		})
	}

	var becameReady bool
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.LockContest(ctx, req.ContestID)
		if err != nil {
			return err
		}
		if c.AdminStatus != domain.AdminAvailable {
			return fmt.Errorf("contest is %s: %w", c.AdminStatus, domain.ErrInvalidState)
		}
		if !s.now().Before(c.EventStartsAt) {
			return fmt.Errorf("event started at %s: %w", c.EventStartsAt.Format(time.RFC3339), domain.ErrInvalidState)
		}

		exists, err := tx.HasEntry(ctx, c.ID, req.UserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("user %s already entered: %w", req.UserID, domain.ErrConflict)
		}
		entries, err := tx.ListEntries(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(entries) >= c.MaxPlayers {
			return domain.ErrContestFull
		}

		if err := s.checkPicks(ctx, tx, c, picks); err != nil {
			return err
		}

		if fee := c.EntryFee + c.ProcessingFee; fee > 0 {
			if _, err := tx.Debit(ctx, domain.LedgerEntry{
				UserID:    req.UserID,
				Currency:  c.Currency,
				Amount:    fee,
				Kind:      domain.LedgerEntryFee,
				ContestID: c.ID,
			}); err != nil {
				return err
			}
		}

		now := s.now()
		entry = domain.Entry{
			ID:           entryID,
			ContestID:    c.ID,
			UserID:       req.UserID,
			Picks:        picks,
			WinnerStatus: domain.NotWinner,
			CreatedAt:    now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}

		c.PrizePool += c.EntryFee
		c.UpdatedAt = now
		if len(entries)+1 == c.MaxPlayers {
			if err := c.Transition(domain.AdminReady); err != nil {
				return err
			}
			becameReady = true
		}
		if err := tx.SaveContest(ctx, c); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, domain.AuditEntry{
			Event:     "entry.created",
			ActorID:   req.UserID,
			ContestID: c.ID,
			Detail: map[string]any{
				"entry_id": entry.ID,
				"picks":    len(picks),
				"fee":      (c.EntryFee + c.ProcessingFee).String(),
			},
		})
	})
	if err != nil {
		return domain.Entry{}, classify("join "+req.ContestID, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, req.ContestID); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "entry created",
		slog.String("contest_id", req.ContestID),
		slog.String("entry_id", entry.ID),
		slog.String("user_id", req.UserID),
		slog.Bool("contest_ready", becameReady),
	)
	return entry, nil
}

// checkPicks enforces the card rules: every prop is on the contest, still
// open, and no (fight, subject, category) appears twice.
func (s *EntryService) checkPicks(ctx context.Context, tx domain.Tx, c domain.Contest, picks []domain.Pick) error {
	ids := make([]string, len(picks))
	for i, p := range picks {
		ids[i] = p.PropID
	}
	props, err := tx.GetProps(ctx, ids)
	if err != nil {
		return err
	}

	hedges := make(map[string]string, len(picks))
	for _, p := range picks {
		prop, ok := props[p.PropID]
		if !ok || !c.OffersProp(p.PropID) {
			return fmt.Errorf("prop %s is not on this contest: %w", p.PropID, domain.ErrInvalidPick)
		}
		if prop.Resolved() {
			return fmt.Errorf("prop %s already resolved: %w", p.PropID, domain.ErrInvalidPick)
		}
		key := prop.HedgeKey()
		if other, dup := hedges[key]; dup {
			return fmt.Errorf("props %s and %s hedge the same stat: %w", other, p.PropID, domain.ErrDuplicatePick)
		}
		hedges[key] = p.PropID
	}
	return nil
}
