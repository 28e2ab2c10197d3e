package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/metrics"
	"github.com/scorepeers/settlement/internal/notify"
)

// UnfilledReason is recorded on contests the sweeper refunds.
const UnfilledReason = "Challenge did not fill before deadline"

// LifecycleConfig controls the sweeper.
type LifecycleConfig struct {
	AutoRefund bool
	BatchSize  int
	// RealertAfter is how long an unfilled contest stays quiet after its
	// alert. Zero selects 24h.
	RealertAfter time.Duration
}

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Verifying int
	Refunded  int
	Flagged   int
}

// LifecycleService moves contests along once their event has started:
// full contests go to manual verification and unfilled ones are refunded
// or flagged to admins.
type LifecycleService struct {
	uow         domain.UnitOfWork
	contests    domain.ContestStore
	settlements *SettlementService
	notifier    Notifier
	cfg         LifecycleConfig
	now         func() time.Time
	logger      *slog.Logger
	alerts      *alertDedup
}

// NewLifecycleService creates a LifecycleService. notifier may be nil.
func NewLifecycleService(
	uow domain.UnitOfWork,
	contests domain.ContestStore,
	settlements *SettlementService,
	notifier Notifier,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *LifecycleService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RealertAfter <= 0 {
		cfg.RealertAfter = 24 * time.Hour
	}
	return &LifecycleService{
		uow:         uow,
		contests:    contests,
		settlements: settlements,
		notifier:    notifier,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "lifecycle")),
		alerts:      newAlertDedup(cfg.RealertAfter),
	}
}

// Sweep handles every due contest once. Failures on one contest are logged
// and joined into the returned error without stopping the rest.
func (s *LifecycleService) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now()
	s.alerts.cleanup(now)

	due, err := s.contests.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, classify("list due contests", err)
	}

	var report SweepReport
	var errs []error
	for _, c := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var err error
		switch c.AdminStatus {
		case domain.AdminReady:
			err = s.startVerification(ctx, c.ID)
			if err == nil {
				report.Verifying++
			}
		case domain.AdminAvailable:
			var refunded bool
			refunded, err = s.handleUnfilled(ctx, c)
			if refunded {
				report.Refunded++
			} else if err == nil {
				report.Flagged++
			}
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep contest failed",
				slog.String("contest_id", c.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if report != (SweepReport{}) {
		s.logger.InfoContext(ctx, "lifecycle sweep",
			slog.Int("verifying", report.Verifying),
			slog.Int("refunded", report.Refunded),
			slog.Int("flagged", report.Flagged),
		)
	}
	return report, errors.Join(errs...)
}

func (s *LifecycleService) startVerification(ctx context.Context, contestID string) error {
	moved := false
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		// Settled or refunded since ListDue.
		if c.AdminStatus != domain.AdminReady {
			return nil
		}
		if err := c.Transition(domain.AdminManualVerification); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		if err := tx.SaveContest(ctx, c); err != nil {
			return err
		}
		moved = true
		return tx.AppendAudit(ctx, domain.AuditEntry{
			Event:     "contest.manual_verification",
			ActorID:   domain.SystemActor,
			ContestID: c.ID,
		})
	})
	if err != nil {
		return classify("start verification "+contestID, err)
	}
	if moved {
		metrics.RecordSweep(domain.AdminManualVerification)
		s.notify(ctx, notify.EventManualVerification,
			fmt.Sprintf("Contest %s awaiting settlement", contestID),
			"The event has started. Record prop outcomes, then settle.")
	}
	return nil
}

func (s *LifecycleService) handleUnfilled(ctx context.Context, c domain.Contest) (bool, error) {
	if s.cfg.AutoRefund && s.settlements != nil {
		res, err := s.settlements.Refund(ctx, RefundRequest{
			ContestID: c.ID,
			Reason:    UnfilledReason,
			ActorID:   domain.SystemActor,
		})
		if err != nil {
			return false, err
		}
		if !res.Replayed {
			metrics.RecordSweep(domain.AdminExpired)
		}
		s.alerts.forget(c.ID)
		return true, nil
	}

	if s.alerts.firstSince(c.ID, s.now()) {
		s.notify(ctx, notify.EventUnfilled,
			fmt.Sprintf("Contest %s did not fill", c.ID),
			fmt.Sprintf("%q started with open seats. Refund it or extend it.", c.Title))
	}
	return false, nil
}

func (s *LifecycleService) notify(ctx context.Context, event, title, msg string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Notify(ctx, event, title, msg)
}
