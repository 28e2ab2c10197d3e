package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
)

// RecordOutcomeRequest sets the authoritative result of a prop.
type RecordOutcomeRequest struct {
	PropID   string
	Value    *float64
	Override string
	ActorID  string
}

// OutcomeService records prop outcomes.
type OutcomeService struct {
	uow    domain.UnitOfWork
	auth   domain.Authorizer
	now    func() time.Time
	logger *slog.Logger
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(uow domain.UnitOfWork, auth domain.Authorizer, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		uow:    uow,
		auth:   auth,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "outcomes")),
	}
}

// RecordOutcome stores value and override on the prop. An outcome can be
// corrected until a contest with a pick on the prop settles. A value equal
// to the line is refused unless an override forces the result.
func (s *OutcomeService) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) (domain.Prop, error) {
	if err := s.auth.Authorize(ctx, req.ActorID, domain.CapabilityRecordOutcome); err != nil {
		return domain.Prop{}, err
	}
	if req.Value == nil {
		return domain.Prop{}, fmt.Errorf("outcome value required: %w", domain.ErrInvalidProp)
	}
	value := *req.Value
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.Prop{}, fmt.Errorf("outcome value %v: %w", value, domain.ErrInvalidProp)
	}
	override, err := domain.ParseOverride(req.Override)
	if err != nil {
		return domain.Prop{}, fmt.Errorf("override %q: %w", req.Override, err)
	}

	var prop domain.Prop
	var previous *float64
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.LockProp(ctx, req.PropID)
		if err != nil {
			return err
		}
		settled, err := tx.PropSettled(ctx, p.ID)
		if err != nil {
			return err
		}
		if settled {
			return fmt.Errorf("prop %s is part of a settled contest: %w", p.ID, domain.ErrConflict)
		}
		if !override.Forced() && value == p.Line {
			return domain.ErrLineTie
		}

		previous = p.OutcomeValue
		now := s.now()
		p.OutcomeValue = &value
		p.Override = override
		p.ResolvedAt = &now
		if err := tx.SavePropOutcome(ctx, p); err != nil {
			return err
		}

		detail := map[string]any{
			"prop_id":  p.ID,
			"value":    value,
			"override": override.Tag(),
		}
		if previous != nil {
			detail["previous"] = *previous
		}
		prop = p
		return tx.AppendAudit(ctx, domain.AuditEntry{
			Event:   "prop.outcome_recorded",
			ActorID: req.ActorID,
			Detail:  detail,
		})
	})
	if err != nil {
		return domain.Prop{}, classify("record outcome "+req.PropID, err)
	}

	s.logger.InfoContext(ctx, "prop outcome recorded",
		slog.String("prop_id", prop.ID),
		slog.Float64("value", value),
		slog.String("override", override.Tag()),
		slog.Bool("corrected", previous != nil),
		slog.String("actor_id", req.ActorID),
	)
	return prop, nil
}
