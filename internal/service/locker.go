package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
)

// contestLocker serializes closures of one contest across instances. The row
// lock taken inside the transaction stays authoritative; if Redis itself is
// down the locker lets the caller through and the row lock decides.
type contestLocker struct {
	locks  domain.LockManager
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *slog.Logger
}

func (l contestLocker) acquire(ctx context.Context, contestID string) (func(), error) {
	if l.locks == nil {
		return func() {}, nil
	}
	key := "contest:" + contestID
	deadline := time.Now().Add(l.wait)
	for {
		unlock, err := l.locks.Acquire(ctx, key, l.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			l.logger.WarnContext(ctx, "contest lock unavailable, relying on row lock",
				slog.String("contest_id", contestID),
				slog.String("error", err.Error()),
			)
			return func() {}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: contest %s is being closed by another request: %w",
				domain.ErrUnavailable, contestID, domain.ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for contest lock: %w", domain.ErrUnavailable, ctx.Err())
		case <-time.After(l.poll):
		}
	}
}
