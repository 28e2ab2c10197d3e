package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
)

// Archiver exports ledger rows older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver that keeps retentionDays of ledger rows.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveLedger(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving ledger before %v (%d rows done): %w", cutoff, n, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("ledger_rows", n))
	return nil
}
