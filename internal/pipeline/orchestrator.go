// Package pipeline runs the background jobs of the worker mode: the contest
// lifecycle sweeper and the ledger archiver.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/scorepeers/settlement/internal/service"
)

// Sweeper advances due contests.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// Orchestrator schedules the sweeper on a fixed interval and the archiver on
// a cron expression. Each job runs as a singleton; a slow run delays the
// next one instead of overlapping it.
type Orchestrator struct {
	sweeper       Sweeper
	archiver      *Archiver
	sweepInterval time.Duration
	archiveCron   string
	logger        *slog.Logger
}

// NewOrchestrator creates an Orchestrator. sweeper may be nil when the
// lifecycle is disabled and archiver may be nil when object storage is not
// configured.
func NewOrchestrator(
	sweeper Sweeper,
	archiver *Archiver,
	sweepInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sweeper:       sweeper,
		archiver:      archiver,
		sweepInterval: sweepInterval,
		archiveCron:   archiveCron,
		logger:        logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled, then waits for running jobs to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("pipeline: new scheduler: %w", err)
	}

	if o.sweeper != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(o.sweepInterval),
			gocron.NewTask(o.sweep, ctx),
			gocron.WithName("lifecycle-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("pipeline: schedule sweeper: %w", err)
		}
	}

	if o.archiver != nil {
		_, err = sched.NewJob(
			gocron.CronJob(o.archiveCron, false),
			gocron.NewTask(o.archive, ctx),
			gocron.WithName("ledger-archive"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("pipeline: schedule archiver %q: %w", o.archiveCron, err)
		}
	}

	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Duration("sweep_interval", o.sweepInterval),
		slog.String("archive_cron", o.archiveCron),
		slog.Bool("sweep_enabled", o.sweeper != nil),
		slog.Bool("archive_enabled", o.archiver != nil),
	)
	sched.Start()

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		o.logger.Error("pipeline shutdown", slog.String("error", err.Error()))
	}
	o.logger.Info("pipeline stopped")
	return nil
}

func (o *Orchestrator) sweep(ctx context.Context) {
	if _, err := o.sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
		o.logger.ErrorContext(ctx, "lifecycle sweep failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) archive(ctx context.Context) {
	if err := o.archiver.Run(ctx); err != nil && ctx.Err() == nil {
		o.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}
}
