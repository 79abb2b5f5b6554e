package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/services"
)

const (
	defaultStatusCheckDelay  = 15 * time.Second
	defaultStatusCheckMaxAge = 30 * time.Minute
)

type StatusCheckArgs struct {
	Reference string `json:"reference"`
}

func (StatusCheckArgs) Kind() string { return "settlement_status_check" }

// InsertOpts keeps one queued check per reference.
func (StatusCheckArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

type SweepArgs struct{}

func (SweepArgs) Kind() string { return "settlement_reconcile_sweep" }

func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: time.Minute}}
}

// Reconciler defines what the workers need to finalize records.
type Reconciler interface {
	ReconcileOne(ctx context.Context, reference string) (*models.Transaction, services.Outcome, error)
	Sweep(ctx context.Context) (services.SweepReport, error)
}

// StatusCheckWorker asks the provider about one processing record. While the
// provider is still unsure the job snoozes; past MaxAge the sweep owns it.
type StatusCheckWorker struct {
	river.WorkerDefaults[StatusCheckArgs]
	reconciler Reconciler
	Delay      time.Duration
	MaxAge     time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewStatusCheckWorker(r Reconciler, delay time.Duration, logger *slog.Logger) *StatusCheckWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = defaultStatusCheckDelay
	}
	return &StatusCheckWorker{
		reconciler: r,
		Delay:      delay,
		MaxAge:     defaultStatusCheckMaxAge,
		logger:     logger,
		now:        time.Now,
	}
}

func (w *StatusCheckWorker) Work(ctx context.Context, job *river.Job[StatusCheckArgs]) error {
	ref := job.Args.Reference
	txn, outcome, err := w.reconciler.ReconcileOne(ctx, ref)
	switch {
	case errors.Is(err, services.ErrTransactionNotFound):
		return river.JobCancel(err)
	case errors.Is(err, services.ErrRefundPending):
		// Flagged for the refund retry sweep.
		w.logger.Warn("status check left refund pending", "reference", ref, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("reconcile %s: %w", ref, err)
	}
	if txn.IsTerminal() {
		w.logger.Info("status check finalized transaction", "reference", ref, "status", txn.Status)
		return nil
	}
	if age := w.now().Sub(job.CreatedAt); age < w.MaxAge {
		w.logger.Info("provider outcome still unknown, snoozing", "reference", ref, "reason", outcome.Reason, "age", age.String())
		return river.JobSnooze(w.Delay)
	}
	w.logger.Warn("status check gave up, leaving to sweep", "reference", ref)
	return nil
}

// SweepWorker runs one reconciliation sweep.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	reconciler Reconciler
}

func NewSweepWorker(r Reconciler) *SweepWorker {
	return &SweepWorker{reconciler: r}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	if _, err := w.reconciler.Sweep(ctx); err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	return nil
}

// Inserter is the part of the river client the scheduler needs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// StatusCheckScheduler queues a delayed provider status check for a
// settlement that ended processing.
type StatusCheckScheduler struct {
	client Inserter
	delay  time.Duration
	now    func() time.Time
}

func NewStatusCheckScheduler(client Inserter, delay time.Duration) *StatusCheckScheduler {
	if delay <= 0 {
		delay = defaultStatusCheckDelay
	}
	return &StatusCheckScheduler{client: client, delay: delay, now: time.Now}
}

func (s *StatusCheckScheduler) ScheduleStatusCheck(ctx context.Context, reference string) error {
	_, err := s.client.Insert(ctx, StatusCheckArgs{Reference: reference}, &river.InsertOpts{
		ScheduledAt: s.now().Add(s.delay),
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	return err
}

// PeriodicSweep returns the periodic job that runs the sweep every interval.
func PeriodicSweep(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) { return SweepArgs{}, nil },
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
