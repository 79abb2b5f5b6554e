package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zidwell/backend/internal/models"
)

const (
	defaultReconcileMinAge = 2 * time.Minute
	defaultSweepBatch      = 100
)

// StatusChecker asks the provider what happened to a reference.
type StatusChecker interface {
	QueryStatus(ctx context.Context, reference string) Outcome
}

// StaleLister lists records stuck in one of the given statuses.
type StaleLister interface {
	ListStale(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]*models.Transaction, error)
}

// Reconciler finalizes records the synchronous settle path left undecided.
type Reconciler struct {
	Orchestrator *Orchestrator
	Store        StaleLister
	Checker      StatusChecker
	MinAge       time.Duration
	BatchSize    int
	Logger       *slog.Logger
	now          func() time.Time
}

func NewReconciler(o *Orchestrator, store StaleLister, checker StatusChecker, minAge time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	return &Reconciler{
		Orchestrator: o,
		Store:        store,
		Checker:      checker,
		MinAge:       minAge,
		BatchSize:    defaultSweepBatch,
		Logger:       logger,
		now:          time.Now,
	}
}

// ReconcileOne queries the provider for reference and applies the answer.
// The returned outcome lets callers decide whether to check again later.
func (r *Reconciler) ReconcileOne(ctx context.Context, reference string) (*models.Transaction, Outcome, error) {
	txn, err := r.Orchestrator.find(ctx, reference)
	if err != nil {
		return nil, Outcome{}, err
	}
	if txn.IsTerminal() {
		return txn, Outcome{}, nil
	}
	outcome := r.Checker.QueryStatus(ctx, reference)
	updated, err := r.Orchestrator.Resolve(ctx, reference, outcome)
	return updated, outcome, err
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Checked        int `json:"checked"`
	Succeeded      int `json:"succeeded"`
	Refunded       int `json:"refunded"`
	StillAmbiguous int `json:"still_ambiguous"`
	RefundsRetried int `json:"refunds_retried"`
	RefundsPending int `json:"refunds_pending"`
	Errors         int `json:"errors"`
}

// Sweep reconciles stale pending and processing records, then retries
// refund_pending ones. A failing record is logged and counted.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	started := now()
	cutoff := started.Add(-r.MinAge)
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultSweepBatch
	}

	stale, err := r.Store.ListStale(ctx, []string{models.TxStatusPending, models.TxStatusProcessing}, cutoff, limit)
	if err != nil {
		return report, err
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		updated, _, err := r.ReconcileOne(ctx, t.Reference)
		if err != nil && !errors.Is(err, ErrRefundPending) {
			report.Errors++
			r.Logger.Error("reconcile failed", "reference", t.Reference, "error", err)
			continue
		}
		switch updated.Status {
		case models.TxStatusSuccess:
			report.Succeeded++
		case models.TxStatusFailedRefunded:
			report.Refunded++
		case models.TxStatusRefundPending:
			report.RefundsPending++
		default:
			report.StillAmbiguous++
		}
	}

	// Records flagged during this sweep wait for the next one.
	flagged, err := r.Store.ListStale(ctx, []string{models.TxStatusRefundPending}, started, limit)
	if err != nil {
		return report, err
	}
	for _, t := range flagged {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.RefundsRetried++
		updated, err := r.Orchestrator.RetryRefund(ctx, t.Reference)
		switch {
		case errors.Is(err, ErrRefundPending):
			report.RefundsPending++
		case err != nil:
			report.Errors++
			r.Logger.Error("refund retry failed", "reference", t.Reference, "error", err)
		case updated.Status == models.TxStatusFailedRefunded:
			report.Refunded++
		}
	}

	if report.Checked > 0 || report.RefundsRetried > 0 {
		r.Logger.Info("reconcile sweep finished",
			"checked", report.Checked,
			"succeeded", report.Succeeded,
			"refunded", report.Refunded,
			"still_ambiguous", report.StillAmbiguous,
			"refunds_pending", report.RefundsPending,
			"errors", report.Errors,
		)
	}
	return report, nil
}
