package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/models"
)

func (s *memStore) ListStale(_ context.Context, statuses []string, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*models.Transaction
	for _, t := range s.byRef {
		if want[t.Status] && t.UpdatedAt.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockChecker struct {
	mu      sync.Mutex
	answers map[string]Outcome
	calls   map[string]int
}

func newMockChecker() *mockChecker {
	return &mockChecker{answers: make(map[string]Outcome), calls: make(map[string]int)}
}

func (c *mockChecker) set(ref string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[ref] = o
}

func (c *mockChecker) QueryStatus(_ context.Context, reference string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[reference]++
	return c.answers[reference] // zero value is ambiguous
}

type failingLister struct{}

func (failingLister) ListStale(context.Context, []string, time.Time, int) ([]*models.Transaction, error) {
	return nil, errors.New("db gone")
}

func newTestReconciler(h *harness, checker StatusChecker) *Reconciler {
	r := NewReconciler(h.orch, h.store, checker, time.Minute, nil)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	return r
}

func TestReconcileOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	user := uuid.New()
	h.ledger.fund(user, 5000)
	checker := newMockChecker()
	r := newTestReconciler(h, checker)

	h.settle(t, user, 1000, "rc-1", timesOut())

	// Provider still unsure.
	txn, outcome, err := r.ReconcileOne(ctx, "rc-1")
	if err != nil {
		t.Fatalf("ReconcileOne: %v", err)
	}
	if outcome.Result != OutcomeAmbiguous || txn.Status != models.TxStatusProcessing {
		t.Errorf("got outcome %s status %s", outcome.Result, txn.Status)
	}

	checker.set("rc-1", Outcome{Result: OutcomeFailure, Reason: "reversed"})
	txn, _, err = r.ReconcileOne(ctx, "rc-1")
	if err != nil {
		t.Fatalf("ReconcileOne: %v", err)
	}
	if txn.Status != models.TxStatusFailedRefunded || h.ledger.balance(user) != 5000 {
		t.Errorf("got status %s balance %d", txn.Status, h.ledger.balance(user))
	}

	// Terminal records are not queried again.
	_, _, _ = r.ReconcileOne(ctx, "rc-1")
	if n := checker.calls["rc-1"]; n != 2 {
		t.Errorf("provider queries: got %d, want 2", n)
	}

	if _, _, err := r.ReconcileOne(ctx, "missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	user := uuid.New()
	h.ledger.fund(user, 10000)
	checker := newMockChecker()

	h.settle(t, user, 1000, "sw-ok", timesOut())
	h.settle(t, user, 1000, "sw-fail", timesOut())
	h.settle(t, user, 1000, "sw-unsure", timesOut())
	h.settle(t, user, 1000, "sw-done", succeeds())
	checker.set("sw-ok", Outcome{Result: OutcomeSuccess})
	checker.set("sw-fail", Outcome{Result: OutcomeFailure})

	r := newTestReconciler(h, checker)
	report, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	want := SweepReport{Checked: 3, Succeeded: 1, Refunded: 1, StillAmbiguous: 1}
	if report != want {
		t.Errorf("report: got %+v, want %+v", report, want)
	}
	if got := h.store.status("sw-ok"); got != models.TxStatusSuccess {
		t.Errorf("sw-ok: got %s", got)
	}
	if got := h.store.status("sw-unsure"); got != models.TxStatusProcessing {
		t.Errorf("sw-unsure: got %s", got)
	}
	// 10000 - ok - unsure - done
	if got := h.ledger.balance(user); got != 7000 {
		t.Errorf("balance: got %d, want 7000", got)
	}
}

func TestSweep_SkipsFreshRecords(t *testing.T) {
	h := newHarness()
	user := uuid.New()
	h.ledger.fund(user, 5000)
	checker := newMockChecker()
	h.settle(t, user, 1000, "fresh", timesOut())

	r := NewReconciler(h.orch, h.store, checker, time.Hour, nil)
	report, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Checked != 0 || checker.calls["fresh"] != 0 {
		t.Errorf("fresh record should be left to the synchronous path, report %+v", report)
	}
}

func TestSweep_RetriesRefundPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	user := uuid.New()
	h.ledger.fund(user, 5000)
	h.ledger.releaseErr = errors.New("ledger down")
	h.settle(t, user, 1000, "sw-rp", fails())
	if got := h.store.status("sw-rp"); got != models.TxStatusRefundPending {
		t.Fatalf("setup: status %s", got)
	}

	r := newTestReconciler(h, newMockChecker())
	report, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.RefundsRetried != 1 || report.RefundsPending != 1 {
		t.Errorf("while down: report %+v", report)
	}

	h.ledger.releaseErr = nil
	report, err = r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.RefundsRetried != 1 || report.Refunded != 1 {
		t.Errorf("after recovery: report %+v", report)
	}
	if got := h.ledger.balance(user); got != 5000 {
		t.Errorf("balance: got %d, want 5000", got)
	}

	report, _ = r.Sweep(ctx)
	if report.RefundsRetried != 0 {
		t.Errorf("nothing should be left, report %+v", report)
	}
}

func TestSweep_ListError(t *testing.T) {
	h := newHarness()
	r := NewReconciler(h.orch, failingLister{}, newMockChecker(), time.Minute, nil)
	if _, err := r.Sweep(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}
