package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zidwell/backend/internal/ledger"
	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/repository"
)

const (
	defaultActionTimeout = 30 * time.Second
	maxReferenceLen      = 128
)

var (
	// ErrInsufficientBalance is returned when the wallet cannot cover the amount.
	// The external action is never invoked.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	// ErrUserNotFound is returned when the user has no wallet.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferenceConflict is returned when a reference is reused for a different user or amount.
	ErrReferenceConflict = errors.New("reference already used for a different settlement")
	// ErrRefundPending is returned when the external action failed and the
	// compensating credit could not be applied. The record needs reconciliation.
	ErrRefundPending = errors.New("external action failed and refund is pending")
	// ErrLedgerUnavailable is returned when no state change could be
	// guaranteed. Retry the whole call with the same reference.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrInvalidRequest is returned for malformed settlement requests.
	ErrInvalidRequest = errors.New("invalid settlement request")
	// ErrTransactionNotFound is returned when no record has the reference.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// OutcomeResult classifies what the provider told us.
type OutcomeResult int

const (
	OutcomeAmbiguous OutcomeResult = iota
	OutcomeSuccess
	OutcomeFailure
)

func (r OutcomeResult) String() string {
	switch r {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "ambiguous"
	}
}

// Outcome is the three-way result of an external action or status query.
type Outcome struct {
	Result  OutcomeResult
	Payload json.RawMessage
	Reason  string
}

// ExternalAction performs the provider call for a reserved amount.
type ExternalAction func(ctx context.Context, amount int64, reference string) Outcome

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SettlementLedger is the subset of the ledger the orchestrator needs.
type SettlementLedger interface {
	Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
	Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
}

// SettlementStore is the transaction record store.
type SettlementStore interface {
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	Create(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string, externalResponse json.RawMessage) (*models.Transaction, error)
}

// BalanceInvalidator drops cached balances after a committed ledger change.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// SettlementObserver records settlement outcomes (metrics).
type SettlementObserver interface {
	ObserveSettlement(kind, status string, elapsed time.Duration)
	ObserveRefund(kind string, ok bool)
}

// Orchestrator drives one money movement through reserve, external call,
// and finalize-or-compensate.
type Orchestrator struct {
	Pool          TxBeginner
	Ledger        SettlementLedger
	Store         SettlementStore
	Cache         BalanceInvalidator
	Observer      SettlementObserver
	ActionTimeout time.Duration
	Logger        *slog.Logger
}

// NewOrchestrator returns an Orchestrator with the default action timeout.
func NewOrchestrator(pool TxBeginner, ledger SettlementLedger, store SettlementStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Pool:          pool,
		Ledger:        ledger,
		Store:         store,
		ActionTimeout: defaultActionTimeout,
		Logger:        logger,
	}
}

type SettleRequest struct {
	UserID      uuid.UUID
	Amount      int64
	Reference   string
	Kind        string
	Destination json.RawMessage
	Action      ExternalAction
}

type SettleResult struct {
	Transaction      *models.Transaction
	Balance          *int64
	ProviderResponse json.RawMessage
	// Replayed is set when the reference was already known and the stored
	// record is returned without re-execution.
	Replayed bool
}

// Settle reserves the amount, runs the external action and finalizes the
// record. At most one debit and one compensating credit happen per reference.
func (o *Orchestrator) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if err := validateSettle(req); err != nil {
		return nil, err
	}
	start := time.Now()

	txn := &models.Transaction{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Kind:        req.Kind,
		AmountKobo:  req.Amount,
		Reference:   req.Reference,
		Status:      models.TxStatusPending,
		Destination: req.Destination,
	}
	if res, ok, err := o.replay(ctx, txn); ok {
		return res, err
	}
	balance, err := o.reserve(ctx, txn)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Lost the race on the unique reference: return the winner's record.
			if res, ok, rerr := o.replay(ctx, txn); ok {
				return res, rerr
			}
			return nil, fmt.Errorf("%w: reference %s vanished after conflict", ErrLedgerUnavailable, req.Reference)
		}
		if errors.Is(err, ErrInsufficientBalance) {
			o.observe(txn, start)
			return &SettleResult{Transaction: txn}, ErrInsufficientBalance
		}
		return nil, err
	}
	o.invalidate(ctx, txn.UserID)

	// Finalization must run even if the caller goes away.
	fctx := context.WithoutCancel(ctx)
	outcome := o.execute(fctx, req.Action, txn)

	res := &SettleResult{Transaction: txn, Balance: &balance, ProviderResponse: outcome.Payload}
	switch outcome.Result {
	case OutcomeSuccess:
		updated, err := o.transition(fctx, txn, models.TxStatusSuccess, outcome.Payload)
		if err != nil {
			return o.afterRace(fctx, res, err)
		}
		res.Transaction = updated
	case OutcomeFailure:
		o.Logger.Warn("external action failed, refunding", "reference", txn.Reference, "reason", outcome.Reason)
		updated, newBalance, err := o.compensate(fctx, txn, outcome.Payload)
		if updated != nil {
			res.Transaction = updated
		}
		if newBalance != nil {
			res.Balance = newBalance
		}
		if err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return o.afterRace(fctx, res, err)
			}
			o.observe(res.Transaction, start)
			return res, err
		}
	default:
		o.Logger.Warn("external action outcome unknown, leaving for reconciliation", "reference", txn.Reference, "reason", outcome.Reason)
		updated, err := o.transition(fctx, txn, models.TxStatusProcessing, outcome.Payload)
		if err != nil {
			return o.afterRace(fctx, res, err)
		}
		res.Transaction = updated
	}
	o.observe(res.Transaction, start)
	return res, nil
}

// Resolve applies an out-of-band outcome (provider webhook or status query)
// to a pending or processing record. Terminal records are returned unchanged.
func (o *Orchestrator) Resolve(ctx context.Context, reference string, outcome Outcome) (*models.Transaction, error) {
	txn, err := o.find(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxStatusPending && txn.Status != models.TxStatusProcessing {
		return txn, nil
	}
	var updated *models.Transaction
	switch outcome.Result {
	case OutcomeSuccess:
		updated, err = o.transition(ctx, txn, models.TxStatusSuccess, outcome.Payload)
	case OutcomeFailure:
		updated, _, err = o.compensate(ctx, txn, outcome.Payload)
	default:
		if txn.Status == models.TxStatusProcessing {
			return txn, nil
		}
		updated, err = o.transition(ctx, txn, models.TxStatusProcessing, outcome.Payload)
	}
	if errors.Is(err, repository.ErrStaleStatus) {
		return o.find(ctx, reference)
	}
	if updated == nil {
		updated = txn
	}
	if err == nil {
		o.Logger.Info("transaction resolved", "reference", reference, "outcome", outcome.Result.String(), "status", updated.Status)
	}
	return updated, err
}

// RetryRefund re-attempts the compensating credit of a refund_pending record.
func (o *Orchestrator) RetryRefund(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := o.find(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxStatusRefundPending {
		return txn, nil
	}
	updated, _, err := o.compensate(ctx, txn, nil)
	if errors.Is(err, repository.ErrStaleStatus) {
		return o.find(ctx, reference)
	}
	if updated == nil {
		updated = txn
	}
	return updated, err
}

type AdjustRequest struct {
	UserID    uuid.UUID
	Delta     int64
	Reference string
	Note      string
}

// Adjust applies an operator credit (Delta > 0) or debit (Delta < 0) with no
// external action. It follows the same idempotency rules as Settle.
func (o *Orchestrator) Adjust(ctx context.Context, req AdjustRequest) (*SettleResult, error) {
	if req.Delta == 0 || req.Reference == "" || len(req.Reference) > maxReferenceLen || req.UserID == uuid.Nil {
		return nil, ErrInvalidRequest
	}
	amount := req.Delta
	if amount < 0 {
		amount = -amount
	}
	start := time.Now()
	direction := models.AdjustmentCredit
	if req.Delta < 0 {
		direction = models.AdjustmentDebit
	}
	note, err := json.Marshal(adjustmentNote{Note: req.Note, Direction: direction})
	if err != nil {
		return nil, fmt.Errorf("%w: encode note: %v", ErrInvalidRequest, err)
	}
	txn := &models.Transaction{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Kind:        models.KindManualAdjustment,
		AmountKobo:  amount,
		Reference:   req.Reference,
		Status:      models.TxStatusPending,
		Destination: note,
	}
	if res, ok, err := o.replay(ctx, txn); ok {
		return res, err
	}

	var balance int64
	var result *models.Transaction
	err = o.inTx(ctx, func(tx pgx.Tx) error {
		if err := o.Store.Create(ctx, tx, txn); err != nil {
			return err
		}
		var lerr error
		if req.Delta > 0 {
			balance, lerr = o.Ledger.Credit(ctx, tx, req.UserID, amount, txn.ID)
		} else {
			balance, lerr = o.Ledger.Reserve(ctx, tx, req.UserID, amount, txn.ID)
		}
		to := models.TxStatusSuccess
		if errors.Is(lerr, ledger.ErrInsufficientBalance) {
			to = models.TxStatusRejected
		} else if lerr != nil {
			return lerr
		}
		updated, err := o.Store.UpdateStatus(ctx, tx, txn.ID, models.TxStatusPending, to, nil)
		if err != nil {
			return err
		}
		result = updated
		return lerr
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateReference):
		if res, ok, rerr := o.replay(ctx, txn); ok {
			return res, rerr
		}
		return nil, ErrLedgerUnavailable
	case errors.Is(err, ErrInsufficientBalance):
		o.observe(result, start)
		return &SettleResult{Transaction: result}, ErrInsufficientBalance
	case err != nil:
		return nil, o.classifyReserveErr(err)
	}
	o.invalidate(ctx, req.UserID)
	o.observe(result, start)
	o.Logger.Info("manual adjustment applied", "reference", req.Reference, "user_id", req.UserID, "delta", req.Delta)
	return &SettleResult{Transaction: result, Balance: &balance}, nil
}

// adjustmentNote is the stored destination of a manual adjustment.
type adjustmentNote struct {
	Note      string `json:"note"`
	Direction string `json:"direction"`
}

// sameSettlement reports whether a stored record describes the same movement
// as want: same user, amount, kind and, for adjustments, direction.
func sameSettlement(existing, want *models.Transaction) bool {
	if existing.UserID != want.UserID || existing.AmountKobo != want.AmountKobo || existing.Kind != want.Kind {
		return false
	}
	if want.Kind != models.KindManualAdjustment {
		return true
	}
	var a, b adjustmentNote
	if json.Unmarshal(existing.Destination, &a) != nil || json.Unmarshal(want.Destination, &b) != nil {
		return false
	}
	return a.Direction == b.Direction
}

// replay returns the stored record for a known reference. ok is false when
// the reference is new.
func (o *Orchestrator) replay(ctx context.Context, want *models.Transaction) (*SettleResult, bool, error) {
	reference := want.Reference
	existing, err := o.Store.FindByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("%w: find reference: %v", ErrLedgerUnavailable, err)
	}
	if !sameSettlement(existing, want) {
		return nil, true, ErrReferenceConflict
	}
	o.Logger.Info("settlement replayed", "reference", reference, "status", existing.Status)
	res := &SettleResult{Transaction: existing, ProviderResponse: existing.ExternalResponse, Replayed: true}
	switch existing.Status {
	case models.TxStatusRejected:
		return res, true, ErrInsufficientBalance
	case models.TxStatusRefundPending:
		return res, true, ErrRefundPending
	}
	return res, true, nil
}

// reserve creates the pending record and debits the wallet in one
// transaction. On insufficient balance the record is committed as rejected.
func (o *Orchestrator) reserve(ctx context.Context, txn *models.Transaction) (int64, error) {
	var balance int64
	err := o.inTx(ctx, func(tx pgx.Tx) error {
		if err := o.Store.Create(ctx, tx, txn); err != nil {
			return err
		}
		var err error
		balance, err = o.Ledger.Reserve(ctx, tx, txn.UserID, txn.AmountKobo, txn.ID)
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			updated, uerr := o.Store.UpdateStatus(ctx, tx, txn.ID, models.TxStatusPending, models.TxStatusRejected, nil)
			if uerr != nil {
				return uerr
			}
			*txn = *updated
			return err
		}
		return err
	})
	if err == nil || errors.Is(err, ErrInsufficientBalance) || errors.Is(err, repository.ErrDuplicateReference) {
		return balance, err
	}
	return 0, o.classifyReserveErr(err)
}

func (o *Orchestrator) classifyReserveErr(err error) error {
	if errors.Is(err, ledger.ErrWalletNotFound) || errors.Is(err, repository.ErrUnknownUser) {
		return ErrUserNotFound
	}
	o.Logger.Error("ledger operation failed", "error", err)
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}

// inTx commits when fn succeeds, or when fn reports insufficient balance
// (the rejected record is kept for audit). Anything else rolls back.
func (o *Orchestrator) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := o.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	ferr := fn(tx)
	if ferr != nil && !errors.Is(ferr, ledger.ErrInsufficientBalance) {
		return ferr
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return ferr
}

// execute runs the action under the action timeout. The caller going away
// does not cancel it. A call that outlives the deadline is ambiguous, never
// a failure.
func (o *Orchestrator) execute(ctx context.Context, action ExternalAction, txn *models.Transaction) Outcome {
	timeout := o.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	outcome := action(actx, txn.AmountKobo, txn.Reference)
	if actx.Err() != nil && outcome.Result != OutcomeSuccess {
		return Outcome{Result: OutcomeAmbiguous, Payload: outcome.Payload, Reason: fmt.Sprintf("action timed out after %s", timeout)}
	}
	return outcome
}

func (o *Orchestrator) transition(ctx context.Context, txn *models.Transaction, to string, payload json.RawMessage) (*models.Transaction, error) {
	var updated *models.Transaction
	err := o.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = o.Store.UpdateStatus(ctx, tx, txn.ID, txn.Status, to, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// compensate credits the amount back and marks the record failed_refunded
// in one transaction. If that cannot commit, the record is flagged
// refund_pending and ErrRefundPending is returned.
func (o *Orchestrator) compensate(ctx context.Context, txn *models.Transaction, payload json.RawMessage) (*models.Transaction, *int64, error) {
	var balance int64
	var updated *models.Transaction
	err := o.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		balance, err = o.Ledger.Release(ctx, tx, txn.UserID, txn.AmountKobo, txn.ID)
		if err != nil {
			return err
		}
		updated, err = o.Store.UpdateStatus(ctx, tx, txn.ID, txn.Status, models.TxStatusFailedRefunded, payload)
		return err
	})
	if err == nil {
		o.invalidate(ctx, txn.UserID)
		o.observeRefund(txn.Kind, true)
		return updated, &balance, nil
	}
	if errors.Is(err, repository.ErrStaleStatus) {
		return nil, nil, err
	}
	o.observeRefund(txn.Kind, false)
	o.Logger.Error("refund failed, flagging refund_pending", "reference", txn.Reference, "user_id", txn.UserID, "error", err)
	if txn.Status == models.TxStatusRefundPending {
		return txn, nil, fmt.Errorf("%w: %v", ErrRefundPending, err)
	}
	flagged, ferr := o.transition(ctx, txn, models.TxStatusRefundPending, payload)
	if ferr != nil {
		o.Logger.Error("could not flag refund_pending", "reference", txn.Reference, "error", ferr)
		return txn, nil, fmt.Errorf("%w: %v", ErrRefundPending, err)
	}
	return flagged, nil, fmt.Errorf("%w: %v", ErrRefundPending, err)
}

// afterRace re-reads the record when a finalizing update lost to a
// concurrent resolver.
func (o *Orchestrator) afterRace(ctx context.Context, res *SettleResult, err error) (*SettleResult, error) {
	if !errors.Is(err, repository.ErrStaleStatus) {
		o.Logger.Error("finalize transaction failed", "reference", res.Transaction.Reference, "error", err)
		// The debit stands and the record stays pending for the sweep.
		return res, fmt.Errorf("%w: finalize: %v", ErrLedgerUnavailable, err)
	}
	current, ferr := o.find(ctx, res.Transaction.Reference)
	if ferr != nil {
		return res, ferr
	}
	res.Transaction = current
	return res, nil
}

func (o *Orchestrator) find(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := o.Store.FindByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find reference: %v", ErrLedgerUnavailable, err)
	}
	return txn, nil
}

func (o *Orchestrator) invalidate(ctx context.Context, userID uuid.UUID) {
	if o.Cache == nil {
		return
	}
	if err := o.Cache.Invalidate(ctx, userID); err != nil {
		o.Logger.Warn("balance cache invalidate failed", "user_id", userID, "error", err)
	}
}

func (o *Orchestrator) observe(txn *models.Transaction, start time.Time) {
	if o.Observer == nil || txn == nil {
		return
	}
	o.Observer.ObserveSettlement(txn.Kind, txn.Status, time.Since(start))
}

func (o *Orchestrator) observeRefund(kind string, ok bool) {
	if o.Observer != nil {
		o.Observer.ObserveRefund(kind, ok)
	}
}

func validateSettle(req SettleRequest) error {
	switch {
	case req.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case req.Amount <= 0:
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	case req.Reference == "" || len(req.Reference) > maxReferenceLen:
		return fmt.Errorf("%w: reference must be 1-%d characters", ErrInvalidRequest, maxReferenceLen)
	case !models.IsKnownKind(req.Kind) || req.Kind == models.KindManualAdjustment:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidRequest, req.Kind)
	case req.Action == nil:
		return fmt.Errorf("%w: external action is required", ErrInvalidRequest)
	}
	return nil
}
