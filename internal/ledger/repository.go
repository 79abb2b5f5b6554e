package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zidwell/backend/internal/models"
)

var (
	errInsufficientBalance = errors.New("insufficient balance")
	errWalletNotFound      = errors.New("wallet not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Reserve runs inside the caller's transaction. It:
// a) Decrements balance_kobo only if balance_kobo >= amount (conditional UPDATE, row lock)
// b) Inserts a debit adjustment carrying the resulting balance
func (r *Repository) Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance_kobo = balance_kobo - $1, updated_at = now()
		WHERE user_id = $2 AND balance_kobo >= $1
		RETURNING balance_kobo
	`, amount, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missOrShort(ctx, tx, userID)
	}
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_adjustments (user_id, transaction_id, entry_type, delta_kobo, resulting_balance_kobo)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, transactionID, models.AdjustmentDebit, -amount, balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Release credits amount back as the refund for transactionID. A second
// release for the same transaction changes nothing and returns the current balance.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	return r.credit(ctx, tx, userID, amount, transactionID, models.AdjustmentRefund)
}

// Credit adds amount as a manual credit for transactionID, at most once per transaction.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	return r.credit(ctx, tx, userID, amount, transactionID, models.AdjustmentCredit)
}

func (r *Repository) credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID, entryType string) (int64, error) {
	var adjustmentID uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_adjustments (user_id, transaction_id, entry_type, delta_kobo, resulting_balance_kobo)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (transaction_id, entry_type) DO NOTHING
		RETURNING id
	`, userID, transactionID, entryType, amount).Scan(&adjustmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already applied.
		return r.balance(ctx, tx, userID)
	}
	if err != nil {
		return 0, err
	}
	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE wallets SET balance_kobo = balance_kobo + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING balance_kobo
	`, amount, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errWalletNotFound
	}
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `UPDATE ledger_adjustments SET resulting_balance_kobo = $1 WHERE id = $2`, balance, adjustmentID)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Audit compares the wallet balance with the sum of its adjustments.
func (r *Repository) Audit(ctx context.Context, userID uuid.UUID) (*AuditResult, error) {
	res := AuditResult{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT w.balance_kobo,
			COALESCE((SELECT SUM(delta_kobo) FROM ledger_adjustments WHERE user_id = w.user_id), 0),
			(SELECT COUNT(*) FROM ledger_adjustments WHERE user_id = w.user_id)
		FROM wallets w WHERE w.user_id = $1
	`, userID).Scan(&res.BalanceKobo, &res.SumDeltasKobo, &res.Adjustments)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	res.Balanced = res.BalanceKobo == res.SumDeltasKobo
	return &res, nil
}

func (r *Repository) balance(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance_kobo FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errWalletNotFound
	}
	return balance, err
}

// missOrShort tells a missing wallet apart from an insufficient one after
// the conditional UPDATE matched nothing.
func (r *Repository) missOrShort(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return errWalletNotFound
	}
	return errInsufficientBalance
}
