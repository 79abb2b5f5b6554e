package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zidwell/backend/internal/models"
)

type AdjustmentRepo struct {
	pool *pgxpool.Pool
}

func NewAdjustmentRepo(pool *pgxpool.Pool) *AdjustmentRepo {
	return &AdjustmentRepo{pool: pool}
}

func (r *AdjustmentRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerAdjustment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, transaction_id, entry_type, delta_kobo, resulting_balance_kobo, created_at
		FROM ledger_adjustments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerAdjustment
	for rows.Next() {
		var a models.LedgerAdjustment
		if err := rows.Scan(&a.ID, &a.UserID, &a.TransactionID, &a.EntryType, &a.DeltaKobo, &a.ResultingBalanceKobo, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (r *AdjustmentRepo) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*models.LedgerAdjustment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, transaction_id, entry_type, delta_kobo, resulting_balance_kobo, created_at
		FROM ledger_adjustments WHERE transaction_id = $1 ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerAdjustment
	for rows.Next() {
		var a models.LedgerAdjustment
		if err := rows.Scan(&a.ID, &a.UserID, &a.TransactionID, &a.EntryType, &a.DeltaKobo, &a.ResultingBalanceKobo, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
