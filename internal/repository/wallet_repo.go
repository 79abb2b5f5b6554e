package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zidwell/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// CreateTx opens a zero-balance wallet for the user inside the given transaction.
func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	w := models.Wallet{UserID: userID}
	err := tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance_kobo) VALUES ($1, 0)
		RETURNING balance_kobo, created_at, updated_at
	`, userID).Scan(&w.BalanceKobo, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, balance_kobo, created_at, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.BalanceKobo, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
