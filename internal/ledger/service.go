package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Service is the sole mutator of wallet balances. Every method that takes a
// pgx.Tx runs inside the caller's transaction.
type Service interface {
	Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
	Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error)
	Audit(ctx context.Context, userID uuid.UUID) (*AuditResult, error)
}

// AuditResult checks one wallet: the balance must equal the sum of every
// adjustment delta.
type AuditResult struct {
	UserID        uuid.UUID `json:"user_id"`
	BalanceKobo   int64     `json:"balance_kobo"`
	SumDeltasKobo int64     `json:"sum_deltas_kobo"`
	Adjustments   int64     `json:"adjustments"`
	Balanced      bool      `json:"balanced"`
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	return s.repo.Reserve(ctx, tx, userID, amount, transactionID)
}

func (s *service) Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	return s.repo.Release(ctx, tx, userID, amount, transactionID)
}

func (s *service) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, transactionID uuid.UUID) (int64, error) {
	return s.repo.Credit(ctx, tx, userID, amount, transactionID)
}

func (s *service) Audit(ctx context.Context, userID uuid.UUID) (*AuditResult, error) {
	return s.repo.Audit(ctx, userID)
}

// ErrInsufficientBalance is returned when the wallet balance is below the reserve amount.
var ErrInsufficientBalance = errInsufficientBalance

// ErrWalletNotFound is returned when the user has no wallet.
var ErrWalletNotFound = errWalletNotFound
