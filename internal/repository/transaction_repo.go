package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zidwell/backend/internal/models"
)

const transactionColumns = `id, user_id, kind, amount_kobo, reference, status, destination, external_response, created_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Begin opens a transaction on the pool.
func (r *TransactionRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts a transaction record inside the given transaction. The
// unique index on reference is the backstop for the caller's idempotency check.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount_kobo, reference, status, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Kind, t.AmountKobo, t.Reference, t.Status, nullJSON(t.Destination)).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return ErrDuplicateReference
			case foreignKeyViolation:
				return ErrUnknownUser
			}
		}
		return err
	}
	return nil
}

func (r *TransactionRepo) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateStatus moves a record from one status to another with a
// compare-and-set on the current status. externalResponse is kept when nil.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string, externalResponse json.RawMessage) (*models.Transaction, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	row := tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $3, external_response = COALESCE($4, external_response), updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+transactionColumns, id, from, to, nullJSON(externalResponse))
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaleStatus
	}
	return t, err
}

func (r *TransactionRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListStale returns records in any of statuses last updated before olderThan, oldest first.
func (r *TransactionRepo) ListStale(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3
	`, statuses, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// DailySpend sums today's (UTC) debits that still hold money: everything
// except rejected and refunded records.
func (r *TransactionRepo) DailySpend(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_kobo), 0)
		FROM transactions
		WHERE user_id = $1 AND kind <> $2 AND status NOT IN ($3, $4)
		  AND created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
	`, userID, models.KindManualAdjustment, models.TxStatusRejected, models.TxStatusFailedRefunded).Scan(&total)
	return total, err
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var destination, external []byte
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.AmountKobo, &t.Reference, &t.Status, &destination, &external, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Destination = destination
	t.ExternalResponse = external
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// nullJSON maps an empty payload to SQL NULL.
func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
