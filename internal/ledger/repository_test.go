package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zidwell/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Scripted pgx.Tx: QueryRow answers come from a queue, Exec calls are recorded.
// ---------------------------------------------------------------------------

type scriptRow struct {
	vals []any
	err  error
}

func (r scriptRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.vals[i].(int64)
		case *bool:
			*p = r.vals[i].(bool)
		case *uuid.UUID:
			*p = r.vals[i].(uuid.UUID)
		}
	}
	return nil
}

type call struct {
	sql  string
	args []any
}

type scriptTx struct {
	pgx.Tx
	rows    []scriptRow
	queries []call
	execs   []call
}

func (tx *scriptTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	tx.queries = append(tx.queries, call{sql, args})
	if len(tx.rows) == 0 {
		return scriptRow{err: errors.New("unexpected query: " + sql)}
	}
	r := tx.rows[0]
	tx.rows = tx.rows[1:]
	return r
}

func (tx *scriptTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, call{sql, args})
	return pgconn.NewCommandTag("OK"), nil
}

func rows(r ...scriptRow) *scriptTx { return &scriptTx{rows: r} }

func ok(vals ...any) scriptRow { return scriptRow{vals: vals} }

var noRows = scriptRow{err: pgx.ErrNoRows}

// =====================================================================
// Reserve
// =====================================================================

func TestReserve_Debits(t *testing.T) {
	repo := NewRepository(nil)
	user, txnID := uuid.New(), uuid.New()
	tx := rows(ok(int64(3000)))

	balance, err := repo.Reserve(context.Background(), tx, user, 2000, txnID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if balance != 3000 {
		t.Errorf("balance: got %d, want 3000", balance)
	}
	if !strings.Contains(tx.queries[0].sql, "balance_kobo >= $1") {
		t.Errorf("reserve must be a conditional decrement, got %s", tx.queries[0].sql)
	}
	if len(tx.execs) != 1 {
		t.Fatalf("expected one adjustment insert, got %d", len(tx.execs))
	}
	args := tx.execs[0].args
	if args[2] != models.AdjustmentDebit || args[3] != int64(-2000) || args[4] != int64(3000) {
		t.Errorf("unexpected adjustment args: %v", args)
	}
}

func TestReserve_Insufficient(t *testing.T) {
	repo := NewRepository(nil)
	tx := rows(noRows, ok(true))

	_, err := repo.Reserve(context.Background(), tx, uuid.New(), 2000, uuid.New())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Error("no adjustment should be written")
	}
}

func TestReserve_WalletMissing(t *testing.T) {
	repo := NewRepository(nil)
	tx := rows(noRows, ok(false))

	_, err := repo.Reserve(context.Background(), tx, uuid.New(), 2000, uuid.New())
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

// =====================================================================
// Release / Credit
// =====================================================================

func TestRelease_AppliesOnce(t *testing.T) {
	repo := NewRepository(nil)
	user, txnID := uuid.New(), uuid.New()

	first := rows(ok(uuid.New()), ok(int64(5000)))
	balance, err := repo.Release(context.Background(), first, user, 2000, txnID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if balance != 5000 {
		t.Errorf("balance: got %d, want 5000", balance)
	}
	if !strings.Contains(first.queries[0].sql, "ON CONFLICT (transaction_id, entry_type) DO NOTHING") {
		t.Errorf("refund insert must be idempotent, got %s", first.queries[0].sql)
	}
	if first.queries[0].args[2] != models.AdjustmentRefund {
		t.Errorf("entry type: got %v", first.queries[0].args[2])
	}
	if len(first.execs) != 1 {
		t.Errorf("expected resulting balance update, got %d execs", len(first.execs))
	}

	// The refund row already exists: no wallet update, current balance returned.
	again := rows(noRows, ok(int64(5000)))
	balance, err = repo.Release(context.Background(), again, user, 2000, txnID)
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if balance != 5000 {
		t.Errorf("balance: got %d, want 5000", balance)
	}
	for _, q := range again.queries {
		if strings.Contains(q.sql, "UPDATE wallets") {
			t.Error("second release must not touch the wallet")
		}
	}
	if len(again.execs) != 0 {
		t.Errorf("expected no writes, got %d", len(again.execs))
	}
}

func TestCredit(t *testing.T) {
	repo := NewRepository(nil)

	tx := rows(ok(uuid.New()), ok(int64(7500)))
	balance, err := repo.Credit(context.Background(), tx, uuid.New(), 2500, uuid.New())
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if balance != 7500 || tx.queries[0].args[2] != models.AdjustmentCredit {
		t.Errorf("got balance %d entry %v", balance, tx.queries[0].args[2])
	}

	missing := rows(ok(uuid.New()), noRows)
	if _, err := repo.Credit(context.Background(), missing, uuid.New(), 2500, uuid.New()); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestRepository_PropagatesDriverErrors(t *testing.T) {
	repo := NewRepository(nil)
	boom := errors.New("connection reset")

	tx := rows(scriptRow{err: boom})
	if _, err := repo.Reserve(context.Background(), tx, uuid.New(), 1, uuid.New()); !errors.Is(err, boom) {
		t.Errorf("Reserve: expected driver error, got %v", err)
	}
	tx = rows(scriptRow{err: boom})
	if _, err := repo.Release(context.Background(), tx, uuid.New(), 1, uuid.New()); !errors.Is(err, boom) {
		t.Errorf("Release: expected driver error, got %v", err)
	}
}
