package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger adjustment entry_type enums. Each transaction carries at most one
// adjustment of each type.
const (
	AdjustmentDebit  = "debit"
	AdjustmentRefund = "refund"
	AdjustmentCredit = "credit"
)

type LedgerAdjustment struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	TransactionID        uuid.UUID `json:"transaction_id"`
	EntryType            string    `json:"entry_type"`
	DeltaKobo            int64     `json:"delta_kobo"`
	ResultingBalanceKobo int64     `json:"resulting_balance_kobo"`
	CreatedAt            time.Time `json:"created_at"`
}
