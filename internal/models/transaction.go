package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds.
const (
	KindPurchaseData        = "purchase-data"
	KindPurchaseElectricity = "purchase-electricity"
	KindP2PTransfer         = "p2p-transfer"
	KindInvoicePayment      = "invoice-payment"
	KindManualAdjustment    = "manual-adjustment"
)

// Transaction statuses.
const (
	TxStatusPending        = "pending"
	TxStatusProcessing     = "processing"
	TxStatusSuccess        = "success"
	TxStatusRejected       = "rejected"
	TxStatusFailedRefunded = "failed_refunded"
	TxStatusRefundPending  = "refund_pending"
)

// Transaction is one attempted movement of funds, keyed by the caller's
// reference. AmountKobo is always a positive magnitude.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Kind             string          `json:"kind"`
	AmountKobo       int64           `json:"amount_kobo"`
	Reference        string          `json:"reference"`
	Status           string          `json:"status"`
	Destination      json.RawMessage `json:"destination,omitempty"`
	ExternalResponse json.RawMessage `json:"external_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

var transitions = map[string][]string{
	TxStatusPending: {
		TxStatusSuccess,
		TxStatusRejected,
		TxStatusProcessing,
		TxStatusFailedRefunded,
		TxStatusRefundPending,
	},
	TxStatusProcessing: {
		TxStatusSuccess,
		TxStatusFailedRefunded,
		TxStatusRefundPending,
	},
	// Operator or scheduled refund retry.
	TxStatusRefundPending: {
		TxStatusFailedRefunded,
	},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves the status.
// refund_pending is terminal but needs operator attention.
func IsTerminal(status string) bool {
	switch status {
	case TxStatusSuccess, TxStatusRejected, TxStatusFailedRefunded, TxStatusRefundPending:
		return true
	}
	return false
}

// IsKnownKind reports whether kind is one of the transaction kinds.
func IsKnownKind(kind string) bool {
	switch kind {
	case KindPurchaseData, KindPurchaseElectricity, KindP2PTransfer, KindInvoicePayment, KindManualAdjustment:
		return true
	}
	return false
}

// IsTerminal reports whether the record's status is terminal.
func (t *Transaction) IsTerminal() bool { return IsTerminal(t.Status) }
