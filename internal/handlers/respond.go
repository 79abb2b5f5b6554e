package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps orchestrator sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrReferenceConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrRefundPending):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorMessage is the caller-facing text for err. Wrapped driver detail stays in the logs.
func errorMessage(err error) string {
	for _, s := range []error{
		services.ErrInsufficientBalance,
		services.ErrUserNotFound,
		services.ErrTransactionNotFound,
		services.ErrReferenceConflict,
		services.ErrRefundPending,
		services.ErrLedgerUnavailable,
		services.ErrInvalidRequest,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	if errors.Is(err, services.ErrValidation) {
		return err.Error()
	}
	return "internal error"
}

// settlementStatus maps a record status to the response code of a settle call.
func settlementStatus(status string) int {
	switch status {
	case models.TxStatusSuccess:
		return http.StatusOK
	case models.TxStatusPending, models.TxStatusProcessing:
		return http.StatusAccepted
	case models.TxStatusFailedRefunded:
		return http.StatusUnprocessableEntity
	case models.TxStatusRejected:
		return http.StatusPaymentRequired
	case models.TxStatusRefundPending:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// listLimit reads ?limit=, clamped to maxListLimit.
func listLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
