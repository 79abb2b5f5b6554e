package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/ledger"
	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/money"
	"github.com/zidwell/backend/internal/services"
)

// Operator is the orchestrator surface available to admins.
type Operator interface {
	Adjust(ctx context.Context, req services.AdjustRequest) (*services.SettleResult, error)
	RetryRefund(ctx context.Context, reference string) (*models.Transaction, error)
}

type OneReconciler interface {
	ReconcileOne(ctx context.Context, reference string) (*models.Transaction, services.Outcome, error)
}

type Auditor interface {
	Audit(ctx context.Context, userID uuid.UUID) (*ledger.AuditResult, error)
}

// AdminHandler serves operator endpoints. Routes are guarded by RequireRole(admin).
type AdminHandler struct {
	Operator   Operator
	Reconciler OneReconciler
	Auditor    Auditor
	Logger     *slog.Logger
}

type adjustRequest struct {
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

// --- POST /v1/admin/adjustments ---

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}
	delta, err := money.ParseSignedNaira(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	res, err := h.Operator.Adjust(r.Context(), services.AdjustRequest{
		UserID:    userID,
		Delta:     delta,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil && (res == nil || res.Transaction == nil) {
		h.logFailure("adjust", req.Reference, err)
		writeError(w, errorStatus(err), errorMessage(err))
		return
	}
	resp := settleResponse{Transaction: res.Transaction, BalanceKobo: res.Balance, Replayed: res.Replayed}
	if res.Balance != nil {
		resp.Balance = money.FormatKobo(*res.Balance)
	}
	status := settlementStatus(res.Transaction.Status)
	if status == http.StatusOK && !res.Replayed {
		status = http.StatusCreated
	}
	if err != nil {
		resp.Error = errorMessage(err)
		status = errorStatus(err)
	}
	writeJSON(w, status, resp)
}

// --- POST /v1/admin/transactions/{reference}/retry-refund ---

func (h *AdminHandler) RetryRefund(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")
	txn, err := h.Operator.RetryRefund(r.Context(), ref)
	if err != nil && txn == nil {
		h.logFailure("retry refund", ref, err)
		writeError(w, errorStatus(err), errorMessage(err))
		return
	}
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]interface{}{"transaction": txn, "error": errorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": txn})
}

// --- POST /v1/admin/transactions/{reference}/reconcile ---

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")
	txn, outcome, err := h.Reconciler.ReconcileOne(r.Context(), ref)
	if err != nil && txn == nil {
		h.logFailure("reconcile", ref, err)
		writeError(w, errorStatus(err), errorMessage(err))
		return
	}
	resp := map[string]interface{}{"transaction": txn, "provider_outcome": outcome.Result.String()}
	status := http.StatusOK
	if err != nil {
		resp["error"] = errorMessage(err)
		status = errorStatus(err)
	}
	writeJSON(w, status, resp)
}

// --- GET /v1/admin/wallets/{user_id}/audit ---

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}
	res, err := h.Auditor.Audit(r.Context(), userID)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		h.Logger.Error("audit wallet", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !res.Balanced {
		h.Logger.Error("wallet out of balance", "user_id", userID, "balance_kobo", res.BalanceKobo, "sum_deltas_kobo", res.SumDeltasKobo)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) logFailure(op, reference string, err error) {
	if errorStatus(err) >= http.StatusInternalServerError {
		h.Logger.Error(op+" failed", "reference", reference, "error", err)
	}
}
