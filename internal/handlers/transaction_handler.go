package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/middleware"
	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/repository"
)

type TransactionReader interface {
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// TransactionHandler lets a user read their own settlement records.
type TransactionHandler struct {
	Store  TransactionReader
	Logger *slog.Logger
}

// --- GET /v1/transactions ---

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, ok := listLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	txns, err := h.Store.ListByUserID(r.Context(), p.UserID, limit)
	if err != nil {
		h.Logger.Error("list transactions", "user_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// --- GET /v1/transactions/{reference} ---

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ref := r.PathValue("reference")
	txn, err := h.Store.FindByReference(r.Context(), ref)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.Logger.Error("get transaction", "reference", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Another user's reference looks the same as a missing one.
	if txn.UserID != p.UserID {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
