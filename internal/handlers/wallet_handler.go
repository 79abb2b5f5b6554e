package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/middleware"
	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/money"
	"github.com/zidwell/backend/internal/repository"
)

type WalletReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type AdjustmentLister interface {
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerAdjustment, error)
}

// BalanceCache is a read-through cache in front of the wallet table.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (int64, bool, error)
	Set(ctx context.Context, userID uuid.UUID, balance int64) error
}

// WalletHandler serves the caller's wallet balance and adjustment history.
// Cache is optional.
type WalletHandler struct {
	Wallets     WalletReader
	Adjustments AdjustmentLister
	Cache       BalanceCache
	Logger      *slog.Logger
}

type walletResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Balance     string    `json:"balance"`
	BalanceKobo int64     `json:"balance_kobo"`
	Cached      bool      `json:"cached"`
}

// --- GET /v1/wallet ---

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx := r.Context()

	if h.Cache != nil {
		balance, ok, err := h.Cache.Get(ctx, p.UserID)
		if err != nil {
			h.Logger.Warn("balance cache read failed", "user_id", p.UserID, "error", err)
		}
		if ok {
			writeJSON(w, http.StatusOK, walletResponse{UserID: p.UserID, Balance: money.FormatKobo(balance), BalanceKobo: balance, Cached: true})
			return
		}
	}

	wallet, err := h.Wallets.GetByUserID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		h.Logger.Error("get wallet", "user_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, p.UserID, wallet.BalanceKobo); err != nil {
			h.Logger.Warn("balance cache write failed", "user_id", p.UserID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: p.UserID, Balance: money.FormatKobo(wallet.BalanceKobo), BalanceKobo: wallet.BalanceKobo})
}

// --- GET /v1/wallet/adjustments ---

func (h *WalletHandler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
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
	adjs, err := h.Adjustments.ListByUserID(r.Context(), p.UserID, limit)
	if err != nil {
		h.Logger.Error("list adjustments", "user_id", p.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if adjs == nil {
		adjs = []*models.LedgerAdjustment{}
	}
	writeJSON(w, http.StatusOK, adjs)
}
