package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/provider"
	"github.com/zidwell/backend/internal/services"
)

// Resolver applies an out-of-band provider outcome to a record.
type Resolver interface {
	Resolve(ctx context.Context, reference string, outcome services.Outcome) (*models.Transaction, error)
}

// WebhookHandler accepts signed provider status callbacks.
type WebhookHandler struct {
	Resolver Resolver
	Secret   string
	Logger   *slog.Logger
}

// --- POST /v1/webhooks/provider ---

func (h *WebhookHandler) Provider(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := provider.VerifySignature(body, r.Header.Get(provider.SignatureHeader), h.Secret); err != nil {
		h.Logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	ref, outcome, err := provider.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := h.Resolver.Resolve(r.Context(), ref, outcome)
	switch {
	case errors.Is(err, services.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "unknown reference")
		return
	case errors.Is(err, services.ErrRefundPending):
		// Recorded; the sweep retries the refund. The provider need not resend.
		h.Logger.Warn("webhook failure left refund pending", "reference", ref)
	case err != nil:
		h.Logger.Error("webhook resolve", "reference", ref, "error", err)
		writeError(w, errorStatus(err), errorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reference": ref, "status": txn.Status})
}
