package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zidwell/backend/internal/middleware"
	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/money"
	"github.com/zidwell/backend/internal/services"
)

// Settler runs a settlement to a final or ambiguous state.
type Settler interface {
	Settle(ctx context.Context, req services.SettleRequest) (*services.SettleResult, error)
}

// ActionFactory builds the provider call for a kind and destination.
type ActionFactory interface {
	Action(kind string, destination json.RawMessage) (services.ExternalAction, error)
}

// DestinationValidator rejects destinations that do not match a kind's schema.
type DestinationValidator interface {
	ValidateDestination(ctx context.Context, kind string, destination json.RawMessage) error
}

// StatusScheduler queues a follow-up provider status query for an ambiguous record.
type StatusScheduler interface {
	ScheduleStatusCheck(ctx context.Context, reference string) error
}

// SettlementHandler serves the debit endpoints: data, electricity, transfers
// and invoice payments.
type SettlementHandler struct {
	Settler   Settler
	Actions   ActionFactory
	Validator DestinationValidator
	Scheduler StatusScheduler
	Logger    *slog.Logger
}

type settleRequest struct {
	Reference   string          `json:"reference"`
	Amount      string          `json:"amount"`
	Destination json.RawMessage `json:"destination"`
}

type settleResponse struct {
	Transaction      *models.Transaction `json:"transaction"`
	Balance          string              `json:"balance,omitempty"`
	BalanceKobo      *int64              `json:"balance_kobo,omitempty"`
	ProviderResponse json.RawMessage     `json:"provider_response,omitempty"`
	Replayed         bool                `json:"replayed"`
	Error            string              `json:"error,omitempty"`
}

// --- POST /v1/purchases/data ---

func (h *SettlementHandler) PurchaseData(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, models.KindPurchaseData, nil)
}

// --- POST /v1/purchases/electricity ---

func (h *SettlementHandler) PurchaseElectricity(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, models.KindPurchaseElectricity, nil)
}

// --- POST /v1/transfers ---

func (h *SettlementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, models.KindP2PTransfer, nil)
}

// --- POST /v1/invoices/{id}/pay ---

func (h *SettlementHandler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice id is required")
		return
	}
	h.settle(w, r, models.KindInvoicePayment, map[string]string{"invoice_id": invoiceID})
}

// settle decodes the body, validates the destination and hands the request
// to the orchestrator. fixed fields override the caller's destination.
func (h *SettlementHandler) settle(w http.ResponseWriter, r *http.Request, kind string, fixed map[string]string) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	var req settleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}
	amount := middleware.AmountFromCtx(r.Context())
	if amount == 0 {
		amount, err = money.ParseNaira(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	dest := req.Destination
	if len(fixed) > 0 {
		dest, err = withFields(dest, fixed)
		if err != nil {
			writeError(w, http.StatusBadRequest, "destination must be a JSON object")
			return
		}
	}
	if err := h.Validator.ValidateDestination(r.Context(), kind, dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := h.Actions.Action(kind, dest)
	if err != nil {
		h.Logger.Error("build provider action", "kind", kind, "error", err)
		writeError(w, http.StatusBadRequest, "unsupported settlement kind")
		return
	}

	res, err := h.Settler.Settle(r.Context(), services.SettleRequest{
		UserID:      p.UserID,
		Amount:      amount,
		Reference:   req.Reference,
		Kind:        kind,
		Destination: dest,
		Action:      action,
	})
	if res == nil || res.Transaction == nil {
		if err == nil {
			err = errors.New("settle returned no result")
		}
		h.respondErr(w, req.Reference, err)
		return
	}

	if err == nil && res.Transaction.Status == models.TxStatusProcessing && !res.Replayed && h.Scheduler != nil {
		if serr := h.Scheduler.ScheduleStatusCheck(context.WithoutCancel(r.Context()), req.Reference); serr != nil {
			// The periodic sweep still picks the record up.
			h.Logger.Error("schedule status check", "reference", req.Reference, "error", serr)
		}
	}

	resp := settleResponse{
		Transaction:      res.Transaction,
		BalanceKobo:      res.Balance,
		ProviderResponse: res.ProviderResponse,
		Replayed:         res.Replayed,
	}
	if res.Balance != nil {
		resp.Balance = money.FormatKobo(*res.Balance)
	}
	status := settlementStatus(res.Transaction.Status)
	if err != nil {
		resp.Error = errorMessage(err)
		status = errorStatus(err)
	}
	writeJSON(w, status, resp)
}

func (h *SettlementHandler) respondErr(w http.ResponseWriter, reference string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("settle failed", "reference", reference, "error", err)
	}
	writeError(w, status, errorMessage(err))
}

// withFields merges fields into a JSON object destination.
func withFields(dest json.RawMessage, fields map[string]string) (json.RawMessage, error) {
	obj := make(map[string]interface{})
	if len(dest) > 0 && string(dest) != "null" {
		if err := json.Unmarshal(dest, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}
