package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zidwell/backend/internal/handlers"
	"github.com/zidwell/backend/internal/middleware"
	"github.com/zidwell/backend/internal/models"
)

type v1Routes struct {
	Tokens       middleware.TokenValidator
	Spend        middleware.SpendStore
	Limits       middleware.Limits
	Settlements  *handlers.SettlementHandler
	Wallets      *handlers.WalletHandler
	Transactions *handlers.TransactionHandler
	Webhooks     *handlers.WebhookHandler
	Admin        *handlers.AdminHandler
	Health       *handlers.HealthHandler
}

// RegisterV1Routes adds the /v1/ wallet API endpoints to the given mux.
// Middleware chain: BearerAuth -> (SpendLimit on debits, RequireRole on admin) -> handler.
func RegisterV1Routes(mux *http.ServeMux, rt v1Routes) {
	auth := middleware.BearerAuth(rt.Tokens)
	spend := middleware.SpendLimit(rt.Spend, rt.Limits)
	admin := middleware.RequireRole(models.RoleAdmin)

	debit := func(h http.HandlerFunc) http.Handler { return auth(spend(h)) }
	user := func(h http.HandlerFunc) http.Handler { return auth(h) }
	operator := func(h http.HandlerFunc) http.Handler { return auth(admin(h)) }

	// Debits
	mux.Handle("POST /v1/purchases/data", debit(rt.Settlements.PurchaseData))
	mux.Handle("POST /v1/purchases/electricity", debit(rt.Settlements.PurchaseElectricity))
	mux.Handle("POST /v1/transfers", debit(rt.Settlements.Transfer))
	mux.Handle("POST /v1/invoices/{id}/pay", debit(rt.Settlements.PayInvoice))

	// Reads
	mux.Handle("GET /v1/wallet", user(rt.Wallets.GetWallet))
	mux.Handle("GET /v1/wallet/adjustments", user(rt.Wallets.ListAdjustments))
	mux.Handle("GET /v1/transactions", user(rt.Transactions.List))
	mux.Handle("GET /v1/transactions/{reference}", user(rt.Transactions.Get))

	// Provider callback, authenticated by HMAC signature.
	mux.HandleFunc("POST /v1/webhooks/provider", rt.Webhooks.Provider)

	// Operator
	mux.Handle("POST /v1/admin/adjustments", operator(rt.Admin.Adjust))
	mux.Handle("POST /v1/admin/transactions/{reference}/retry-refund", operator(rt.Admin.RetryRefund))
	mux.Handle("POST /v1/admin/transactions/{reference}/reconcile", operator(rt.Admin.Reconcile))
	mux.Handle("GET /v1/admin/wallets/{user_id}/audit", operator(rt.Admin.Audit))

	mux.HandleFunc("GET /healthz", rt.Health.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}
