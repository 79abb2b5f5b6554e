package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/provider"
	"github.com/zidwell/backend/internal/services"
)

const webhookSecret = "whsec-test"

type mockResolver struct {
	known    map[string]*models.Transaction
	outcomes map[string]services.Outcome
	err      error
}

func (m *mockResolver) Resolve(_ context.Context, ref string, o services.Outcome) (*models.Transaction, error) {
	txn, ok := m.known[ref]
	if !ok {
		return nil, services.ErrTransactionNotFound
	}
	m.outcomes[ref] = o
	switch o.Result {
	case services.OutcomeSuccess:
		txn.Status = models.TxStatusSuccess
	case services.OutcomeFailure:
		txn.Status = models.TxStatusFailedRefunded
	}
	return txn, m.err
}

func newWebhookHandler() (*WebhookHandler, *mockResolver) {
	res := &mockResolver{
		known:    map[string]*models.Transaction{"ref-7": {Reference: "ref-7", Status: models.TxStatusProcessing}},
		outcomes: make(map[string]services.Outcome),
	}
	return &WebhookHandler{Resolver: res, Secret: webhookSecret, Logger: slog.Default()}, res
}

func postWebhook(h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/provider", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(provider.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Provider(rec, req)
	return rec
}

func TestWebhook_Resolves(t *testing.T) {
	h, res := newWebhookHandler()
	body := `{"status":"successful","reference":"ref-7","provider_reference":"PRV-1"}`

	rec := postWebhook(h, body, provider.Sign([]byte(body), webhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if res.outcomes["ref-7"].Result != services.OutcomeSuccess {
		t.Errorf("expected success outcome, got %v", res.outcomes["ref-7"].Result)
	}
	if !strings.Contains(rec.Body.String(), `"status":"success"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestWebhook_Rejects(t *testing.T) {
	body := `{"status":"failed","reference":"ref-7"}`
	cases := []struct {
		name      string
		body      string
		signature string
		want      int
	}{
		{"unsigned", body, "", http.StatusUnauthorized},
		{"wrong secret", body, provider.Sign([]byte(body), "other"), http.StatusUnauthorized},
		{"tampered body", `{"status":"successful","reference":"ref-7"}`, provider.Sign([]byte(body), webhookSecret), http.StatusUnauthorized},
		{"no reference", `{"status":"failed"}`, provider.Sign([]byte(`{"status":"failed"}`), webhookSecret), http.StatusBadRequest},
		{"unknown reference", `{"status":"failed","reference":"nope"}`, provider.Sign([]byte(`{"status":"failed","reference":"nope"}`), webhookSecret), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, res := newWebhookHandler()

			rec := postWebhook(h, tc.body, tc.signature)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if _, ok := res.outcomes["ref-7"]; ok {
				t.Error("nothing should be resolved")
			}
		})
	}
}

func TestWebhook_RefundPendingIsAcknowledged(t *testing.T) {
	h, res := newWebhookHandler()
	res.err = services.ErrRefundPending
	body := `{"status":"failed","reference":"ref-7"}`

	rec := postWebhook(h, body, provider.Sign([]byte(body), webhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
