package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/money"
	"github.com/zidwell/backend/internal/services"
)

const maxResponseBytes = 1 << 20

var endpoints = map[string]string{
	models.KindPurchaseData:        "/v1/data",
	models.KindPurchaseElectricity: "/v1/electricity",
	models.KindP2PTransfer:         "/v1/transfers",
	models.KindInvoicePayment:      "/v1/invoices/pay",
}

// ErrUnsupportedKind is returned by Action for kinds the provider does not settle.
var ErrUnsupportedKind = errors.New("provider does not support kind")

// CallObserver counts provider calls by operation and classified outcome.
type CallObserver interface {
	ObserveProviderCall(operation, outcome string)
}

// Client talks to the bill-payment and transfer provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	Observer   CallObserver
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Response is the provider's reply body for both settlement and status calls.
type Response struct {
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Action returns the external action that settles kind to destination.
func (c *Client) Action(kind string, destination json.RawMessage) (services.ExternalAction, error) {
	path, ok := endpoints[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	fields := map[string]any{}
	if len(destination) > 0 {
		if err := json.Unmarshal(destination, &fields); err != nil {
			return nil, fmt.Errorf("decode destination: %w", err)
		}
	}
	return func(ctx context.Context, amount int64, reference string) services.Outcome {
		body := make(map[string]any, len(fields)+3)
		for k, v := range fields {
			body[k] = v
		}
		body["reference"] = reference
		body["amount_kobo"] = amount
		body["amount"] = money.FormatKobo(amount)
		payload, err := json.Marshal(body)
		if err != nil {
			return services.Outcome{Result: services.OutcomeFailure, Reason: "encode request: " + err.Error()}
		}
		return c.do(ctx, kind, http.MethodPost, path, reference, payload, Classify, services.OutcomeFailure)
	}, nil
}

// QueryStatus asks the provider what happened to reference. Only an explicit
// failure status word is a failure: the record may already be debited.
func (c *Client) QueryStatus(ctx context.Context, reference string) services.Outcome {
	return c.do(ctx, "status", http.MethodGet, "/v1/transactions/"+url.PathEscape(reference), reference, nil, ClassifyQuery, services.OutcomeAmbiguous)
}

// do sends one request. onBuildErr is the outcome when the request cannot
// be built and nothing was sent.
func (c *Client) do(ctx context.Context, operation, method, path, reference string, payload []byte,
	classify func(int, []byte) (services.OutcomeResult, string), onBuildErr services.OutcomeResult) services.Outcome {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return c.record(operation, reference, services.Outcome{Result: onBuildErr, Reason: "build request: " + err.Error()})
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", reference)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.record(operation, reference, services.Outcome{Result: services.OutcomeAmbiguous, Reason: "network error: " + err.Error()})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.record(operation, reference, services.Outcome{Result: services.OutcomeAmbiguous, Reason: "read response: " + err.Error()})
	}
	result, reason := classify(resp.StatusCode, raw)
	outcome := services.Outcome{Result: result, Reason: reason}
	if json.Valid(raw) {
		outcome.Payload = raw
	}
	return c.record(operation, reference, outcome)
}

func (c *Client) record(operation, reference string, o services.Outcome) services.Outcome {
	if c.Observer != nil {
		c.Observer.ObserveProviderCall(operation, o.Result.String())
	}
	c.logger.Info("provider call", "operation", operation, "reference", reference, "outcome", o.Result.String(), "reason", o.Reason)
	return o
}

// Classify maps a provider HTTP reply to an outcome. Only an explicit
// rejection is a failure; anything unclear is ambiguous.
func Classify(statusCode int, body []byte) (services.OutcomeResult, string) {
	switch {
	case statusCode == http.StatusBadRequest, statusCode == http.StatusNotFound, statusCode == http.StatusUnprocessableEntity:
		return services.OutcomeFailure, fmt.Sprintf("provider rejected request: HTTP %d %s", statusCode, message(body))
	case statusCode < 200 || statusCode >= 300:
		return services.OutcomeAmbiguous, fmt.Sprintf("provider returned HTTP %d", statusCode)
	}
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return services.OutcomeAmbiguous, "undecodable provider response"
	}
	return ClassifyStatus(r.Status, r.Message)
}

// ClassifyQuery maps a status query reply to an outcome. Any non-2xx reply is
// ambiguous: a 404 or 400 says nothing about whether the settlement happened.
func ClassifyQuery(statusCode int, body []byte) (services.OutcomeResult, string) {
	if statusCode < 200 || statusCode >= 300 {
		return services.OutcomeAmbiguous, fmt.Sprintf("status query returned HTTP %d %s", statusCode, message(body))
	}
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return services.OutcomeAmbiguous, "undecodable status response"
	}
	return ClassifyStatus(r.Status, r.Message)
}

// ClassifyStatus maps a provider status word to an outcome.
func ClassifyStatus(status, msg string) (services.OutcomeResult, string) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "success", "completed":
		return services.OutcomeSuccess, ""
	case "failed", "rejected", "reversed":
		if msg == "" {
			msg = status
		}
		return services.OutcomeFailure, msg
	default:
		return services.OutcomeAmbiguous, fmt.Sprintf("provider status %q", status)
	}
}

func message(body []byte) string {
	var r Response
	if json.Unmarshal(body, &r) == nil && r.Message != "" {
		return r.Message
	}
	return ""
}
