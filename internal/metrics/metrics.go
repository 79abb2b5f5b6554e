package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement holds the settlement counters. It satisfies the orchestrator's
// observer and the provider client's hook.
type Settlement struct {
	settlementsTotal   *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec
	refundsTotal       *prometheus.CounterVec
	providerCalls      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Settlement {
	f := promauto.With(reg)
	return &Settlement{
		settlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_settlements_total",
				Help: "Settlements by kind and final status",
			},
			[]string{"kind", "status"},
		),
		settlementDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_settlement_duration_seconds",
				Help:    "Time from reserve to finalized record",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		refundsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_refunds_total",
				Help: "Compensating credits by kind and result",
			},
			[]string{"kind", "result"},
		),
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_provider_calls_total",
				Help: "Provider calls by operation and classified outcome",
			},
			[]string{"operation", "outcome"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"route", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"route"},
		),
	}
}

func (m *Settlement) ObserveSettlement(kind, status string, elapsed time.Duration) {
	m.settlementsTotal.WithLabelValues(kind, status).Inc()
	m.settlementDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Settlement) ObserveRefund(kind string, ok bool) {
	result := "applied"
	if !ok {
		result = "failed"
	}
	m.refundsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Settlement) ObserveProviderCall(operation, outcome string) {
	m.providerCalls.WithLabelValues(operation, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests by the matched mux pattern so path parameters
// do not explode label cardinality.
func (m *Settlement) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
