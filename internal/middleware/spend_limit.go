package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/money"
)

const maxBodyBytes = 64 << 10

// Limits caps user spending in kobo. Zero disables a limit.
type Limits struct {
	MaxPerTransaction int64
	MaxPerDay         int64
}

// SpendStore reports today's held spend and whether a reference is already known.
type SpendStore interface {
	DailySpend(ctx context.Context, userID uuid.UUID) (int64, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
}

type spendPeek struct {
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
}

// AmountFromCtx returns the kobo amount parsed by SpendLimit, or 0 if not set.
func AmountFromCtx(ctx context.Context) int64 {
	n, _ := ctx.Value(ctxAmountKey).(int64)
	return n
}

// SpendLimit enforces per-transaction and daily limits for the principal set
// by BearerAuth. It reads the body to extract "amount", then replaces r.Body
// so downstream handlers can re-read it. A known reference skips the daily
// check so retries reach the idempotent replay.
func SpendLimit(store SpendStore, limits Limits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek spendPeek
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			amount, err := money.ParseNaira(peek.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			if limits.MaxPerTransaction > 0 && amount > limits.MaxPerTransaction {
				writeError(w, http.StatusForbidden, fmt.Sprintf("amount %s exceeds per-transaction limit %s",
					money.FormatKobo(amount), money.FormatKobo(limits.MaxPerTransaction)))
				return
			}

			if limits.MaxPerDay > 0 && !known(r.Context(), store, peek.Reference) {
				spent, err := store.DailySpend(r.Context(), p.UserID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "failed to check daily spend")
					return
				}
				if spent+amount > limits.MaxPerDay {
					writeError(w, http.StatusForbidden, fmt.Sprintf("daily spend %s + amount %s exceeds daily limit %s",
						money.FormatKobo(spent), money.FormatKobo(amount), money.FormatKobo(limits.MaxPerDay)))
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxAmountKey, amount)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func known(ctx context.Context, store SpendStore, reference string) bool {
	if reference == "" {
		return false
	}
	_, err := store.FindByReference(ctx, reference)
	return err == nil
}
