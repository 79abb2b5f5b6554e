package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zidwell/backend/internal/models"
	"github.com/zidwell/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockWallets struct {
	wallets map[uuid.UUID]*models.Wallet
	reads   int
}

func (m *mockWallets) GetByUserID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	m.reads++
	w, ok := m.wallets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return w, nil
}

type mockAdjustments struct {
	byUser    map[uuid.UUID][]*models.LedgerAdjustment
	lastLimit int
}

func (m *mockAdjustments) ListByUserID(_ context.Context, id uuid.UUID, limit int) ([]*models.LedgerAdjustment, error) {
	m.lastLimit = limit
	return m.byUser[id], nil
}

type mockCache struct {
	values map[uuid.UUID]int64
	getErr error
	sets   int
}

func (m *mockCache) Get(_ context.Context, id uuid.UUID) (int64, bool, error) {
	if m.getErr != nil {
		return 0, false, m.getErr
	}
	v, ok := m.values[id]
	return v, ok, nil
}

func (m *mockCache) Set(_ context.Context, id uuid.UUID, balance int64) error {
	m.sets++
	m.values[id] = balance
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newWalletHandler(user uuid.UUID, balance int64) (*WalletHandler, *mockWallets, *mockCache) {
	wallets := &mockWallets{wallets: map[uuid.UUID]*models.Wallet{
		user: {UserID: user, BalanceKobo: balance, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	cache := &mockCache{values: make(map[uuid.UUID]int64)}
	h := &WalletHandler{
		Wallets:     wallets,
		Adjustments: &mockAdjustments{byUser: make(map[uuid.UUID][]*models.LedgerAdjustment)},
		Cache:       cache,
		Logger:      slog.Default(),
	}
	return h, wallets, cache
}

func getWallet(h *WalletHandler, user uuid.UUID) walletResponse {
	req := withUser(httptest.NewRequest(http.MethodGet, "/v1/wallet", nil), user)
	rec := httptest.NewRecorder()
	h.GetWallet(rec, req)
	var resp walletResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp
}

// =====================================================================
// GET /v1/wallet
// =====================================================================

func TestGetWallet_ReadThrough(t *testing.T) {
	user := uuid.New()
	h, wallets, cache := newWalletHandler(user, 500000)

	first := getWallet(h, user)
	if first.BalanceKobo != 500000 || first.Balance != "5000.00" || first.Cached {
		t.Errorf("first read: %+v", first)
	}
	if cache.sets != 1 {
		t.Errorf("expected cache fill, got %d sets", cache.sets)
	}

	second := getWallet(h, user)
	if !second.Cached || second.BalanceKobo != 500000 {
		t.Errorf("second read: %+v", second)
	}
	if wallets.reads != 1 {
		t.Errorf("expected one database read, got %d", wallets.reads)
	}
}

func TestGetWallet_CacheErrorFallsThrough(t *testing.T) {
	user := uuid.New()
	h, wallets, cache := newWalletHandler(user, 100)
	cache.getErr = errors.New("redis down")

	resp := getWallet(h, user)
	if resp.BalanceKobo != 100 || resp.Cached {
		t.Errorf("got %+v", resp)
	}
	if wallets.reads != 1 {
		t.Errorf("expected database read, got %d", wallets.reads)
	}
}

func TestGetWallet_NoCache(t *testing.T) {
	user := uuid.New()
	h, _, _ := newWalletHandler(user, 4200)
	h.Cache = nil

	if resp := getWallet(h, user); resp.Balance != "42.00" {
		t.Errorf("got %+v", resp)
	}
}

func TestGetWallet_NotFound(t *testing.T) {
	h, _, _ := newWalletHandler(uuid.New(), 0)
	req := withUser(httptest.NewRequest(http.MethodGet, "/v1/wallet", nil), uuid.New())
	rec := httptest.NewRecorder()

	h.GetWallet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// =====================================================================
// GET /v1/wallet/adjustments
// =====================================================================

func TestListAdjustments(t *testing.T) {
	user := uuid.New()
	h, _, _ := newWalletHandler(user, 0)
	adjs := h.Adjustments.(*mockAdjustments)
	adjs.byUser[user] = []*models.LedgerAdjustment{
		{ID: uuid.New(), UserID: user, EntryType: models.AdjustmentDebit, DeltaKobo: -2000, ResultingBalanceKobo: 3000},
	}

	req := withUser(httptest.NewRequest(http.MethodGet, "/v1/wallet/adjustments?limit=500", nil), user)
	rec := httptest.NewRecorder()
	h.ListAdjustments(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []models.LedgerAdjustment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].DeltaKobo != -2000 {
		t.Errorf("got %+v", got)
	}
	if adjs.lastLimit != maxListLimit {
		t.Errorf("limit: got %d, want clamp to %d", adjs.lastLimit, maxListLimit)
	}

	// Empty history is an empty array, not null.
	other := uuid.New()
	req = withUser(httptest.NewRequest(http.MethodGet, "/v1/wallet/adjustments", nil), other)
	rec = httptest.NewRecorder()
	h.ListAdjustments(rec, req)
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/v1/wallet/adjustments?limit=-1", nil), user)
	rec = httptest.NewRecorder()
	h.ListAdjustments(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", rec.Code)
	}
}
