package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/storage"
)

var tick = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	cfgs    map[string]storage.ParityConfig
	snaps   map[string][]storage.RateSnapshot
	actions []storage.MonetaryAction
	txs     map[string]storage.Transaction

	manualResult   storage.MonetaryAction
	manualErr      error
	evaluateResult storage.MonetaryAction
	evaluateErr    error
	decideResult   storage.Transaction
	decideErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		cfgs:  make(map[string]storage.ParityConfig),
		snaps: make(map[string][]storage.RateSnapshot),
		txs:   make(map[string]storage.Transaction),
	}
}

func (f *fakeBackend) GetParityConfig(ctx context.Context, currency string) (storage.ParityConfig, error) {
	cfg, ok := f.cfgs[currency]
	if !ok {
		return storage.ParityConfig{}, fmt.Errorf("parity config %s: %w", currency, storage.ErrNotFound)
	}
	return cfg, nil
}

func (f *fakeBackend) ListParityConfigs(ctx context.Context) ([]storage.ParityConfig, error) {
	out := make([]storage.ParityConfig, 0, len(f.cfgs))
	for _, cfg := range f.cfgs {
		out = append(out, cfg)
	}
	return out, nil
}

func (f *fakeBackend) UpsertParityConfig(ctx context.Context, cfg storage.ParityConfig) (storage.ParityConfig, error) {
	cfg.UpdatedAt = tick
	f.cfgs[cfg.Currency] = cfg
	return cfg, nil
}

func (f *fakeBackend) InsertSnapshot(ctx context.Context, snap storage.RateSnapshot) error {
	f.snaps[snap.Currency] = append(f.snaps[snap.Currency], snap)
	return nil
}

func (f *fakeBackend) LatestSnapshot(ctx context.Context, currency string) (storage.RateSnapshot, error) {
	history := f.snaps[currency]
	if len(history) == 0 {
		return storage.RateSnapshot{}, storage.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (f *fakeBackend) LatestSnapshots(ctx context.Context) ([]storage.RateSnapshot, error) {
	out := make([]storage.RateSnapshot, 0, len(f.snaps))
	for _, history := range f.snaps {
		if len(history) > 0 {
			out = append(out, history[len(history)-1])
		}
	}
	return out, nil
}

func (f *fakeBackend) ListSnapshotsBetween(ctx context.Context, currency string, from, to time.Time) ([]storage.RateSnapshot, error) {
	out := make([]storage.RateSnapshot, 0)
	for _, snap := range f.snaps[currency] {
		if !snap.ObservedAt.Before(from) && snap.ObservedAt.Before(to) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (f *fakeBackend) AppendAction(ctx context.Context, action storage.MonetaryAction, settlement storage.Transaction) (storage.MonetaryAction, error) {
	action.ID = int64(len(f.actions) + 1)
	f.actions = append(f.actions, action)
	return action, nil
}

func (f *fakeBackend) SumActionsSince(ctx context.Context, currency string, mint bool, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeBackend) ListRecentActions(ctx context.Context, limit int) ([]storage.MonetaryAction, error) {
	if limit > len(f.actions) {
		limit = len(f.actions)
	}
	out := make([]storage.MonetaryAction, limit)
	copy(out, f.actions)
	return out, nil
}

func (f *fakeBackend) GetBalance(ctx context.Context, walletID, currency string) (decimal.Decimal, error) {
	if walletID == "supply:USD-CRED" {
		return decimal.NewFromInt(1000), nil
	}
	return decimal.Zero, nil
}

func (f *fakeBackend) Submit(ctx context.Context, req approval.SubmitRequest) (storage.Transaction, error) {
	if !req.Amount.IsPositive() {
		return storage.Transaction{}, fmt.Errorf("amount must be positive: %w", approval.ErrValidation)
	}
	tx := storage.Transaction{
		ID:       "tx-1",
		Amount:   req.Amount,
		Currency: req.Currency,
		Type:     req.Type,
		Status:   storage.StatusPending,
	}
	f.txs[tx.ID] = tx
	return tx, nil
}

func (f *fakeBackend) Decide(ctx context.Context, id string, decision approval.Decision, actor approval.Actor) (storage.Transaction, error) {
	return f.decideResult, f.decideErr
}

func (f *fakeBackend) List(ctx context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error) {
	out := make([]storage.Transaction, 0, len(f.txs))
	for _, tx := range f.txs {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *fakeBackend) Get(ctx context.Context, id string) (storage.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return storage.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeBackend) Evaluate(ctx context.Context, currency string, at time.Time) (storage.MonetaryAction, error) {
	return f.evaluateResult, f.evaluateErr
}

func (f *fakeBackend) Manual(ctx context.Context, req parity.ManualRequest) (storage.MonetaryAction, error) {
	if !approval.AtLeast(req.Actor.Role, storage.RoleAdmin) {
		return storage.MonetaryAction{}, approval.ErrInsufficientAuthority
	}
	return f.manualResult, f.manualErr
}

func (f *fakeBackend) Ingest(ctx context.Context, currency string, marketRate decimal.Decimal, observedAt time.Time, source string) (storage.RateSnapshot, error) {
	if !marketRate.IsPositive() {
		return storage.RateSnapshot{}, fmt.Errorf("market rate must be positive: %w", approval.ErrValidation)
	}
	snap := storage.RateSnapshot{
		Currency:   currency,
		MarketRate: marketRate,
		ObservedAt: observedAt,
		FeedSource: source,
	}
	f.snaps[currency] = append(f.snaps[currency], snap)
	return snap, nil
}

func newTestServer(backend *fakeBackend) *Server {
	s := NewServer(backend, backend, backend, backend, backend, backend, zerolog.Nop())
	return s.WithClock(func() time.Time { return tick })
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func adminHeaders() map[string]string {
	return map[string]string{headerActorID: "admin-1", headerActorRole: "admin"}
}

func TestParityConfigRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodGet, "/v1/parity/USD-CRED", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := `{"auto_enabled":true,"target_rate":"1.0","deviation_threshold_pct":"2.0","max_daily_mint":"500","max_daily_burn":"500","cooldown_minutes":60}`
	rec = doRequest(t, s, http.MethodPut, "/v1/parity/USD-CRED", body, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored parityConfigBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "USD-CRED", stored.Currency)
	assert.True(t, stored.AutoEnabled)
	assert.True(t, stored.MaxDailyMint.Equal(decimal.NewFromInt(500)))

	rec = doRequest(t, s, http.MethodGet, "/v1/parity/USD-CRED", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPutParityConfigAuthorization(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)
	body := `{"target_rate":"1.0","deviation_threshold_pct":"2.0"}`

	rec := doRequest(t, s, http.MethodPut, "/v1/parity/USD-CRED", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing actor headers")

	rec = doRequest(t, s, http.MethodPut, "/v1/parity/USD-CRED", body,
		map[string]string{headerActorID: "u-1", headerActorRole: "user"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPutParityConfigValidation(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)

	body := `{"target_rate":"0","deviation_threshold_pct":"2.0"}`
	rec := doRequest(t, s, http.MethodPut, "/v1/parity/USD-CRED", body, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRate(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/rates",
		`{"currency":"USD-CRED","market_rate":"1.05","source":"manual"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap rateSnapshotBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "USD-CRED", snap.Currency)
	assert.True(t, snap.MarketRate.Equal(decimal.RequireFromString("1.05")))
	// observed_at defaults to the server clock
	assert.Equal(t, tick, snap.ObservedAt)

	rec = doRequest(t, s, http.MethodPost, "/v1/rates",
		`{"currency":"USD-CRED","market_rate":"0"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransaction(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/transactions",
		`{"amount":"50","currency":"USD-CRED","type":"transfer","from_wallet":"w-1","to_wallet":"w-2"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tx transactionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, "transfer", tx.Type)
	assert.Equal(t, "pending", tx.Status)

	rec = doRequest(t, s, http.MethodPost, "/v1/transactions",
		`{"amount":"-5","currency":"USD-CRED","type":"transfer"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideTransaction(t *testing.T) {
	backend := newFakeBackend()
	backend.decideResult = storage.Transaction{ID: "tx-1", Status: storage.StatusCompleted}
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/transactions/tx-1/decision",
		`{"decision":"approve"}`, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tx transactionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, "completed", tx.Status)
}

func TestDecideTransactionConflictCarriesState(t *testing.T) {
	backend := newFakeBackend()
	backend.decideResult = storage.Transaction{ID: "tx-1", Status: storage.StatusCancelled}
	backend.decideErr = approval.ErrAlreadyDecided
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/transactions/tx-1/decision",
		`{"decision":"approve"}`, adminHeaders())
	require.Equal(t, http.StatusConflict, rec.Code)

	var tx transactionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, "cancelled", tx.Status, "conflict response should carry the terminal state")
}

func TestDecideTransactionAuthority(t *testing.T) {
	backend := newFakeBackend()
	backend.decideErr = approval.ErrInsufficientAuthority
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/transactions/tx-1/decision",
		`{"decision":"approve"}`, map[string]string{headerActorID: "u-1", headerActorRole: "user"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestManualActionEndpoint(t *testing.T) {
	backend := newFakeBackend()
	backend.manualResult = storage.MonetaryAction{
		ID:         1,
		Currency:   "USD-CRED",
		ActionType: storage.ActionManualMint,
		Amount:     decimal.NewFromInt(100),
	}
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/actions",
		`{"currency":"USD-CRED","action_type":"manual_mint","amount":"100"}`, adminHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/v1/actions",
		`{"currency":"USD-CRED","action_type":"manual_mint","amount":"100"}`,
		map[string]string{headerActorID: "u-1", headerActorRole: "user"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	backend := newFakeBackend()
	backend.evaluateResult = storage.MonetaryAction{
		ID:         7,
		Currency:   "USD-CRED",
		ActionType: storage.ActionAutoMint,
		Amount:     decimal.NewFromInt(150),
	}
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodPost, "/v1/evaluate/USD-CRED", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Acted  bool               `json:"acted"`
		Action monetaryActionBody `json:"action"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Acted)
	assert.Equal(t, "auto_mint", result.Action.ActionType)

	backend.evaluateErr = fmt.Errorf("USD-CRED: %w", parity.ErrInParity)
	rec = doRequest(t, s, http.MethodPost, "/v1/evaluate/USD-CRED", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var skipped struct {
		Acted  bool   `json:"acted"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &skipped))
	assert.False(t, skipped.Acted)
	assert.Contains(t, skipped.Reason, "parity")
}

func TestListTransactionsFilter(t *testing.T) {
	backend := newFakeBackend()
	backend.txs["a"] = storage.Transaction{ID: "a", Status: storage.StatusPending, Amount: decimal.NewFromInt(1)}
	backend.txs["b"] = storage.Transaction{ID: "b", Status: storage.StatusCompleted, Amount: decimal.NewFromInt(2)}
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodGet, "/v1/transactions?status=pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var txs []transactionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "a", txs[0].ID)
}

func TestWalletBalance(t *testing.T) {
	backend := newFakeBackend()
	s := newTestServer(backend)

	rec := doRequest(t, s, http.MethodGet, "/v1/wallets/supply:USD-CRED/balance?currency=USD-CRED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		WalletID string          `json:"wallet_id"`
		Balance  decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "supply:USD-CRED", result.WalletID)
	assert.True(t, result.Balance.Equal(decimal.NewFromInt(1000)))

	rec = doRequest(t, s, http.MethodGet, "/v1/wallets/w-1/balance", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "currency parameter is required")
}

func TestRateHistoryWindow(t *testing.T) {
	backend := newFakeBackend()
	backend.snaps["USD-CRED"] = []storage.RateSnapshot{
		{Currency: "USD-CRED", MarketRate: decimal.NewFromInt(1), ObservedAt: tick.Add(-48 * time.Hour)},
		{Currency: "USD-CRED", MarketRate: decimal.NewFromInt(1), ObservedAt: tick.Add(-time.Hour)},
	}
	s := newTestServer(backend)

	// default window is the trailing 24 hours
	rec := doRequest(t, s, http.MethodGet, "/v1/rates/USD-CRED/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []rateSnapshotBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	assert.Len(t, snaps, 1)

	rec = doRequest(t, s, http.MethodGet, "/v1/rates/USD-CRED/history?from=not-a-time", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
