package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/storage"
)

// memTxStore is an in-memory TransactionStore with wallet balances, matching
// the atomicity contract of the postgres implementation.
type memTxStore struct {
	mu       sync.Mutex
	txs      map[string]storage.Transaction
	balances map[string]decimal.Decimal
}

func newMemTxStore() *memTxStore {
	return &memTxStore{
		txs:      make(map[string]storage.Transaction),
		balances: make(map[string]decimal.Decimal),
	}
}

func balanceKey(wallet, currency string) string { return wallet + "|" + currency }

func (m *memTxStore) setBalance(wallet, currency string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey(wallet, currency)] = amount
}

func (m *memTxStore) balance(wallet, currency string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey(wallet, currency)]
}

func (m *memTxStore) applyDeltas(tx storage.Transaction) error {
	if tx.FromWallet != nil {
		key := balanceKey(*tx.FromWallet, tx.Currency)
		if m.balances[key].LessThan(tx.Amount) {
			return fmt.Errorf("wallet %s: %w", *tx.FromWallet, storage.ErrInsufficientFunds)
		}
		m.balances[key] = m.balances[key].Sub(tx.Amount)
	}
	if tx.ToWallet != nil {
		key := balanceKey(*tx.ToWallet, tx.Currency)
		m.balances[key] = m.balances[key].Add(tx.Amount)
	}
	return nil
}

func (m *memTxStore) InsertTransaction(ctx context.Context, tx storage.Transaction) (storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.ID] = tx
	return tx, nil
}

func (m *memTxStore) InsertSettled(ctx context.Context, tx storage.Transaction) (storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.Status = storage.StatusCompleted
	if err := m.applyDeltas(tx); err != nil {
		return storage.Transaction{}, err
	}
	m.txs[tx.ID] = tx
	return tx, nil
}

func (m *memTxStore) GetTransaction(ctx context.Context, id string) (storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return storage.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

func (m *memTxStore) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *memTxStore) SettleTransaction(ctx context.Context, id string, decidedBy *string, at time.Time) (storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return storage.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	if tx.Status != storage.StatusPending {
		return storage.Transaction{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, storage.ErrInvalidState)
	}
	if err := m.applyDeltas(tx); err != nil {
		return storage.Transaction{}, err
	}
	tx.Status = storage.StatusCompleted
	tx.DecidedBy = decidedBy
	tx.CompletedAt = &at
	m.txs[id] = tx
	return tx, nil
}

func (m *memTxStore) CancelTransaction(ctx context.Context, id string, decidedBy string, at time.Time) (storage.Transaction, error) {
	return m.finalise(id, storage.StatusCancelled, &decidedBy, nil, at)
}

func (m *memTxStore) MarkTransactionFailed(ctx context.Context, id, reason string, at time.Time) (storage.Transaction, error) {
	return m.finalise(id, storage.StatusFailed, nil, &reason, at)
}

func (m *memTxStore) finalise(id string, status storage.TransactionStatus, decidedBy, reason *string, at time.Time) (storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return storage.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	if tx.Status != storage.StatusPending {
		return storage.Transaction{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, storage.ErrInvalidState)
	}
	tx.Status = status
	tx.DecidedBy = decidedBy
	tx.FailureReason = reason
	tx.CompletedAt = &at
	m.txs[id] = tx
	return tx, nil
}

var _ storage.TransactionStore = (*memTxStore)(nil)

func newTestEngine(store *memTxStore) *Engine {
	return NewEngine(store, DefaultPolicy(), zerolog.Nop())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func strPtr(s string) *string { return &s }

func TestSubmitAutoApprovalBoundary(t *testing.T) {
	store := newMemTxStore()
	engine := newTestEngine(store)

	atLimit, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("10.00"), Currency: "USD-CRED", Type: storage.TxMinting,
	})
	if err != nil {
		t.Fatalf("submit at auto limit: %v", err)
	}
	if atLimit.ApprovalLevel != storage.LevelAuto {
		t.Fatalf("amount 10.00 should be auto level, got %s", atLimit.ApprovalLevel)
	}
	if atLimit.Status != storage.StatusCompleted {
		t.Fatalf("auto transaction should complete immediately, got %s", atLimit.Status)
	}
	if atLimit.CompletedAt == nil {
		t.Fatal("auto transaction should carry a completion timestamp")
	}
	if got := store.balance(storage.SupplyWallet("USD-CRED"), "USD-CRED"); !got.Equal(dec("10.00")) {
		t.Fatalf("supply should be credited 10.00, got %s", got)
	}

	aboveLimit, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("10.01"), Currency: "USD-CRED", Type: storage.TxMinting,
	})
	if err != nil {
		t.Fatalf("submit above auto limit: %v", err)
	}
	if aboveLimit.ApprovalLevel != storage.LevelAdmin {
		t.Fatalf("amount 10.01 should be admin level, got %s", aboveLimit.ApprovalLevel)
	}
	if aboveLimit.Status != storage.StatusPending {
		t.Fatalf("admin-level transaction should start pending, got %s", aboveLimit.Status)
	}
}

func TestLevelAssignment(t *testing.T) {
	policy := DefaultPolicy()
	cases := []struct {
		amount string
		level  storage.ApprovalLevel
	}{
		{"0.01", storage.LevelAuto},
		{"10", storage.LevelAuto},
		{"10.01", storage.LevelAdmin},
		{"100", storage.LevelAdmin},
		{"100.01", storage.LevelSuperAdmin},
		{"1000", storage.LevelSuperAdmin},
		{"1000.01", storage.LevelOwner},
		{"50000", storage.LevelOwner},
	}
	for _, tc := range cases {
		if got := policy.LevelFor(dec(tc.amount)); got != tc.level {
			t.Fatalf("amount %s: expected %s, got %s", tc.amount, tc.level, got)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	engine := newTestEngine(newMemTxStore())

	if _, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("0"), Currency: "USD-CRED", Type: storage.TxTransfer,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount should fail validation, got %v", err)
	}
	if _, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("5"), Currency: "USD-CRED", Type: "teleport",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type should fail validation, got %v", err)
	}
}

func TestApproveSettlesOnce(t *testing.T) {
	store := newMemTxStore()
	store.setBalance("alice", "USD-CRED", dec("100"))
	engine := newTestEngine(store)

	tx, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("50"), Currency: "USD-CRED", Type: storage.TxTransfer,
		FromWallet: strPtr("alice"), ToWallet: strPtr("bob"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	settled, err := engine.Decide(context.Background(), tx.ID, DecisionApprove, Actor{ID: "admin-1", Role: storage.RoleAdmin})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if settled.Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}
	if settled.DecidedBy == nil || *settled.DecidedBy != "admin-1" {
		t.Fatalf("decidedBy should record the actor, got %v", settled.DecidedBy)
	}
	if got := store.balance("alice", "USD-CRED"); !got.Equal(dec("50")) {
		t.Fatalf("alice should hold 50, got %s", got)
	}
	if got := store.balance("bob", "USD-CRED"); !got.Equal(dec("50")) {
		t.Fatalf("bob should hold 50, got %s", got)
	}

	// Retried decision: same terminal state, no double-credit.
	again, err := engine.Decide(context.Background(), tx.ID, DecisionApprove, Actor{ID: "admin-1", Role: storage.RoleAdmin})
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second approve should report already decided, got %v", err)
	}
	if again.Status != storage.StatusCompleted {
		t.Fatalf("second approve should still see completed, got %s", again.Status)
	}
	if got := store.balance("bob", "USD-CRED"); !got.Equal(dec("50")) {
		t.Fatalf("retry must not double-credit, bob holds %s", got)
	}
}

func TestRejectCancelsWithoutSettlement(t *testing.T) {
	store := newMemTxStore()
	store.setBalance("alice", "USD-CRED", dec("100"))
	engine := newTestEngine(store)

	tx, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("50"), Currency: "USD-CRED", Type: storage.TxTransfer,
		FromWallet: strPtr("alice"), ToWallet: strPtr("bob"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rejected, err := engine.Decide(context.Background(), tx.ID, DecisionReject, Actor{ID: "admin-1", Role: storage.RoleAdmin})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != storage.StatusCancelled {
		t.Fatalf("human rejection should cancel, got %s", rejected.Status)
	}
	if rejected.DecidedBy == nil || *rejected.DecidedBy != "admin-1" {
		t.Fatalf("decidedBy should record the rejector, got %v", rejected.DecidedBy)
	}
	if got := store.balance("alice", "USD-CRED"); !got.Equal(dec("100")) {
		t.Fatalf("rejection must not move funds, alice holds %s", got)
	}
}

func TestDecideAuthority(t *testing.T) {
	store := newMemTxStore()
	engine := newTestEngine(store)

	// 5000 > 1000 → owner level.
	tx, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("5000"), Currency: "USD-CRED", Type: storage.TxGrant, ToWallet: strPtr("bob"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, role := range []storage.Role{storage.RoleUser, storage.RoleAdmin, storage.RoleSuperAdmin} {
		if _, err := engine.Decide(context.Background(), tx.ID, DecisionApprove, Actor{ID: "x", Role: role}); !errors.Is(err, ErrInsufficientAuthority) {
			t.Fatalf("role %s must not decide owner-level transactions, got %v", role, err)
		}
	}

	got, err := engine.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != storage.StatusPending {
		t.Fatalf("failed authority checks must leave the transaction pending, got %s", got.Status)
	}

	if _, err := engine.Decide(context.Background(), tx.ID, DecisionApprove, Actor{ID: "owner-1", Role: storage.RoleOwner}); err != nil {
		t.Fatalf("owner should decide owner-level transactions: %v", err)
	}
}

func TestInsufficientFundsMarksFailed(t *testing.T) {
	store := newMemTxStore()
	engine := newTestEngine(store)

	tx, err := engine.Submit(context.Background(), SubmitRequest{
		Amount: dec("50"), Currency: "USD-CRED", Type: storage.TxTransfer,
		FromWallet: strPtr("alice"), ToWallet: strPtr("bob"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	failed, err := engine.Decide(context.Background(), tx.ID, DecisionApprove, Actor{ID: "admin-1", Role: storage.RoleAdmin})
	if !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if failed.Status != storage.StatusFailed {
		t.Fatalf("settlement fault should land in failed, got %s", failed.Status)
	}
	if got := store.balance("bob", "USD-CRED"); !got.IsZero() {
		t.Fatalf("failed settlement must not credit, bob holds %s", got)
	}
}
