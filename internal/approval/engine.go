package approval

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/storage"
)

// Sentinel errors crossing the engine boundary.
var (
	// ErrInsufficientAuthority indicates the actor's role ranks below the
	// transaction's approval level. The transaction stays pending.
	ErrInsufficientAuthority = errors.New("approval: insufficient authority")
	// ErrAlreadyDecided indicates the transaction already reached a terminal
	// state. Benign conflict: the returned transaction carries that state, so
	// retried decisions cannot double-settle.
	ErrAlreadyDecided = errors.New("approval: transaction already decided")
	// ErrValidation indicates a malformed submission or decision request.
	ErrValidation = errors.New("approval: invalid request")
)

// Decision is an actor's verdict on a pending transaction.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Actor identifies who is deciding.
type Actor struct {
	ID   string
	Role storage.Role
}

// SubmitRequest describes a transaction entering the workflow.
type SubmitRequest struct {
	// ID optionally pre-allocates the transaction id, used to pair a
	// monetary action with its settlement transaction before either exists.
	ID         string
	Amount     decimal.Decimal
	Currency   string
	Type       storage.TransactionType
	FromWallet *string
	ToWallet   *string
}

// Engine gates every transaction behind the amount-based approval rule and
// drives the pending → terminal state machine exactly once per transaction.
type Engine struct {
	store  storage.TransactionStore
	policy Policy
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine constructs the workflow engine.
func NewEngine(store storage.TransactionStore, policy Policy, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		logger: logger.With().Str("component", "approval").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine's time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Prepare validates a request and builds the transaction record it would
// create, without persisting anything. Amounts at or below the auto
// threshold come back already completed; everything else comes back pending.
// Callers that must commit the transaction atomically with other writes
// persist the result themselves.
func (e *Engine) Prepare(req SubmitRequest) (storage.Transaction, error) {
	if !req.Amount.IsPositive() {
		return storage.Transaction{}, fmt.Errorf("amount must be positive: %w", ErrValidation)
	}
	if req.Currency == "" {
		return storage.Transaction{}, fmt.Errorf("currency required: %w", ErrValidation)
	}
	if !req.Type.Valid() {
		return storage.Transaction{}, fmt.Errorf("unknown transaction type %q: %w", req.Type, ErrValidation)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	from, to := req.FromWallet, req.ToWallet
	switch req.Type {
	case storage.TxMinting:
		if to == nil {
			supply := storage.SupplyWallet(req.Currency)
			to = &supply
		}
	case storage.TxBurning:
		if from == nil {
			supply := storage.SupplyWallet(req.Currency)
			from = &supply
		}
	}

	now := e.now()
	tx := storage.Transaction{
		ID:            id,
		Hash:          txHash(id),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          req.Type,
		Status:        storage.StatusPending,
		ApprovalLevel: e.policy.LevelFor(req.Amount),
		FromWallet:    from,
		ToWallet:      to,
		CreatedAt:     now,
	}
	if tx.ApprovalLevel == storage.LevelAuto {
		tx.Status = storage.StatusCompleted
		tx.CompletedAt = &now
	}
	return tx, nil
}

// Submit creates a transaction. Amounts at or below the auto threshold are
// created directly in completed state with balances applied in the same
// operation; everything else starts pending.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (storage.Transaction, error) {
	tx, err := e.Prepare(req)
	if err != nil {
		return storage.Transaction{}, err
	}

	if tx.ApprovalLevel == storage.LevelAuto {
		settled, err := e.store.InsertSettled(ctx, tx)
		if err != nil {
			return storage.Transaction{}, err
		}
		e.logger.Info().
			Str("transaction_id", settled.ID).
			Str("type", string(settled.Type)).
			Str("amount", settled.Amount.String()).
			Msg("transaction auto-approved")
		return settled, nil
	}

	created, err := e.store.InsertTransaction(ctx, tx)
	if err != nil {
		return storage.Transaction{}, err
	}
	e.logger.Info().
		Str("transaction_id", created.ID).
		Str("type", string(created.Type)).
		Str("level", string(created.ApprovalLevel)).
		Str("amount", created.Amount.String()).
		Msg("transaction submitted")
	return created, nil
}

// Decide applies an actor's verdict. Approval settles balances and completes
// the transaction; rejection cancels it without touching balances. Deciding
// an already-terminal transaction returns the current record alongside
// ErrAlreadyDecided so retries are harmless.
func (e *Engine) Decide(ctx context.Context, id string, decision Decision, actor Actor) (storage.Transaction, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return storage.Transaction{}, fmt.Errorf("unknown decision %q: %w", decision, ErrValidation)
	}

	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status.Terminal() {
		return tx, ErrAlreadyDecided
	}
	if !CanDecide(actor.Role, tx.ApprovalLevel) {
		return tx, fmt.Errorf("role %s cannot decide %s-level transactions: %w",
			actor.Role, tx.ApprovalLevel, ErrInsufficientAuthority)
	}

	now := e.now()
	if decision == DecisionReject {
		cancelled, err := e.store.CancelTransaction(ctx, id, actor.ID, now)
		if err != nil {
			return e.resolveConflict(ctx, id, err)
		}
		e.logger.Info().
			Str("transaction_id", id).
			Str("actor", actor.ID).
			Msg("transaction rejected")
		return cancelled, nil
	}

	settled, err := e.store.SettleTransaction(ctx, id, &actor.ID, now)
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			failed, markErr := e.store.MarkTransactionFailed(ctx, id, err.Error(), now)
			if markErr != nil {
				return storage.Transaction{}, markErr
			}
			e.logger.Warn().
				Str("transaction_id", id).
				Err(err).
				Msg("settlement failed, transaction marked failed")
			return failed, err
		}
		return e.resolveConflict(ctx, id, err)
	}

	e.logger.Info().
		Str("transaction_id", id).
		Str("actor", actor.ID).
		Str("amount", settled.Amount.String()).
		Msg("transaction approved and settled")
	return settled, nil
}

// resolveConflict maps a lost settle/cancel race to the benign
// already-decided outcome.
func (e *Engine) resolveConflict(ctx context.Context, id string, cause error) (storage.Transaction, error) {
	if !errors.Is(cause, storage.ErrInvalidState) {
		return storage.Transaction{}, cause
	}
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return storage.Transaction{}, err
	}
	return tx, ErrAlreadyDecided
}

// List proxies transaction listing for the API surface.
func (e *Engine) List(ctx context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error) {
	return e.store.ListTransactions(ctx, filter)
}

// Get proxies single-transaction reads.
func (e *Engine) Get(ctx context.Context, id string) (storage.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

// txHash derives the opaque unique transaction hash from the id plus fresh
// entropy.
func txHash(id string) string {
	var nonce [16]byte
	_, _ = rand.Read(nonce[:])
	sum := sha256.Sum256(append([]byte(id), nonce[:]...))
	return hex.EncodeToString(sum[:])
}
