package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionType classifies a monetary action by trigger and direction.
type ActionType string

const (
	ActionAutoMint   ActionType = "auto_mint"
	ActionAutoBurn   ActionType = "auto_burn"
	ActionManualMint ActionType = "manual_mint"
	ActionManualBurn ActionType = "manual_burn"
)

// IsMint reports whether the action increases circulating supply.
func (t ActionType) IsMint() bool {
	return t == ActionAutoMint || t == ActionManualMint
}

// Auto reports whether the controller, not a human, triggered the action.
// Only auto actions are subject to the cooldown.
func (t ActionType) Auto() bool {
	return t == ActionAutoMint || t == ActionAutoBurn
}

// Valid reports whether the action type is one of the known values.
func (t ActionType) Valid() bool {
	switch t {
	case ActionAutoMint, ActionAutoBurn, ActionManualMint, ActionManualBurn:
		return true
	}
	return false
}

// TransactionType identifies the origin of a transaction.
type TransactionType string

const (
	TxRegistrationBonus TransactionType = "registration_bonus"
	TxTransfer          TransactionType = "transfer"
	TxMinting           TransactionType = "minting"
	TxBurning           TransactionType = "burning"
	TxGrant             TransactionType = "grant"
	TxLoanDisbursement  TransactionType = "loan_disbursement"
)

// Valid reports whether the transaction type is one of the known values.
func (t TransactionType) Valid() bool {
	switch t {
	case TxRegistrationBonus, TxTransfer, TxMinting, TxBurning, TxGrant, TxLoanDisbursement:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a transaction. Terminal states
// are final; a transaction never re-enters pending.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ApprovalLevel is the minimum actor authority required to finalise a
// transaction, derived from its amount.
type ApprovalLevel string

const (
	LevelAuto       ApprovalLevel = "auto"
	LevelAdmin      ApprovalLevel = "admin"
	LevelSuperAdmin ApprovalLevel = "super_admin"
	LevelOwner      ApprovalLevel = "owner"
)

// Role is an actor role, strictly ordered by authority.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleOwner      Role = "owner"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin, RoleOwner:
		return true
	}
	return false
}

// ParityConfig holds the per-currency automatic parity settings, including
// the peg the currency is pinned to.
type ParityConfig struct {
	Currency              string
	AutoEnabled           bool
	TargetRate            decimal.Decimal
	DeviationThresholdPct decimal.Decimal
	MaxDailyMint          decimal.Decimal
	MaxDailyBurn          decimal.Decimal
	CooldownMinutes       int
	LastActionAt          *time.Time
	UpdatedAt             time.Time
}

// Cooldown returns the configured cooldown as a duration.
func (c ParityConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// RateSnapshot is one append-only observation of a currency's rates.
type RateSnapshot struct {
	Currency     string
	TargetRate   decimal.Decimal
	CurrentRate  decimal.Decimal
	MarketRate   decimal.Decimal
	DeviationPct decimal.Decimal
	FeedSource   string
	ObservedAt   time.Time
	CreatedAt    time.Time
}

// MonetaryAction is one immutable mint/burn ledger entry. The paired
// transaction (TransactionID) is the settlement unit; the action is the
// audit record and the source of truth for daily-cap accounting.
type MonetaryAction struct {
	ID                 int64
	Currency           string
	ActionType         ActionType
	Amount             decimal.Decimal
	TriggerRate        decimal.Decimal
	TargetRate         decimal.Decimal
	ThresholdAtTrigger decimal.Decimal
	Reason             string
	TransactionID      string
	ExecutedAt         time.Time
	CreatedAt          time.Time
}

// Transaction is the settlement unit flowing through the approval workflow.
type Transaction struct {
	ID            string
	Hash          string
	Amount        decimal.Decimal
	Currency      string
	Type          TransactionType
	Status        TransactionStatus
	ApprovalLevel ApprovalLevel
	FromWallet    *string
	ToWallet      *string
	// DecidedBy records the human actor whose approval or rejection
	// terminated the transaction. Nil for auto-approved and system-failed
	// transactions.
	DecidedBy     *string
	FailureReason *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	Status TransactionStatus
	Type   TransactionType
	Limit  int
}

// SupplyWallet returns the system supply wallet id for a currency. Minting
// credits it, burning debits it.
func SupplyWallet(currency string) string {
	return "supply:" + currency
}

// StartOfDayUTC returns the opening instant of the UTC calendar day that
// bounds daily-cap accounting.
func StartOfDayUTC(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
