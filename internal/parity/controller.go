package parity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/feed"
	"github.com/heavensprominence/credparity/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// Deviation returns (market - target) / target * 100.
func Deviation(market, target decimal.Decimal) decimal.Decimal {
	return market.Sub(target).Div(target).Mul(dec100)
}

// Sizing bounds the proportional-control amount formula:
// amount = BaseUnit * min(|deviationPct| / thresholdPct, CapMultiplier).
type Sizing struct {
	BaseUnit      decimal.Decimal
	CapMultiplier decimal.Decimal
}

// SizeAmount computes the candidate mint/burn amount for a deviation
// magnitude, before daily-cap clamping. Rounded to 8 decimal places.
func SizeAmount(deviationAbs, thresholdPct decimal.Decimal, sizing Sizing) decimal.Decimal {
	if !thresholdPct.IsPositive() {
		return decimal.Zero
	}
	factor := deviationAbs.Div(thresholdPct)
	if factor.GreaterThan(sizing.CapMultiplier) {
		factor = sizing.CapMultiplier
	}
	return sizing.BaseUnit.Mul(factor).Round(8)
}

// Submitter builds settlement transactions for the approval workflow. The
// controller persists the built transaction itself, in the same database
// transaction as the ledger entry it pairs with.
type Submitter interface {
	Prepare(req approval.SubmitRequest) (storage.Transaction, error)
}

// Options tune the controller.
type Options struct {
	Sizing    Sizing
	Staleness time.Duration
	Workers   int
}

// Controller is the parity decision engine. Per evaluation tick, for every
// currency with auto mode enabled, it observes the market rate, computes the
// deviation, enforces threshold, cooldown, and daily caps, and emits a mint
// or burn action paired with a settlement transaction.
type Controller struct {
	configs   storage.ConfigStore
	rates     storage.RateStore
	actions   storage.ActionStore
	submitter Submitter
	fetcher   feed.RateFetcher
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs the controller. fetcher may be nil, in which case
// evaluation relies solely on externally ingested snapshots.
func New(configs storage.ConfigStore, rates storage.RateStore, actions storage.ActionStore, submitter Submitter, fetcher feed.RateFetcher, opts Options, logger zerolog.Logger) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Staleness <= 0 {
		opts.Staleness = 5 * time.Minute
	}
	return &Controller{
		configs:   configs,
		rates:     rates,
		actions:   actions,
		submitter: submitter,
		fetcher:   fetcher,
		logger:    logger.With().Str("component", "parity").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the controller's time source. Test hook.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// lockFor returns the serialization mutex for one currency. A currency's
// evaluation is never run concurrently with itself; overlapping ticks and
// manual triggers queue here.
func (c *Controller) lockFor(currency string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[currency]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[currency] = lock
	}
	return lock
}

// EvaluateAll runs one tick over every auto-enabled currency with a bounded
// worker pool. A failed or skipped currency never aborts its peers.
func (c *Controller) EvaluateAll(ctx context.Context, tick time.Time) error {
	cfgs, err := c.configs.ListParityConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list parity configs: %w", err)
	}

	g := &errgroup.Group{}
	g.SetLimit(c.opts.Workers)

	for _, cfg := range cfgs {
		if !cfg.AutoEnabled {
			continue
		}
		currency := cfg.Currency
		g.Go(func() error {
			action, evalErr := c.Evaluate(ctx, currency, tick)
			switch {
			case evalErr == nil:
				c.logger.Info().
					Str("currency", currency).
					Str("action_type", string(action.ActionType)).
					Str("amount", action.Amount.String()).
					Msg("parity action emitted")
			case IsSkip(evalErr):
				c.logger.Debug().
					Str("currency", currency).
					Str("reason", evalErr.Error()).
					Msg("evaluation skipped")
			default:
				c.logger.Error().Err(evalErr).
					Str("currency", currency).
					Msg("evaluation failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Evaluate runs the decision algorithm for one currency at the given tick
// time. Returns the emitted action, or a skip sentinel when the algorithm
// decides no action is warranted.
func (c *Controller) Evaluate(ctx context.Context, currency string, tick time.Time) (storage.MonetaryAction, error) {
	lock := c.lockFor(currency)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := c.configs.GetParityConfig(ctx, currency)
	if err != nil {
		return storage.MonetaryAction{}, err
	}
	if !cfg.AutoEnabled {
		return storage.MonetaryAction{}, fmt.Errorf("%s: %w", currency, ErrAutoDisabled)
	}

	snap, err := c.observe(ctx, cfg, tick)
	if err != nil {
		return storage.MonetaryAction{}, err
	}
	if tick.Sub(snap.ObservedAt) > c.opts.Staleness {
		c.logger.Warn().
			Str("currency", currency).
			Time("observed_at", snap.ObservedAt).
			Msg("latest observation older than staleness bound")
		return storage.MonetaryAction{}, fmt.Errorf("%s observed at %s: %w", currency, snap.ObservedAt, ErrStaleSnapshot)
	}

	deviation := snap.DeviationPct
	if deviation.Abs().LessThan(cfg.DeviationThresholdPct) {
		return storage.MonetaryAction{}, fmt.Errorf("%s deviation %s%%: %w", currency, deviation, ErrInParity)
	}

	if cfg.LastActionAt != nil && tick.Sub(*cfg.LastActionAt) < cfg.Cooldown() {
		return storage.MonetaryAction{}, fmt.Errorf("%s last action %s: %w", currency, cfg.LastActionAt, ErrCooldownActive)
	}

	actionType := storage.ActionAutoMint
	if deviation.IsNegative() {
		actionType = storage.ActionAutoBurn
	}

	amount, err := c.clampToAllowance(ctx, cfg, actionType, SizeAmount(deviation.Abs(), cfg.DeviationThresholdPct, c.opts.Sizing), tick)
	if err != nil {
		return storage.MonetaryAction{}, err
	}

	reason := fmt.Sprintf("auto %s: market %s vs target %s, deviation %s%% beyond threshold %s%%",
		direction(actionType), snap.MarketRate, cfg.TargetRate, deviation.StringFixed(4), cfg.DeviationThresholdPct)

	return c.emit(ctx, cfg, actionType, amount, snap.MarketRate, reason, tick)
}

// ManualRequest describes an admin-requested mint or burn that bypasses the
// threshold and cooldown logic but still consumes daily-cap allowance.
type ManualRequest struct {
	Currency   string
	ActionType storage.ActionType
	// Amount is optional; when zero the controller sizes the action from the
	// latest observed deviation.
	Amount decimal.Decimal
	Reason string
	Actor  approval.Actor
}

// Manual triggers a manual_mint/manual_burn for an authorized admin.
func (c *Controller) Manual(ctx context.Context, req ManualRequest) (storage.MonetaryAction, error) {
	if !approval.AtLeast(req.Actor.Role, storage.RoleAdmin) {
		return storage.MonetaryAction{}, fmt.Errorf("role %s cannot trigger manual actions: %w",
			req.Actor.Role, approval.ErrInsufficientAuthority)
	}
	if req.ActionType != storage.ActionManualMint && req.ActionType != storage.ActionManualBurn {
		return storage.MonetaryAction{}, fmt.Errorf("action type must be manual_mint or manual_burn: %w", approval.ErrValidation)
	}
	if req.Amount.IsNegative() {
		return storage.MonetaryAction{}, fmt.Errorf("amount cannot be negative: %w", approval.ErrValidation)
	}

	lock := c.lockFor(req.Currency)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := c.configs.GetParityConfig(ctx, req.Currency)
	if err != nil {
		return storage.MonetaryAction{}, err
	}

	now := c.now()
	trigger := cfg.TargetRate
	if snap, snapErr := c.rates.LatestSnapshot(ctx, req.Currency); snapErr == nil {
		trigger = snap.MarketRate
		if req.Amount.IsZero() {
			req.Amount = SizeAmount(snap.DeviationPct.Abs(), cfg.DeviationThresholdPct, c.opts.Sizing)
		}
	}
	if !req.Amount.IsPositive() {
		return storage.MonetaryAction{}, fmt.Errorf("amount required when no deviation is observable: %w", approval.ErrValidation)
	}

	amount, err := c.clampToAllowance(ctx, cfg, req.ActionType, req.Amount, now)
	if err != nil {
		return storage.MonetaryAction{}, err
	}

	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("manual %s requested by %s", direction(req.ActionType), req.Actor.ID)
	}

	return c.emit(ctx, cfg, req.ActionType, amount, trigger, reason, now)
}

// Ingest records one external rate observation as the currency's new current
// snapshot. The system quotes the peg, so the current rate mirrors the
// target at observation time.
func (c *Controller) Ingest(ctx context.Context, currency string, marketRate decimal.Decimal, observedAt time.Time, source string) (storage.RateSnapshot, error) {
	if !marketRate.IsPositive() {
		return storage.RateSnapshot{}, fmt.Errorf("market rate must be positive: %w", approval.ErrValidation)
	}

	cfg, err := c.configs.GetParityConfig(ctx, currency)
	if err != nil {
		return storage.RateSnapshot{}, err
	}

	snap := storage.RateSnapshot{
		Currency:     currency,
		TargetRate:   cfg.TargetRate,
		CurrentRate:  cfg.TargetRate,
		MarketRate:   marketRate,
		DeviationPct: Deviation(marketRate, cfg.TargetRate),
		FeedSource:   source,
		ObservedAt:   observedAt.UTC(),
	}
	if err := c.rates.InsertSnapshot(ctx, snap); err != nil {
		return storage.RateSnapshot{}, err
	}
	return snap, nil
}

// observe returns the freshest usable snapshot: a live feed quote when a
// fetcher is wired (persisted on the way through), otherwise the stored
// latest.
func (c *Controller) observe(ctx context.Context, cfg storage.ParityConfig, tick time.Time) (storage.RateSnapshot, error) {
	if c.fetcher != nil {
		quote, err := c.fetcher.FetchRate(ctx, cfg.Currency)
		if err == nil {
			snap, ingestErr := c.Ingest(ctx, cfg.Currency, quote.MarketRate, quote.ObservedAt, quote.Source)
			if ingestErr != nil {
				return storage.RateSnapshot{}, ingestErr
			}
			return snap, nil
		}
		c.logger.Warn().Err(err).
			Str("currency", cfg.Currency).
			Msg("feed fetch failed, falling back to stored snapshot")
	}

	snap, err := c.rates.LatestSnapshot(ctx, cfg.Currency)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.RateSnapshot{}, fmt.Errorf("%s has no observations: %w", cfg.Currency, ErrStaleSnapshot)
		}
		return storage.RateSnapshot{}, err
	}
	return snap, nil
}

// clampToAllowance bounds an amount by the currency's remaining daily
// allowance for the action's direction.
func (c *Controller) clampToAllowance(ctx context.Context, cfg storage.ParityConfig, actionType storage.ActionType, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	dailyCap := cfg.MaxDailyMint
	if !actionType.IsMint() {
		dailyCap = cfg.MaxDailyBurn
	}

	spent, err := c.actions.SumActionsSince(ctx, cfg.Currency, actionType.IsMint(), storage.StartOfDayUTC(now))
	if err != nil {
		return decimal.Zero, err
	}

	remaining := dailyCap.Sub(spent)
	if !remaining.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s allowance spent: %w", cfg.Currency, direction(actionType), ErrDailyCapReached)
	}
	if amount.GreaterThan(remaining) {
		amount = remaining
	}
	return amount, nil
}

// emit records the ledger entry and its paired settlement transaction as
// one atomic append. The store re-checks the cooldown and daily cap under
// the config row lock, so a concurrent runner that already acted rolls this
// emission back whole.
func (c *Controller) emit(ctx context.Context, cfg storage.ParityConfig, actionType storage.ActionType, amount, triggerRate decimal.Decimal, reason string, at time.Time) (storage.MonetaryAction, error) {
	action := storage.MonetaryAction{
		Currency:           cfg.Currency,
		ActionType:         actionType,
		Amount:             amount,
		TriggerRate:        triggerRate,
		TargetRate:         cfg.TargetRate,
		ThresholdAtTrigger: cfg.DeviationThresholdPct,
		Reason:             reason,
		TransactionID:      uuid.NewString(),
		ExecutedAt:         at,
	}

	txType := storage.TxMinting
	if !actionType.IsMint() {
		txType = storage.TxBurning
	}
	settlement, err := c.submitter.Prepare(approval.SubmitRequest{
		ID:       action.TransactionID,
		Amount:   amount,
		Currency: cfg.Currency,
		Type:     txType,
	})
	if err != nil {
		return storage.MonetaryAction{}, fmt.Errorf("build settlement transaction: %w", err)
	}

	recorded, err := c.actions.AppendAction(ctx, action, settlement)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDailyCapExceeded):
			return storage.MonetaryAction{}, fmt.Errorf("%s: %w", cfg.Currency, ErrDailyCapReached)
		case errors.Is(err, storage.ErrCooldownActive):
			return storage.MonetaryAction{}, fmt.Errorf("%s: %w", cfg.Currency, ErrCooldownActive)
		}
		return storage.MonetaryAction{}, err
	}

	return recorded, nil
}

func direction(t storage.ActionType) string {
	if t.IsMint() {
		return "mint"
	}
	return "burn"
}
