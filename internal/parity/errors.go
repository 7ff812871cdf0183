package parity

import "errors"

// Skip conditions. These are expected outcomes of the decision algorithm,
// recovered inside the controller and surfaced only through logs; they never
// cross the external boundary as hard failures.
var (
	// ErrAutoDisabled indicates automatic parity management is off for the
	// currency.
	ErrAutoDisabled = errors.New("parity: auto mode disabled")
	// ErrStaleSnapshot indicates no rate observation newer than the
	// staleness bound exists. Fail-safe: no action on missing data.
	ErrStaleSnapshot = errors.New("parity: rate snapshot stale or missing")
	// ErrInParity indicates the deviation sits inside the threshold.
	ErrInParity = errors.New("parity: deviation within threshold")
	// ErrCooldownActive indicates the cooldown window since the last action
	// has not elapsed.
	ErrCooldownActive = errors.New("parity: cooldown active")
	// ErrDailyCapReached indicates the day's mint or burn allowance is spent.
	ErrDailyCapReached = errors.New("parity: daily cap reached")
)

// IsSkip reports whether err is an expected no-action outcome rather than a
// genuine fault.
func IsSkip(err error) bool {
	return errors.Is(err, ErrAutoDisabled) ||
		errors.Is(err, ErrStaleSnapshot) ||
		errors.Is(err, ErrInParity) ||
		errors.Is(err, ErrCooldownActive) ||
		errors.Is(err, ErrDailyCapReached)
}
