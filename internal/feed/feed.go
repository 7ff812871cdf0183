package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one market-rate observation supplied by an external feed.
type Quote struct {
	Currency   string
	MarketRate decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// RateFetcher retrieves the current market rate for a currency pair. The
// feed may be stale or unavailable; callers treat errors and old timestamps
// as "no data this tick", never as a hard failure.
type RateFetcher interface {
	FetchRate(ctx context.Context, currency string) (Quote, error)
}
