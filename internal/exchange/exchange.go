// Package exchange defines the adapter interfaces the fetcher consumes and
// the request/response types shared by implementations. Interfaces are kept
// small and composable so tests can implement only what they need.
package exchange

import (
	"context"
	"time"

	"github.com/Arkalin/ccxt-plus/internal/models"
)

// Market type identifiers accepted by adapters.
const (
	MarketSpot   = "spot"
	MarketFuture = "future"
)

// FetchRequest identifies one page of historical data. Since is a millisecond
// timestamp; records at or after Since are returned, oldest first, at most
// Limit of them.
type FetchRequest struct {
	Symbol    string
	Timeframe string // unused for funding-rate fetches
	Since     int64
	Limit     int
}

// CandleResponse carries one fetched page of candles with the rate-limit
// status observed on the request.
type CandleResponse struct {
	Candles   []models.Candle
	RateLimit RateLimitStatus
}

// FundingResponse carries one fetched page of funding-rate records.
type FundingResponse struct {
	Rates     []models.FundingRate
	RateLimit RateLimitStatus
}

// CandleFetcher retrieves pages of OHLCV data.
//
// Implementations must return candles in chronological order (oldest first)
// and an empty slice, not an error, when the range holds no data.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, req FetchRequest) (*CandleResponse, error)
}

// FundingRateFetcher retrieves pages of settled funding rates for perpetual
// contracts.
type FundingRateFetcher interface {
	FetchFundingRates(ctx context.Context, req FetchRequest) (*FundingResponse, error)
}

// RateLimiter exposes the adapter's rate-limit policy and lets callers block
// until the next request is allowed.
type RateLimiter interface {
	GetLimits() RateLimit
	WaitForLimit(ctx context.Context) error
}

// HealthChecker verifies the exchange is reachable. Checks must be cheap and
// must not consume meaningful rate-limit quota.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Adapter is the full surface an exchange implementation provides.
type Adapter interface {
	// ID returns the exchange identifier used in labels, e.g. "binance".
	ID() string
	// MarketType returns the market this adapter is bound to: MarketSpot or
	// MarketFuture.
	MarketType() string

	CandleFetcher
	FundingRateFetcher
	RateLimiter
	HealthChecker
}

// RateLimit describes an adapter's request rate policy.
type RateLimit struct {
	RequestsPerSecond int
	BurstSize         int
}

// RateLimitStatus reports the rate-limit state observed while serving a
// request, including throttling the adapter already absorbed by retrying.
type RateLimitStatus struct {
	// Throttled is true when the exchange answered 429 or 418 at any point
	// during the request, even if a retry then succeeded.
	Throttled bool
	// RetryAfter is the last Retry-After hint observed. Zero means the
	// exchange sent none.
	RetryAfter time.Duration
}

// Validate checks the request invariants shared by all adapters.
func (r *FetchRequest) Validate() error {
	if r.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if r.Since < 0 {
		return &models.ValidationError{Field: "since", Message: "since cannot be negative"}
	}
	if r.Limit < 0 {
		return &models.ValidationError{Field: "limit", Message: "limit cannot be negative"}
	}
	return nil
}
