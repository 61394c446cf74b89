// Binance adapter covering spot and USD-M futures market data: klines on both
// markets plus funding-rate history on futures. Requests are rate limited,
// retried with exponential backoff, and routed through the proxy pool when
// one is configured.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/models"
	"github.com/Arkalin/ccxt-plus/internal/proxy"
)

const (
	binanceSpotBaseURL    = "https://api.binance.com"
	binanceFuturesBaseURL = "https://fapi.binance.com"

	spotKlinesEndpoint    = "/api/v3/klines"
	futuresKlinesEndpoint = "/fapi/v1/klines"
	fundingRateEndpoint   = "/fapi/v1/fundingRate"
	spotPingEndpoint      = "/api/v3/ping"
	futuresPingEndpoint   = "/fapi/v1/ping"

	defaultRateLimit = 10
	rateLimitBurst   = 1
	defaultPageLimit = 1000
	requestTimeout   = 30 * time.Second

	initialRetryDelay  = 500 * time.Millisecond
	maxRetryDelay      = 30 * time.Second
	retryMultiplier    = 2.0
	retryJitter        = 0.5
	healthCheckTimeout = 5 * time.Second
)

// BinanceConfig overrides adapter defaults. Zero values fall back to the
// package defaults above; BaseURL exists so tests can point at a local server.
type BinanceConfig struct {
	MarketType     string
	BaseURL        string
	RateLimit      int
	PageLimit      int
	TimeoutSeconds int
	Proxies        *proxy.Pool
	Logger         *slog.Logger
}

// BinanceAdapter implements Adapter against the Binance REST API.
type BinanceAdapter struct {
	marketType  string
	baseURL     string
	pageLimit   int
	httpTimeout time.Duration
	rateLimiter *rate.Limiter
	limits      RateLimit
	proxies     *proxy.Pool
	logger      *slog.Logger
}

// NewBinanceAdapter constructs an adapter for the given market type.
func NewBinanceAdapter(cfg BinanceConfig) (*BinanceAdapter, error) {
	marketType := cfg.MarketType
	if marketType == "" {
		marketType = MarketSpot
	}
	if marketType != MarketSpot && marketType != MarketFuture {
		return nil, fmt.Errorf("unsupported market type %q", marketType)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if marketType == MarketFuture {
			baseURL = binanceFuturesBaseURL
		} else {
			baseURL = binanceSpotBaseURL
		}
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	timeout := requestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &BinanceAdapter{
		marketType:  marketType,
		baseURL:     strings.TrimRight(baseURL, "/"),
		pageLimit:   pageLimit,
		httpTimeout: timeout,
		rateLimiter: rate.NewLimiter(rate.Limit(limit), rateLimitBurst),
		limits:      RateLimit{RequestsPerSecond: limit, BurstSize: rateLimitBurst},
		proxies:     cfg.Proxies,
		logger:      logger,
	}, nil
}

// ID implements Adapter.
func (b *BinanceAdapter) ID() string { return "binance" }

// MarketType implements Adapter.
func (b *BinanceAdapter) MarketType() string { return b.marketType }

// GetLimits implements RateLimiter.
func (b *BinanceAdapter) GetLimits() RateLimit { return b.limits }

// WaitForLimit implements RateLimiter.
func (b *BinanceAdapter) WaitForLimit(ctx context.Context) error {
	return b.rateLimiter.Wait(ctx)
}

// FetchCandles implements CandleFetcher for the adapter's market type.
func (b *BinanceAdapter) FetchCandles(ctx context.Context, req FetchRequest) (*CandleResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Timeframe == "" {
		return nil, fmt.Errorf("invalid request: timeframe cannot be empty")
	}

	if err := b.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	endpoint := spotKlinesEndpoint
	if b.marketType == MarketFuture {
		endpoint = futuresKlinesEndpoint
	}

	limit := req.Limit
	if limit <= 0 {
		limit = b.pageLimit
	}

	params := url.Values{}
	params.Set("symbol", marketSymbol(req.Symbol))
	params.Set("interval", req.Timeframe)
	params.Set("startTime", strconv.FormatInt(req.Since, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, status, err := b.request(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, entry := range raw {
		candle, err := parseKline(entry, req.Symbol, req.Timeframe)
		if err != nil {
			b.logger.Warn("skipping malformed kline", "symbol", req.Symbol, "error", err)
			continue
		}
		if err := candle.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDataFormat,
				fmt.Sprintf("invalid candle for %s at %d", req.Symbol, candle.Timestamp), err)
		}
		candles = append(candles, *candle)
	}

	return &CandleResponse{
		Candles:   candles,
		RateLimit: status,
	}, nil
}

// FetchFundingRates implements FundingRateFetcher. Funding rates only exist
// on the futures market; a spot adapter rejects the call.
func (b *BinanceAdapter) FetchFundingRates(ctx context.Context, req FetchRequest) (*FundingResponse, error) {
	if b.marketType != MarketFuture {
		return nil, fmt.Errorf("funding rates are only available on the %s market", MarketFuture)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	if err := b.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = b.pageLimit
	}

	params := url.Values{}
	params.Set("symbol", marketSymbol(req.Symbol))
	params.Set("startTime", strconv.FormatInt(req.Since, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, status, err := b.request(ctx, fundingRateEndpoint, params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol      string `json:"symbol"`
		FundingTime int64  `json:"fundingTime"`
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse funding rate response: %w", err)
	}

	rates := make([]models.FundingRate, 0, len(raw))
	for _, entry := range raw {
		rate := models.FundingRate{
			FundingTime: entry.FundingTime,
			Rate:        entry.FundingRate,
			Symbol:      req.Symbol,
		}
		if err := rate.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDataFormat,
				fmt.Sprintf("invalid funding rate for %s at %d", req.Symbol, rate.FundingTime), err)
		}
		rates = append(rates, rate)
	}

	return &FundingResponse{
		Rates:     rates,
		RateLimit: status,
	}, nil
}

// HealthCheck implements HealthChecker via the ping endpoint.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	endpoint := spotPingEndpoint
	if b.marketType == MarketFuture {
		endpoint = futuresPingEndpoint
	}

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, b.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.client().Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// client builds an HTTP client for a single request, picking a proxy
// transport when the pool is enabled.
func (b *BinanceAdapter) client() *http.Client {
	c := &http.Client{Timeout: b.httpTimeout}
	if b.proxies != nil {
		c.Transport = b.proxies.Pick()
	}
	return c
}

// request performs a GET with exponential-backoff retry. Client errors other
// than 429/418 abort immediately; rate limiting and server errors retry. The
// returned status records any throttling observed along the way, so a request
// that was rate limited and then succeeded still reports it.
func (b *BinanceAdapter) request(ctx context.Context, endpoint string, params url.Values) ([]byte, RateLimitStatus, error) {
	fullURL := b.baseURL + endpoint + "?" + params.Encode()

	var body []byte
	var status RateLimitStatus

	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialRetryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0 // bounded by ctx

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "ccxt-plus/1.0")

		resp, err := b.client().Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		// 418 is Binance's IP auto-ban status; treat it like 429.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			status.Throttled = true
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				status.RetryAfter = retryAfter
				b.logger.Warn("rate limited, waiting", "retry_after", retryAfter, "status", resp.StatusCode)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, string(data))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(data)))
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoffConfig, ctx)); err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// marketSymbol converts a unified symbol like "BTC/USDT" to the Binance wire
// form "BTCUSDT". Already-flat symbols pass through unchanged.
func marketSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// parseKline converts one raw kline array entry into a Candle. Binance klines
// are heterogeneous arrays: [openTime, open, high, low, close, volume, ...].
func parseKline(entry []json.RawMessage, symbol, timeframe string) (*models.Candle, error) {
	if len(entry) < 6 {
		return nil, fmt.Errorf("kline entry has %d fields, want at least 6", len(entry))
	}

	var openTime int64
	if err := json.Unmarshal(entry[0], &openTime); err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}

	fields := make([]string, 5)
	for i := 1; i <= 5; i++ {
		if err := json.Unmarshal(entry[i], &fields[i-1]); err != nil {
			return nil, fmt.Errorf("invalid kline field %d: %w", i, err)
		}
	}

	return &models.Candle{
		Timestamp: openTime,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Symbol:    symbol,
		Timeframe: timeframe,
	}, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}
