package wrapper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arkalin/ccxt-plus/internal/config"
	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/exchange"
	"github.com/Arkalin/ccxt-plus/internal/models"
)

const (
	testBase = int64(1609459200000) // 2021-01-01T00:00:00Z
	testStep = int64(900000)        // 15m
)

// fakeAdapter serves a deterministic candle and funding series from memory.
type fakeAdapter struct {
	marketType string
	pageSize   int
	candleEnd  int64 // exclusive
	fundingEnd int64 // exclusive
	failPages  bool
	throttled  bool

	calls atomic.Int64
}

func (f *fakeAdapter) ID() string                          { return "binance" }
func (f *fakeAdapter) MarketType() string                  { return f.marketType }
func (f *fakeAdapter) GetLimits() exchange.RateLimit       { return exchange.RateLimit{RequestsPerSecond: 1000} }
func (f *fakeAdapter) WaitForLimit(context.Context) error  { return nil }
func (f *fakeAdapter) HealthCheck(context.Context) error   { return nil }

func (f *fakeAdapter) FetchCandles(ctx context.Context, req exchange.FetchRequest) (*exchange.CandleResponse, error) {
	f.calls.Add(1)
	if f.failPages {
		return nil, errors.New("connection reset")
	}

	var candles []models.Candle
	start := req.Since
	if rem := start % testStep; rem != 0 {
		start += testStep - rem
	}
	if start < testBase {
		start = testBase
	}
	for ts := start; ts < f.candleEnd && len(candles) < f.pageSize; ts += testStep {
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      "100",
			High:      "110",
			Low:       "90",
			Close:     "105",
			Volume:    strconv.FormatInt(ts, 10),
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
		})
	}
	return &exchange.CandleResponse{
		Candles:   candles,
		RateLimit: exchange.RateLimitStatus{Throttled: f.throttled},
	}, nil
}

func (f *fakeAdapter) FetchFundingRates(ctx context.Context, req exchange.FetchRequest) (*exchange.FundingResponse, error) {
	f.calls.Add(1)
	fundingStep := int64(8 * 3600 * 1000)

	var rates []models.FundingRate
	start := req.Since
	if rem := start % fundingStep; rem != 0 {
		start += fundingStep - rem
	}
	if start < testBase {
		start = testBase
	}
	for ts := start; ts < f.fundingEnd && len(rates) < f.pageSize; ts += fundingStep {
		rates = append(rates, models.FundingRate{
			FundingTime: ts,
			Rate:        "0.0001",
			Symbol:      req.Symbol,
		})
	}
	return &exchange.FundingResponse{
		Rates:     rates,
		RateLimit: exchange.RateLimitStatus{Throttled: f.throttled},
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Saver.DataPath = t.TempDir()
	cfg.Saver.MaxMissingPoints = 10
	cfg.Fetch.Workers = 4
	cfg.Fetch.MaxAttempts = 2
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchAllOHLCV(t *testing.T) {
	t.Run("end_to_end", func(t *testing.T) {
		adapter := &fakeAdapter{
			marketType: exchange.MarketSpot,
			pageSize:   10,
			candleEnd:  testBase + 30*testStep,
		}
		cfg := testConfig(t)
		w := New(adapter, cfg, testLogger())

		result, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15m",
			WithSince(testBase),
			WithUntil(testBase+30*testStep),
		)
		require.NoError(t, err)

		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, "binance_spot_BTC-USDT_15m", result.Labels.String())
		wantDir := filepath.Join(cfg.Saver.DataPath, "binance", "spot", "BTC-USDT", "15m")
		assert.Equal(t, wantDir, result.OutputDir)
		assert.FileExists(t, filepath.Join(wantDir, "0.csv"))
		assert.Greater(t, result.Rows, 0)
		assert.Greater(t, result.Metrics.PagesFetched, int64(0))
	})

	t.Run("counts_throttled_pages", func(t *testing.T) {
		adapter := &fakeAdapter{
			marketType: exchange.MarketSpot,
			pageSize:   10,
			candleEnd:  testBase + 10*testStep,
			throttled:  true,
		}
		cfg := testConfig(t)
		w := New(adapter, cfg, testLogger())

		result, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15m",
			WithSince(testBase),
			WithUntil(testBase+10*testStep),
		)
		require.NoError(t, err)
		assert.Greater(t, result.Metrics.RateLimitHits, int64(0))
	})

	t.Run("custom_labels", func(t *testing.T) {
		adapter := &fakeAdapter{
			marketType: exchange.MarketSpot,
			pageSize:   10,
			candleEnd:  testBase + 10*testStep,
		}
		cfg := testConfig(t)
		w := New(adapter, cfg, testLogger())

		result, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15m",
			WithSince(testBase),
			WithUntil(testBase+10*testStep),
			WithLabels(models.NewLabels("binance", "spot", "BTC/USDT", "raw")),
		)
		require.NoError(t, err)

		assert.Equal(t, "binance_spot_BTC-USDT_raw", result.Labels.String())
		wantDir := filepath.Join(cfg.Saver.DataPath, "binance", "spot", "BTC-USDT", "raw")
		assert.Equal(t, wantDir, result.OutputDir)
		assert.FileExists(t, filepath.Join(wantDir, "0.csv"))
	})

	t.Run("custom_columns", func(t *testing.T) {
		adapter := &fakeAdapter{
			marketType: exchange.MarketSpot,
			pageSize:   10,
			candleEnd:  testBase + 10*testStep,
		}
		cfg := testConfig(t)
		w := New(adapter, cfg, testLogger())

		columns := []string{"ts", "o", "h", "l", "c", "v"}
		result, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15m",
			WithSince(testBase),
			WithUntil(testBase+10*testStep),
			WithColumns(columns, 0),
		)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(result.OutputDir, "0.csv"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "ts,o,h,l,c,v\n"))
	})

	t.Run("invalid_timeframe", func(t *testing.T) {
		adapter := &fakeAdapter{marketType: exchange.MarketSpot, pageSize: 10, candleEnd: testBase + testStep}
		w := New(adapter, testConfig(t), testLogger())

		_, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15x")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.New(apperrors.CodeConfiguration, ""))
		assert.EqualValues(t, 0, adapter.calls.Load())
	})

	t.Run("exchange_down_fails_task_init", func(t *testing.T) {
		adapter := &fakeAdapter{marketType: exchange.MarketSpot, pageSize: 10, failPages: true}
		cfg := testConfig(t)
		cfg.Fetch.MaxAttempts = 1
		w := New(adapter, cfg, testLogger())

		_, err := w.FetchAllOHLCV(context.Background(), "BTC/USDT", "15m",
			WithSince(testBase),
			WithUntil(testBase+10*testStep),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.New(apperrors.CodeTaskInit, ""))
	})
}

func TestFetchAllFundingRateHistory(t *testing.T) {
	t.Run("end_to_end", func(t *testing.T) {
		fundingStep := int64(8 * 3600 * 1000)
		adapter := &fakeAdapter{
			marketType: exchange.MarketFuture,
			pageSize:   10,
			fundingEnd: testBase + 20*fundingStep,
		}
		cfg := testConfig(t)
		w := New(adapter, cfg, testLogger())

		result, err := w.FetchAllFundingRateHistory(context.Background(), "BTC/USDT",
			WithSince(testBase),
			WithUntil(testBase+20*fundingStep),
		)
		require.NoError(t, err)

		assert.Equal(t, "binance_funding_rate_history_BTC-USDT", result.Labels.String())
		wantDir := filepath.Join(cfg.Saver.DataPath, "binance", "funding_rate_history", "BTC-USDT")
		assert.Equal(t, wantDir, result.OutputDir)
		assert.FileExists(t, filepath.Join(wantDir, "0.csv"))
	})

	t.Run("rejected_on_spot_adapter", func(t *testing.T) {
		adapter := &fakeAdapter{marketType: exchange.MarketSpot, pageSize: 10}
		w := New(adapter, testConfig(t), testLogger())

		_, err := w.FetchAllFundingRateHistory(context.Background(), "BTC/USDT")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.New(apperrors.CodeConfiguration, ""))
		assert.EqualValues(t, 0, adapter.calls.Load())
	})
}
