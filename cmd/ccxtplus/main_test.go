package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arkalin/ccxt-plus/internal/exchange"
)

func isUsageError(err error) bool {
	var usage *usageError
	return errors.As(err, &usage)
}

func TestParseFetchFlags(t *testing.T) {
	t.Run("full_invocation", func(t *testing.T) {
		flags, err := parseFetchFlags([]string{
			"--symbols", "BTC/USDT,ETH/USDT",
			"--timeframes", "15m,1h",
			"--market", "future",
			"--start", "2021-01-01",
			"--workers", "8",
			"--parallel", "3",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, flags.Symbols)
		assert.Equal(t, []string{"15m", "1h"}, flags.Timeframes)
		assert.Equal(t, exchange.MarketFuture, flags.Market)
		assert.Equal(t, "2021-01-01", flags.Start)
		assert.Equal(t, 8, flags.Workers)
		assert.Equal(t, 3, flags.Parallel)
	})

	t.Run("defaults", func(t *testing.T) {
		flags, err := parseFetchFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, exchange.MarketSpot, flags.Market)
		assert.Equal(t, 2, flags.Parallel)
	})

	t.Run("bad_invocations_are_usage_errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{name: "unknown_flag", args: []string{"--nope"}},
			{name: "missing_value", args: []string{"--symbols"}},
			{name: "bad_market", args: []string{"--market", "margin"}},
			{name: "bad_workers", args: []string{"--workers", "lots"}},
			{name: "bad_parallel", args: []string{"--parallel", "0"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := parseFetchFlags(tt.args)
				require.Error(t, err)
				assert.True(t, isUsageError(err))
			})
		}
	})
}

func TestParseCheckFlags(t *testing.T) {
	t.Run("market_selection", func(t *testing.T) {
		flags, err := parseCheckFlags([]string{"--market", "future"})
		require.NoError(t, err)
		assert.Equal(t, exchange.MarketFuture, flags.Market)
	})

	t.Run("unknown_flag_is_usage_error", func(t *testing.T) {
		_, err := parseCheckFlags([]string{"--timeframes", "15m"})
		require.Error(t, err)
		assert.True(t, isUsageError(err))
	})
}

func TestRangeOptions(t *testing.T) {
	t.Run("date_bounds", func(t *testing.T) {
		opts, err := rangeOptions("2021-01-01", "2021-02-01")
		require.NoError(t, err)
		assert.Len(t, opts, 2)
	})

	t.Run("datetime_bound", func(t *testing.T) {
		ms, err := parseRangeBound("2021-01-01 08:00:00")
		require.NoError(t, err)
		assert.Equal(t, int64(1609488000000), ms)
	})

	t.Run("date_bound_is_midnight_utc", func(t *testing.T) {
		ms, err := parseRangeBound("2021-01-01")
		require.NoError(t, err)
		assert.Equal(t, int64(1609459200000), ms)
	})

	t.Run("bad_bound_is_usage_error", func(t *testing.T) {
		_, err := rangeOptions("01/01/2021", "")
		require.Error(t, err)
		assert.True(t, isUsageError(err))
	})
}

func TestResolveSymbols(t *testing.T) {
	t.Run("merges_and_dedupes", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "symbols.txt")
		require.NoError(t, os.WriteFile(file, []byte("# majors\nBTC/USDT\n\nSOL/USDT\n"), 0o644))

		symbols, err := resolveSymbols([]string{"BTC/USDT", "ETH/USDT"}, file)
		require.NoError(t, err)
		assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}, symbols)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := resolveSymbols(nil, filepath.Join(t.TempDir(), "absent.txt"))
		require.Error(t, err)
		assert.False(t, isUsageError(err))
	})
}
