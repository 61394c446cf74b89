package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSymbol    = "BTC/USDT"
	testTimeframe = "15m"
	testTimestamp = int64(1609459200000) // 2021-01-01T00:00:00Z
)

func validCandle() Candle {
	return Candle{
		Timestamp: testTimestamp,
		Open:      "29000.50",
		High:      "29150.00",
		Low:       "28900.25",
		Close:     "29100.75",
		Volume:    "1543.21",
		Symbol:    testSymbol,
		Timeframe: testTimeframe,
	}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Candle)
		wantField string
	}{
		{
			name:   "valid_candle",
			mutate: func(c *Candle) {},
		},
		{
			name:   "valid_zero_volume",
			mutate: func(c *Candle) { c.Volume = "0" },
		},
		{
			name: "valid_doji",
			mutate: func(c *Candle) {
				c.Open = "29000"
				c.Close = "29000"
				c.High = "29000"
				c.Low = "29000"
			},
		},
		{
			name:      "zero_timestamp",
			mutate:    func(c *Candle) { c.Timestamp = 0 },
			wantField: "timestamp",
		},
		{
			name:      "malformed_open",
			mutate:    func(c *Candle) { c.Open = "not-a-number" },
			wantField: "open",
		},
		{
			name:      "negative_close",
			mutate:    func(c *Candle) { c.Close = "-1" },
			wantField: "close",
		},
		{
			name:      "negative_volume",
			mutate:    func(c *Candle) { c.Volume = "-0.5" },
			wantField: "volume",
		},
		{
			name: "high_below_close",
			mutate: func(c *Candle) {
				c.High = "29050.00"
				c.Close = "29100.75"
			},
			wantField: "high",
		},
		{
			name: "low_above_open",
			mutate: func(c *Candle) {
				c.Low = "29050.00"
				c.Open = "29000.50"
			},
			wantField: "low",
		},
		{
			name:      "empty_symbol",
			mutate:    func(c *Candle) { c.Symbol = "" },
			wantField: "symbol",
		},
		{
			name:      "empty_timeframe",
			mutate:    func(c *Candle) { c.Timeframe = "" },
			wantField: "timeframe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candle := validCandle()
			tt.mutate(&candle)

			err := candle.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestCandleRecord(t *testing.T) {
	candle := validCandle()

	record := candle.Record()
	require.Len(t, record, len(OHLCVColumns))
	assert.Equal(t, "1609459200000", record[OHLCVTimeColumn])
	assert.Equal(t, "29000.50", record[1])
	assert.Equal(t, "29150.00", record[2])
	assert.Equal(t, "28900.25", record[3])
	assert.Equal(t, "29100.75", record[4])
	assert.Equal(t, "1543.21", record[5])

	assert.Equal(t, testTimestamp, candle.Time())
}

func TestFundingRateValidate(t *testing.T) {
	tests := []struct {
		name      string
		rate      FundingRate
		wantField string
	}{
		{
			name: "valid_positive_rate",
			rate: FundingRate{FundingTime: testTimestamp, Rate: "0.0001", Symbol: testSymbol},
		},
		{
			name: "valid_negative_rate",
			rate: FundingRate{FundingTime: testTimestamp, Rate: "-0.00025", Symbol: testSymbol},
		},
		{
			name:      "zero_funding_time",
			rate:      FundingRate{FundingTime: 0, Rate: "0.0001", Symbol: testSymbol},
			wantField: "funding_time",
		},
		{
			name:      "malformed_rate",
			rate:      FundingRate{FundingTime: testTimestamp, Rate: "abc", Symbol: testSymbol},
			wantField: "rate",
		},
		{
			name:      "empty_symbol",
			rate:      FundingRate{FundingTime: testTimestamp, Rate: "0.0001"},
			wantField: "symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rate.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestFundingRateRecord(t *testing.T) {
	rate := FundingRate{FundingTime: testTimestamp, Rate: "0.0001", Symbol: testSymbol}

	record := rate.Record()
	require.Len(t, record, len(FundingColumns))
	assert.Equal(t, "1609459200000", record[FundingTimeColumn])
	assert.Equal(t, "0.0001", record[1])
	assert.Equal(t, testTimestamp, rate.Time())
}
