// Package models provides the core data structures for fetched market data:
// OHLCV candles, funding-rate records, task labels, and timeframe helpers.
package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV record. Prices and volume are kept as
// decimal strings exactly as returned by the exchange; Timestamp is the candle
// open time in milliseconds since the Unix epoch, UTC.
type Candle struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// ValidationError describes a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that all price fields parse as decimals greater than zero,
// volume is a non-negative decimal, the OHLC relationships hold
// (high >= max(open, close), low <= min(open, close)) and required fields
// are present.
func (c *Candle) Validate() error {
	if c.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must be a positive millisecond value"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	closePx, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if closePx.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(open, closePx)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(open, closePx)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Timeframe == "" {
		return &ValidationError{Field: "timeframe", Message: "timeframe cannot be empty"}
	}

	return nil
}

// Time implements Row.
func (c *Candle) Time() int64 { return c.Timestamp }

// Record returns the candle as a CSV row ordered to match OHLCVColumns.
func (c *Candle) Record() []string {
	return []string{
		strconv.FormatInt(c.Timestamp, 10),
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
	}
}

// OHLCVColumns is the CSV header for candle rows.
var OHLCVColumns = []string{"time", "open", "high", "low", "close", "volume"}

// OHLCVTimeColumn is the index of the timestamp column within OHLCVColumns.
const OHLCVTimeColumn = 0
