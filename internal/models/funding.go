package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FundingRate represents a single settled funding-rate record for a perpetual
// contract. FundingTime is milliseconds since the Unix epoch, UTC; Rate is the
// decimal string returned by the exchange (may be negative).
type FundingRate struct {
	FundingTime int64  `json:"funding_time"`
	Rate        string `json:"rate"`
	Symbol      string `json:"symbol"`
}

// Validate checks that the funding time is positive and the rate parses as a
// decimal. Unlike candle prices, a funding rate may legitimately be negative
// or zero.
func (f *FundingRate) Validate() error {
	if f.FundingTime <= 0 {
		return &ValidationError{Field: "funding_time", Message: "funding time must be a positive millisecond value"}
	}
	if _, err := decimal.NewFromString(f.Rate); err != nil {
		return &ValidationError{Field: "rate", Message: fmt.Sprintf("invalid rate format: %v", err)}
	}
	if f.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	return nil
}

// Time implements Row.
func (f *FundingRate) Time() int64 { return f.FundingTime }

// Record returns the record as a CSV row ordered to match FundingColumns.
func (f *FundingRate) Record() []string {
	return []string{
		strconv.FormatInt(f.FundingTime, 10),
		f.Rate,
	}
}

// FundingColumns is the CSV header for funding-rate rows.
var FundingColumns = []string{"time", "rate"}

// FundingTimeColumn is the index of the timestamp column within FundingColumns.
const FundingTimeColumn = 0
