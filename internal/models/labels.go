package models

import (
	"path/filepath"
	"strings"
)

// Labels identifies a fetch task and the directory its output lands in.
// Labels are ordered: exchange, market type, symbol, timeframe (the timeframe
// is omitted for funding-rate tasks). Any "/" in a label is replaced with "-"
// so that symbols like "BTC/USDT" produce a single path segment.
type Labels struct {
	parts []string
}

// NewLabels builds a label set from the given parts, sanitising path
// separators.
func NewLabels(parts ...string) Labels {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		clean = append(clean, strings.ReplaceAll(p, "/", "-"))
	}
	return Labels{parts: clean}
}

// String joins the labels with underscores, forming the task tag used in log
// lines, e.g. "binance_future_BTC-USDT_15m".
func (l Labels) String() string {
	return strings.Join(l.parts, "_")
}

// Dir joins the labels as path segments under the given root.
func (l Labels) Dir(root string) string {
	segs := append([]string{root}, l.parts...)
	return filepath.Join(segs...)
}
