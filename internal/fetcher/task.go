// Package fetcher turns a paged exchange endpoint into a complete dataset.
// A task is planned by probing the endpoint once to learn its page span, then
// executed by a worker pool that fetches every page concurrently with
// per-page retry accounting.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/models"
)

// PageFunc fetches one page of records starting at the given millisecond
// timestamp. Implementations return records oldest first.
type PageFunc func(ctx context.Context, since int64) ([]models.Row, error)

// Plan describes the pages of a fetch task and the pool sizing used to fetch
// them.
type Plan struct {
	// PageStarts are the millisecond start timestamps of every page, in
	// ascending order.
	PageStarts []int64
	// SpanMillis is the time covered by one full page.
	SpanMillis int64
	// Workers is the number of fetch goroutines.
	Workers int
	// Collectors is the number of result-draining goroutines,
	// max(1, Workers/localRatio).
	Collectors int
}

// PlannerConfig configures task planning.
type PlannerConfig struct {
	Workers          int
	LocalWorkerRatio int
	// MaxAttempts bounds the probe retries during planning.
	MaxAttempts int
	// ProbeDelay is the pause between failed probes.
	ProbeDelay time.Duration
	Logger     *slog.Logger
}

// BuildPlan probes the endpoint at since to learn the page span, then lays
// out page start timestamps covering [since, until). The aligned start is the
// first timestamp the exchange actually returned, so requests for data before
// a symbol's listing date begin at the listing.
//
// Probing retries up to MaxAttempts with ProbeDelay between attempts; an
// exhausted probe fails the task with a task-init error.
func BuildPlan(ctx context.Context, fetch PageFunc, since, until int64, cfg PlannerConfig) (*Plan, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probeDelay := cfg.ProbeDelay
	if probeDelay <= 0 {
		probeDelay = time.Second
	}

	if until <= since {
		return nil, apperrors.NewTaskInit("until (%d) must be after since (%d)", until, since)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		rows, err := fetch(ctx, since)
		if err == nil && len(rows) > 0 {
			return layoutPlan(rows, until, cfg), nil
		}

		if err != nil {
			lastErr = err
			logger.Warn("probe fetch failed", "attempt", attempt, "error", err)
		} else {
			logger.Warn("probe fetch returned no data", "attempt", attempt, "since", since)
		}

		select {
		case <-time.After(probeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, apperrors.Wrap(apperrors.CodeTaskInit, "failed to generate task, maximum attempts exhausted", lastErr)
	}
	return nil, apperrors.NewTaskInit("failed to generate task, maximum attempts exhausted")
}

func layoutPlan(probe []models.Row, until int64, cfg PlannerConfig) *Plan {
	first := probe[0].Time()
	last := probe[len(probe)-1].Time()

	span := last - first
	if span < 0 {
		span = -span
	}
	if span == 0 {
		// Single-record probe page: the whole range fits in one request.
		span = until - first
	}

	starts := make([]int64, 0, (until-first)/span+1)
	for ts := first; ts < until; ts += span {
		starts = append(starts, ts)
	}

	collectors := cfg.Workers / cfg.LocalWorkerRatio
	if collectors < 1 {
		collectors = 1
	}

	return &Plan{
		PageStarts: starts,
		SpanMillis: span,
		Workers:    cfg.Workers,
		Collectors: collectors,
	}
}
