// Package wrapper ties an exchange adapter, the paging worker pool and the
// CSV saver together into the two end-to-end operations this module exists
// for: fetching a symbol's complete OHLCV history and its complete
// funding-rate history.
package wrapper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Arkalin/ccxt-plus/internal/config"
	"github.com/Arkalin/ccxt-plus/internal/csvstore"
	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/exchange"
	"github.com/Arkalin/ccxt-plus/internal/fetcher"
	"github.com/Arkalin/ccxt-plus/internal/logger"
	"github.com/Arkalin/ccxt-plus/internal/metrics"
	"github.com/Arkalin/ccxt-plus/internal/models"
)

// FundingLabel is the directory segment used in place of the market type for
// funding-rate datasets.
const FundingLabel = "funding_rate_history"

// Wrapper runs complete-history fetch tasks against one exchange adapter.
type Wrapper struct {
	adapter  exchange.Adapter
	cfg      *config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// New creates a wrapper around the given adapter.
func New(adapter exchange.Adapter, cfg *config.Config, log *slog.Logger) *Wrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Wrapper{
		adapter:  adapter,
		cfg:      cfg,
		logger:   log,
		recorder: metrics.NewRecorder(),
	}
}

// Metrics returns the recorder shared by all tasks run through this wrapper.
func (w *Wrapper) Metrics() *metrics.Recorder {
	return w.recorder
}

// Result summarises one completed task.
type Result struct {
	// RunID uniquely identifies this task execution in the logs.
	RunID string
	// Labels identify the dataset, e.g. binance_future_BTC-USDT_15m.
	Labels models.Labels
	// Rows is the number of rows handed to the saver.
	Rows int
	// OutputDir is the directory the chunk files were written to.
	OutputDir string
	// Duration is the wall-clock time of the whole task.
	Duration time.Duration
	// Metrics is a snapshot taken when the task finished.
	Metrics metrics.Snapshot
}

type options struct {
	since      int64
	until      int64
	workers    int
	actions    []string
	labels     *models.Labels
	columns    []string
	timeColumn int
}

// Option customises a single fetch task.
type Option func(*options)

// WithSince sets the start of the fetched range in epoch milliseconds.
func WithSince(ms int64) Option {
	return func(o *options) { o.since = ms }
}

// WithUntil sets the exclusive end of the fetched range in epoch milliseconds.
// The default is the current time.
func WithUntil(ms int64) Option {
	return func(o *options) { o.until = ms }
}

// WithWorkers overrides the configured fetch worker count for this task.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithActions overrides the saver action pipeline for this task.
func WithActions(actions ...string) Option {
	return func(o *options) { o.actions = actions }
}

// WithLabels overrides the derived labels, changing the output directory and
// the task tag.
func WithLabels(labels models.Labels) Option {
	return func(o *options) { o.labels = &labels }
}

// WithColumns overrides the CSV header and the index of its timestamp column.
func WithColumns(columns []string, timeColumn int) Option {
	return func(o *options) {
		o.columns = columns
		o.timeColumn = timeColumn
	}
}

// FetchAllOHLCV fetches the full candle history for the symbol and timeframe
// and persists it as chunked CSV files.
func (w *Wrapper) FetchAllOHLCV(ctx context.Context, symbol, timeframe string, opts ...Option) (*Result, error) {
	if _, err := models.TimeframeMillis(timeframe); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("invalid timeframe %q", timeframe), err)
	}

	labels := models.NewLabels(w.adapter.ID(), w.adapter.MarketType(), symbol, timeframe)
	page := func(ctx context.Context, since int64) ([]models.Row, error) {
		resp, err := w.adapter.FetchCandles(ctx, exchange.FetchRequest{
			Symbol:    symbol,
			Timeframe: timeframe,
			Since:     since,
			Limit:     w.cfg.Exchange.PageLimit,
		})
		if err != nil {
			return nil, err
		}
		if resp.RateLimit.Throttled {
			w.recorder.RecordRateLimitHit()
		}
		rows := make([]models.Row, len(resp.Candles))
		for i := range resp.Candles {
			rows[i] = &resp.Candles[i]
		}
		return rows, nil
	}

	return w.run(ctx, labels, page, dataset{
		columns:    models.OHLCVColumns,
		timeColumn: models.OHLCVTimeColumn,
		timeframe:  timeframe,
		actions:    csvstore.DefaultOHLCVActions,
	}, opts)
}

// FetchAllFundingRateHistory fetches the full settled funding-rate history for
// the symbol and persists it as chunked CSV files. The adapter must be bound
// to a futures market.
func (w *Wrapper) FetchAllFundingRateHistory(ctx context.Context, symbol string, opts ...Option) (*Result, error) {
	if w.adapter.MarketType() != exchange.MarketFuture {
		return nil, apperrors.NewConfiguration("funding rate history requires a futures market adapter, got %q", w.adapter.MarketType())
	}

	labels := models.NewLabels(w.adapter.ID(), FundingLabel, symbol)
	page := func(ctx context.Context, since int64) ([]models.Row, error) {
		resp, err := w.adapter.FetchFundingRates(ctx, exchange.FetchRequest{
			Symbol: symbol,
			Since:  since,
			Limit:  w.cfg.Exchange.PageLimit,
		})
		if err != nil {
			return nil, err
		}
		if resp.RateLimit.Throttled {
			w.recorder.RecordRateLimitHit()
		}
		rows := make([]models.Row, len(resp.Rates))
		for i := range resp.Rates {
			rows[i] = &resp.Rates[i]
		}
		return rows, nil
	}

	return w.run(ctx, labels, page, dataset{
		columns:    models.FundingColumns,
		timeColumn: models.FundingTimeColumn,
		actions:    csvstore.DefaultFundingActions,
	}, opts)
}

// dataset carries the per-dataset saver parameters.
type dataset struct {
	columns    []string
	timeColumn int
	timeframe  string
	actions    []string
}

func (w *Wrapper) run(ctx context.Context, labels models.Labels, page fetcher.PageFunc, ds dataset, opts []Option) (*Result, error) {
	o := options{
		since:   w.cfg.DefaultSinceMillis,
		until:   time.Now().UnixMilli(),
		workers: w.cfg.Fetch.Workers,
		actions: ds.actions,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.labels != nil {
		labels = *o.labels
	}
	if o.columns != nil {
		ds.columns = o.columns
		ds.timeColumn = o.timeColumn
	}

	runID := uuid.New().String()
	log := logger.WithTask(w.logger, labels.String()).With("run_id", runID)

	start := time.Now()
	log.Info("task started", "since", o.since, "until", o.until, "workers", o.workers)

	result, err := w.execute(ctx, log, labels, page, ds, o)
	if err != nil {
		log.Error("task failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	result.RunID = runID
	result.Labels = labels
	result.Duration = time.Since(start)
	result.Metrics = w.recorder.GetSnapshot()

	// Completion is logged at the highest level so it always passes the
	// configured level filter.
	log.Error("task completed", "rows", result.Rows, "dir", result.OutputDir, "duration", result.Duration)
	return result, nil
}

func (w *Wrapper) execute(ctx context.Context, log *slog.Logger, labels models.Labels, page fetcher.PageFunc, ds dataset, o options) (*Result, error) {
	plan, err := fetcher.BuildPlan(ctx, page, o.since, o.until, fetcher.PlannerConfig{
		Workers:          o.workers,
		LocalWorkerRatio: w.cfg.Fetch.LocalWorkerRatio,
		MaxAttempts:      w.cfg.Fetch.MaxAttempts,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	pool := fetcher.NewPool(w.cfg.Fetch.MaxAttempts, w.recorder, log)
	rows, err := pool.Run(ctx, plan, page)
	if err != nil {
		return nil, err
	}

	saver, err := csvstore.NewSaver(csvstore.Config{
		Labels:           labels,
		Actions:          o.actions,
		Columns:          ds.columns,
		TimeColumn:       ds.timeColumn,
		Timeframe:        ds.timeframe,
		DataPath:         w.cfg.Saver.DataPath,
		ChunkSize:        w.cfg.Saver.ChunkSize,
		MaxMissingPoints: w.cfg.Saver.MaxMissingPoints,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	if err := saver.Save(rows); err != nil {
		return nil, err
	}

	return &Result{
		Rows:      len(rows),
		OutputDir: saver.WorkDir(),
	}, nil
}
