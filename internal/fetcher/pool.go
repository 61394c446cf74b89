package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/metrics"
	"github.com/Arkalin/ccxt-plus/internal/models"
)

// Pool executes a Plan: fetch workers pull page jobs from a queue, collector
// goroutines drain results and requeue failed pages with an attempt counter.
// A page whose retry budget runs out aborts the whole run.
type Pool struct {
	maxAttempts int
	recorder    *metrics.Recorder
	logger      *slog.Logger
}

// NewPool creates a pool with the given per-page attempt budget. The recorder
// may be nil.
func NewPool(maxAttempts int, recorder *metrics.Recorder, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxAttempts: maxAttempts,
		recorder:    recorder,
		logger:      logger,
	}
}

type pageJob struct {
	since   int64
	attempt int
}

type pageResult struct {
	job  pageJob
	rows []models.Row
	err  error
}

// Run fetches every page in the plan and returns all collected rows. Rows are
// returned in arbitrary order; the saver pipeline sorts them. The first page
// to exhaust its attempts fails the run with a fetch-exhausted error and
// cancels in-flight work.
func (p *Pool) Run(ctx context.Context, plan *Plan, fetch PageFunc) ([]models.Row, error) {
	if len(plan.PageStarts) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each page is either queued or in flight, never both, so the queue
	// never exceeds the page count even with requeues.
	jobs := make(chan pageJob, len(plan.PageStarts))
	results := make(chan pageResult, plan.Workers)
	for _, ts := range plan.PageStarts {
		jobs <- pageJob{since: ts, attempt: 1}
	}

	var workerWg sync.WaitGroup
	for i := 0; i < plan.Workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			p.fetchWorker(runCtx, jobs, results, fetch)
		}()
	}

	var (
		mu        sync.Mutex
		collected []models.Row
		runErr    error
		errOnce   sync.Once
	)
	pending := int64(len(plan.PageStarts))
	done := make(chan struct{})

	var collectorWg sync.WaitGroup
	for i := 0; i < plan.Collectors; i++ {
		collectorWg.Add(1)
		go func() {
			defer collectorWg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case res := <-results:
					if res.err != nil {
						// Permanent errors fail the run immediately instead
						// of burning the retry budget on the same outcome.
						if retryable := apperrors.IsRetryable(res.err); !retryable || res.job.attempt >= p.maxAttempts {
							if p.recorder != nil {
								p.recorder.RecordFailure()
							}
							errOnce.Do(func() {
								if retryable {
									runErr = apperrors.Wrap(
										apperrors.CodeFetchExhausted,
										"exceeded max attempts for page",
										res.err,
									)
								} else {
									runErr = res.err
								}
								cancel()
							})
							continue
						}
						if p.recorder != nil {
							p.recorder.RecordRetry()
						}
						p.logger.Warn("page fetch failed, requeueing",
							"since", res.job.since,
							"attempt", res.job.attempt,
							"error", res.err,
						)
						jobs <- pageJob{since: res.job.since, attempt: res.job.attempt + 1}
						continue
					}

					mu.Lock()
					collected = append(collected, res.rows...)
					mu.Unlock()

					if atomic.AddInt64(&pending, -1) == 0 {
						close(done)
					}
				}
			}
		}()
	}

	select {
	case <-done:
	case <-runCtx.Done():
	}

	cancel()
	workerWg.Wait()
	collectorWg.Wait()

	if runErr != nil {
		return nil, runErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collected, nil
}

func (p *Pool) fetchWorker(ctx context.Context, jobs <-chan pageJob, results chan<- pageResult, fetch PageFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			start := time.Now()
			rows, err := fetch(ctx, job.since)
			if err == nil && p.recorder != nil {
				p.recorder.RecordPage(len(rows), time.Since(start))
			}
			select {
			case results <- pageResult{job: job, rows: rows, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}
