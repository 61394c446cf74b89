// Package metrics tracks fetch performance counters: pages, rows, retries,
// failures and response times. Counters are atomic so workers can record
// without coordination.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder accumulates fetch statistics for one process.
type Recorder struct {
	pagesFetched  int64
	rowsCollected int64
	retries       int64
	failures      int64
	rateLimitHits int64

	totalResponseTime int64 // nanoseconds
	responseCount     int64

	mu        sync.RWMutex
	startTime time.Time
}

// Snapshot is a point-in-time copy of the recorder's counters.
type Snapshot struct {
	PagesFetched    int64
	RowsCollected   int64
	Retries         int64
	Failures        int64
	RateLimitHits   int64
	AvgResponseTime time.Duration
	SuccessRate     float64
	Uptime          time.Duration
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{startTime: time.Now()}
}

// RecordPage records a successfully fetched page and its row count.
func (r *Recorder) RecordPage(rows int, duration time.Duration) {
	atomic.AddInt64(&r.pagesFetched, 1)
	atomic.AddInt64(&r.rowsCollected, int64(rows))
	atomic.AddInt64(&r.totalResponseTime, duration.Nanoseconds())
	atomic.AddInt64(&r.responseCount, 1)
}

// RecordRetry records a page fetch that failed and was requeued.
func (r *Recorder) RecordRetry() {
	atomic.AddInt64(&r.retries, 1)
}

// RecordFailure records a page that ran out of attempts.
func (r *Recorder) RecordFailure() {
	atomic.AddInt64(&r.failures, 1)
}

// RecordRateLimitHit records a rate-limit response from the exchange.
func (r *Recorder) RecordRateLimitHit() {
	atomic.AddInt64(&r.rateLimitHits, 1)
}

// GetSnapshot returns the current counter values.
func (r *Recorder) GetSnapshot() Snapshot {
	pages := atomic.LoadInt64(&r.pagesFetched)
	retries := atomic.LoadInt64(&r.retries)
	failures := atomic.LoadInt64(&r.failures)
	totalResponse := atomic.LoadInt64(&r.totalResponseTime)
	responseCount := atomic.LoadInt64(&r.responseCount)

	var avgResponse time.Duration
	if responseCount > 0 {
		avgResponse = time.Duration(totalResponse / responseCount)
	}

	attempts := pages + retries + failures
	var successRate float64
	if attempts > 0 {
		successRate = float64(pages) / float64(attempts)
	}

	r.mu.RLock()
	uptime := time.Since(r.startTime)
	r.mu.RUnlock()

	return Snapshot{
		PagesFetched:    pages,
		RowsCollected:   atomic.LoadInt64(&r.rowsCollected),
		Retries:         retries,
		Failures:        failures,
		RateLimitHits:   atomic.LoadInt64(&r.rateLimitHits),
		AvgResponseTime: avgResponse,
		SuccessRate:     successRate,
		Uptime:          uptime,
	}
}

// Reset clears all counters.
func (r *Recorder) Reset() {
	atomic.StoreInt64(&r.pagesFetched, 0)
	atomic.StoreInt64(&r.rowsCollected, 0)
	atomic.StoreInt64(&r.retries, 0)
	atomic.StoreInt64(&r.failures, 0)
	atomic.StoreInt64(&r.rateLimitHits, 0)
	atomic.StoreInt64(&r.totalResponseTime, 0)
	atomic.StoreInt64(&r.responseCount, 0)

	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
}
