// Package persistence writes closed candles through a bounded queue with a
// single consumer, so ingestion never waits on the store.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/market"
	"metron-core/internal/monitor"
	"metron-core/pkg/db"
)

// CandleWriter is the store surface the queue needs.
type CandleWriter interface {
	SaveBulkCandles(ctx context.Context, candles []db.Candle) error
}

// Options sizes the queue and its batches.
type Options struct {
	Size          int           // queue capacity; Enqueue drops when full
	MaxBatch      int           // candles per store write
	FlushInterval time.Duration // max time a candle waits in a partial batch
	WriteTimeout  time.Duration
}

// Queue batches candle writes. Enqueue never blocks; Close drains.
type Queue struct {
	store   CandleWriter
	opts    Options
	metrics *monitor.Metrics
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan db.Candle
	wg     sync.WaitGroup

	stats Stats
}

// Stats are cumulative counters.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
	Errors   uint64 `json:"errors"`
	Batches  uint64 `json:"batches"`
}

// NewQueue starts the consumer goroutine.
func NewQueue(store CandleWriter, opts Options, metrics *monitor.Metrics, logger zerolog.Logger) *Queue {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	q := &Queue{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "persistence").Logger(),
		ch:      make(chan db.Candle, opts.Size),
	}
	q.wg.Add(1)
	go q.consume()
	return q
}

// Enqueue hands a closed candle to the consumer. It returns false when the
// queue is full or closed; the candle is dropped and counted.
func (q *Queue) Enqueue(c market.Candle) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		atomic.AddUint64(&q.stats.Dropped, 1)
		return false
	}
	select {
	case q.ch <- c.Row():
		atomic.AddUint64(&q.stats.Enqueued, 1)
		return true
	default:
		atomic.AddUint64(&q.stats.Dropped, 1)
		q.metrics.CandlePersisted("overflow")
		q.logger.Warn().Time("open_time", c.OpenTime).Msg("persistence queue full, candle dropped")
		return false
	}
}

// Pending returns the number of queued candles not yet picked up.
func (q *Queue) Pending() int {
	return len(q.ch)
}

// Stats returns the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued: atomic.LoadUint64(&q.stats.Enqueued),
		Written:  atomic.LoadUint64(&q.stats.Written),
		Dropped:  atomic.LoadUint64(&q.stats.Dropped),
		Errors:   atomic.LoadUint64(&q.stats.Errors),
		Batches:  atomic.LoadUint64(&q.stats.Batches),
	}
}

// Close stops accepting candles and waits until everything queued has been
// written or ctx expires.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) consume() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]db.Candle, 0, q.opts.MaxBatch)
	for {
		select {
		case c, ok := <-q.ch:
			if !ok {
				q.flush(batch)
				return
			}
			batch = append(batch, c)
			if len(batch) >= q.opts.MaxBatch {
				q.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				q.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes one batch. Failures are logged and the batch is dropped.
func (q *Queue) flush(batch []db.Candle) {
	if len(batch) == 0 {
		return
	}
	atomic.AddUint64(&q.stats.Batches, 1)

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.WriteTimeout)
	defer cancel()
	if err := q.store.SaveBulkCandles(ctx, batch); err != nil {
		atomic.AddUint64(&q.stats.Errors, 1)
		q.metrics.CandlePersisted("error")
		q.logger.Error().Err(err).Int("candles", len(batch)).Msg("candle batch write failed, dropped")
		return
	}
	atomic.AddUint64(&q.stats.Written, uint64(len(batch)))
	q.metrics.CandlePersisted("ok")
	q.logger.Debug().Int("candles", len(batch)).Msg("candles flushed")
}
