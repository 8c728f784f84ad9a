package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/licensor/internal/model"
)

// StatisticsFunc computes a fresh statistics snapshot.
type StatisticsFunc func(ctx context.Context) (model.Statistics, error)

// Refresher periodically recomputes statistics and pushes them into the
// collector's gauges.
type Refresher struct {
	collector *Collector
	fn        StatisticsFunc
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a Refresher. A non-positive interval defaults to one
// minute.
func NewRefresher(c *Collector, fn StatisticsFunc, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		collector: c,
		fn:        fn,
		interval:  interval,
		logger:    logger.With("component", "metrics"),
		now:       time.Now,
	}
}

// Start begins the background loop. It refreshes immediately and then on
// every tick. Non-blocking.
func (r *Refresher) Start() {
	if r == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.Refresh(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and waits for it to exit.
func (r *Refresher) Shutdown() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Refresh runs one computation. Failures keep the previous gauge values.
func (r *Refresher) Refresh(ctx context.Context) {
	st, err := r.fn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("statistics refresh failed", "error", err)
		}
		return
	}
	r.collector.SetStatistics(st, r.now())
}
