// Package audit delivers usage-log entries to one or more sinks without ever
// blocking or failing the license operation that produced them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faucetdb/licensor/internal/model"
)

// Sink persists or forwards usage-log entries.
type Sink interface {
	Record(ctx context.Context, e *model.UsageLogEntry) error
}

// Reader reads back the usage log of one license, newest first.
type Reader interface {
	ListUsage(ctx context.Context, key string, limit int) ([]model.UsageLogEntry, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e *model.UsageLogEntry) error

func (f SinkFunc) Record(ctx context.Context, e *model.UsageLogEntry) error { return f(ctx, e) }

// Discard drops every entry.
var Discard Sink = SinkFunc(func(context.Context, *model.UsageLogEntry) error { return nil })

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e *model.UsageLogEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each entry at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Record(ctx context.Context, e *model.UsageLogEntry) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "license usage",
		slog.String("id", e.ID),
		slog.String("license_key", e.LicenseKey),
		slog.String("action", string(e.Action)),
		slog.String("outcome", e.Outcome),
		slog.Int64("revision_before", e.RevisionBefore),
		slog.Int64("revision_after", e.RevisionAfter),
		slog.String("hwid", e.HWID),
		slog.String("actor", e.Actor.Identity),
		slog.String("ip", e.Actor.IP),
	)
	return nil
}

// Async queues entries on a bounded buffer and delivers them from a single
// worker goroutine. A full buffer drops the entry instead of blocking.
type Async struct {
	next    Sink
	logger  *slog.Logger
	timeout time.Duration
	onDrop  func(reason string)

	mu     sync.RWMutex
	closed bool
	ch     chan *model.UsageLogEntry
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

// AsyncOption configures an Async sink.
type AsyncOption func(*Async)

// WithDeliveryTimeout bounds each call into the wrapped sink.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.timeout = d }
}

// WithDropHook is called with "dropped" or "failed" for every lost entry.
func WithDropHook(fn func(reason string)) AsyncOption {
	return func(a *Async) { a.onDrop = fn }
}

// NewAsync starts the delivery worker. Call Close to flush and stop it.
func NewAsync(next Sink, buffer int, logger *slog.Logger, opts ...AsyncOption) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:    next,
		logger:  logger.With("component", "audit"),
		timeout: 5 * time.Second,
		ch:      make(chan *model.UsageLogEntry, buffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Record enqueues e and never blocks. It always returns nil.
func (a *Async) Record(_ context.Context, e *model.UsageLogEntry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(e, "dropped")
		return nil
	}
	select {
	case a.ch <- e:
	default:
		a.drop(e, "dropped")
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Record(ctx, e)
		cancel()
		if err != nil {
			a.failed.Add(1)
			a.logger.Warn("audit delivery failed", "license_key", e.LicenseKey, "action", e.Action, "error", err)
			if a.onDrop != nil {
				a.onDrop("failed")
			}
		}
	}
}

func (a *Async) drop(e *model.UsageLogEntry, reason string) {
	a.dropped.Add(1)
	a.logger.Warn("audit entry dropped", "license_key", e.LicenseKey, "action", e.Action)
	if a.onDrop != nil {
		a.onDrop(reason)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failed returns how many entries the wrapped sink rejected.
func (a *Async) Failed() int64 { return a.failed.Load() }

// Close stops accepting entries and waits for the queue to drain.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
