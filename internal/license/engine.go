// Package license is the activation and synchronization engine. Every
// mutation follows the same path: read the record, compute its successor
// with a pure transition, then write it back conditionally on the revision
// that was read, retrying on conflict within a fixed bound.
package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/faucetdb/licensor/internal/audit"
	"github.com/faucetdb/licensor/internal/keygen"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

const (
	// DefaultExtensionDays is used by Renew when no extension is given.
	DefaultExtensionDays = 365
	// DefaultMaxAttempts bounds the read-compute-write loop.
	DefaultMaxAttempts = 8
	// DefaultMaxBulk bounds BulkGenerate counts.
	DefaultMaxBulk = 10000
	// DefaultHistoryLimit is the page size for History.
	DefaultHistoryLimit = 100
)

// Observer receives per-operation measurements.
type Observer interface {
	ObserveOperation(op Operation, status Status, elapsed time.Duration)
	ObserveConflict(op Operation)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(Operation, Status, time.Duration) {}
func (nopObserver) ObserveConflict(Operation)                        {}

// Engine runs license operations against a store.
type Engine struct {
	store       store.Store
	audit       audit.Sink
	history     audit.Reader
	authorizer  Authorizer
	keys        *keygen.Generator
	observer    Observer
	logger      *slog.Logger
	validator   *validator.Validate
	now         func() time.Time
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	maxBulk     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAuditSink sets where usage-log entries go.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.audit = s }
}

// WithHistoryReader enables History.
func WithHistoryReader(r audit.Reader) Option {
	return func(e *Engine) { e.history = r }
}

// WithAuthorizer gates admin operations.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.authorizer = a }
}

// WithKeyGenerator replaces the default key generator.
func WithKeyGenerator(g *keygen.Generator) Option {
	return func(e *Engine) { e.keys = g }
}

// WithObserver receives operation metrics.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxAttempts bounds the conflict retry loop.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the jittered delay range between attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(e *Engine) {
		e.backoffMin = min
		e.backoffMax = max
	}
}

// WithMaxBulk bounds BulkGenerate counts.
func WithMaxBulk(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBulk = n
		}
	}
}

// New creates an Engine over s. Without options it allows every caller,
// discards audit entries, and uses the wall clock.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		audit:       audit.Discard,
		authorizer:  AllowAll,
		keys:        keygen.New(),
		observer:    nopObserver{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		validator:   newValidator(),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		backoffMin:  2 * time.Millisecond,
		backoffMax:  20 * time.Millisecond,
		maxBulk:     DefaultMaxBulk,
	}
	if r, ok := s.(audit.Reader); ok {
		e.history = r
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "license")
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// decision is the result of a pure transition. A nil next means the record
// is left untouched.
type decision struct {
	status Status
	next   *model.License
	detail string
}

// outcome is what apply observed: the record as read, the record as written
// (equal to before when nothing was written) and the resulting status.
type outcome struct {
	status Status
	before *model.License
	after  *model.License
	detail string
}

// apply runs transition against the current record for key until the
// conditional write lands, the transition declines to write, or the attempt
// bound is reached.
func (e *Engine) apply(ctx context.Context, op Operation, key string, transition func(cur *model.License, now time.Time) decision) outcome {
	var lastErr error
	var lastRead *model.License

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		cur, err := e.store.Get(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return outcome{status: StatusInvalidKey}
		case err != nil:
			lastErr = err
		default:
			lastRead = cur
			d := transition(cur.Clone(), e.clock())
			if d.next == nil {
				return outcome{status: d.status, before: cur, after: cur, detail: d.detail}
			}

			err = e.store.CompareAndSwap(ctx, cur.ServerRevision, d.next)
			switch {
			case err == nil:
				return outcome{status: d.status, before: cur, after: d.next, detail: d.detail}
			case errors.Is(err, store.ErrNotFound):
				return outcome{status: StatusInvalidKey}
			case errors.Is(err, store.ErrConflict):
				e.observer.ObserveConflict(op)
				e.logger.Debug("revision conflict", "op", op, "license_key", key, "attempt", attempt)
			default:
				lastErr = err
			}
		}

		if attempt < e.maxAttempts && !e.sleep(ctx, attempt) {
			lastErr = ctx.Err()
			break
		}
	}

	if lastErr != nil {
		e.logger.Error("license write failed", "op", op, "license_key", key, "error", lastErr)
	} else {
		e.logger.Warn("license write abandoned after conflicts", "op", op, "license_key", key, "attempts", e.maxAttempts)
	}
	return outcome{status: StatusError, before: lastRead, after: lastRead}
}

// retry runs fn until it succeeds, returns a permanent error, or the
// attempt bound is reached. It is used for plain inserts.
func (e *Engine) retry(ctx context.Context, fn func() error, permanent func(error) bool) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err = fn(); err == nil || permanent(err) {
			return err
		}
		if attempt < e.maxAttempts && !e.sleep(ctx, attempt) {
			return ctx.Err()
		}
	}
	return err
}

// sleep waits a jittered, exponentially growing delay. It reports false if
// ctx ended first.
func (e *Engine) sleep(ctx context.Context, attempt int) bool {
	if e.backoffMax <= 0 {
		return ctx.Err() == nil
	}
	d := e.backoffMin << (attempt - 1)
	if d <= 0 || d > e.backoffMax {
		d = e.backoffMax
	}
	d = d/2 + rand.N(d/2+1)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// authorize reports whether the caller in ctx may run op.
func (e *Engine) authorize(ctx context.Context, op Operation) bool {
	caller := CallerFrom(ctx)
	if e.authorizer.IsAuthorized(ctx, caller, op) {
		return true
	}
	e.logger.Info("operation forbidden", "op", op, "caller", caller.Identity)
	return false
}

// record emits one usage-log entry. Sink errors are logged and never reach
// the caller.
func (e *Engine) record(ctx context.Context, action model.Action, key, hwid string, o outcome) {
	caller := CallerFrom(ctx)
	entry := &model.UsageLogEntry{
		ID:         newID(),
		LicenseKey: key,
		Action:     action,
		Outcome:    string(o.status),
		HWID:       hwid,
		Actor: model.Actor{
			Identity:  caller.Identity,
			IP:        caller.IP,
			UserAgent: caller.UserAgent,
		},
		Detail:    o.detail,
		CreatedAt: e.clock(),
	}
	entry.Before(o.before)
	entry.After(o.after)

	if err := e.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("audit record failed", "action", action, "license_key", key, "error", err)
	}
}

func (e *Engine) track(op Operation, start time.Time, status *Status) {
	e.observer.ObserveOperation(op, *status, time.Since(start))
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
