// Package store defines the persistence contract for licenses and their
// usage log. Backends live in sub-packages and are selected by driver name
// through a Registry.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/faucetdb/licensor/internal/model"
)

var (
	// ErrNotFound is returned when no license exists for a key.
	ErrNotFound = errors.New("license not found")
	// ErrConflict is returned by CompareAndSwap when the stored revision no
	// longer matches the expected one.
	ErrConflict = errors.New("revision conflict")
	// ErrDuplicateKey is returned when inserting a key that already exists.
	ErrDuplicateKey = errors.New("duplicate license key")
)

// Store is durable keyed storage for licenses with a conditional write on
// server_revision. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the license stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*model.License, error)
	// Exists reports whether key is already taken.
	Exists(ctx context.Context, key string) (bool, error)
	// Insert persists a new license, failing with ErrDuplicateKey.
	Insert(ctx context.Context, l *model.License) error
	// InsertBatch persists every license or none of them. Any existing key
	// fails the whole batch with ErrDuplicateKey.
	InsertBatch(ctx context.Context, ls []*model.License) error
	// CompareAndSwap replaces the record for l.Key only if its stored
	// server_revision equals expected. It returns ErrConflict on a revision
	// mismatch and ErrNotFound if the key vanished. last_seen never moves
	// backwards: a stored value later than l.LastSeen is kept, since contact
	// touches do not bump the revision.
	CompareAndSwap(ctx context.Context, expected int64, l *model.License) error
	// List returns a page of licenses ordered by key, plus the total count.
	List(ctx context.Context, offset, limit int) ([]*model.License, int, error)
	// Scan calls fn for every license. Returning an error from fn stops the scan.
	Scan(ctx context.Context, fn func(*model.License) error) error
	Ping(ctx context.Context) error
	Close() error
}

// UsageStore is implemented by backends that can persist and read back the
// usage log alongside the licenses.
type UsageStore interface {
	Record(ctx context.Context, e *model.UsageLogEntry) error
	ListUsage(ctx context.Context, key string, limit int) ([]model.UsageLogEntry, error)
}

// Config holds the connection parameters for a backend.
type Config struct {
	Driver          string
	DSN             string
	Database        string // mongo database name
	KeyPrefix       string // redis key namespace
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns an in-memory configuration with pool defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          "memory",
		Database:        "licensor",
		KeyPrefix:       "licensor",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// LatestSeen returns the later of two last_seen values. A nil value loses to
// any set one.
func LatestSeen(stored, next *time.Time) *time.Time {
	if stored != nil && (next == nil || stored.After(*next)) {
		t := *stored
		return &t
	}
	return next
}
