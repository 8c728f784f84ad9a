// Package memory is an in-process Store used for tests, local development
// and single-node deployments that accept losing state on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

// Store keeps licenses and usage entries in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	licenses map[string]*model.License
	usage    map[string][]model.UsageLogEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		licenses: make(map[string]*model.License),
		usage:    make(map[string][]model.UsageLogEntry),
	}
}

// Open adapts New to store.Factory.
func Open(_ context.Context, _ store.Config) (store.Store, error) {
	return New(), nil
}

func (s *Store) Get(_ context.Context, key string) (*model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.licenses[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.licenses[key]
	return ok, nil
}

func (s *Store) Insert(_ context.Context, l *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[l.Key]; ok {
		return store.ErrDuplicateKey
	}
	s.licenses[l.Key] = l.Clone()
	return nil
}

func (s *Store) InsertBatch(_ context.Context, ls []*model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(ls))
	for _, l := range ls {
		if _, ok := s.licenses[l.Key]; ok {
			return store.ErrDuplicateKey
		}
		if _, ok := seen[l.Key]; ok {
			return store.ErrDuplicateKey
		}
		seen[l.Key] = struct{}{}
	}
	for _, l := range ls {
		s.licenses[l.Key] = l.Clone()
	}
	return nil
}

func (s *Store) CompareAndSwap(_ context.Context, expected int64, l *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.licenses[l.Key]
	if !ok {
		return store.ErrNotFound
	}
	if cur.ServerRevision != expected {
		return store.ErrConflict
	}
	next := l.Clone()
	next.LastSeen = store.LatestSeen(cur.LastSeen, next.LastSeen)
	s.licenses[l.Key] = next
	return nil
}

func (s *Store) List(_ context.Context, offset, limit int) ([]*model.License, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.sortedKeys()
	total := len(keys)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]*model.License, 0, end-offset)
	for _, k := range keys[offset:end] {
		out = append(out, s.licenses[k].Clone())
	}
	return out, total, nil
}

func (s *Store) Scan(ctx context.Context, fn func(*model.License) error) error {
	s.mu.RLock()
	snapshot := make([]*model.License, 0, len(s.licenses))
	for _, k := range s.sortedKeys() {
		snapshot = append(snapshot, s.licenses[k].Clone())
	}
	s.mu.RUnlock()

	for _, l := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// Record appends a usage entry for its license key.
func (s *Store) Record(_ context.Context, e *model.UsageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage[e.LicenseKey] = append(s.usage[e.LicenseKey], *e)
	return nil
}

// ListUsage returns the newest entries for key first.
func (s *Store) ListUsage(_ context.Context, key string, limit int) ([]model.UsageLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.usage[key]
	n := len(entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.UsageLogEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close() error                 { return nil }

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.licenses))
	for k := range s.licenses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
