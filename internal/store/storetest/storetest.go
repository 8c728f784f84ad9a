// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

// NewLicense builds an unbound active license at revision 1.
func NewLicense(key string) *model.License {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &model.License{
		Key:            key,
		CreatedAt:      now,
		ExpiryDays:     365,
		Edition:        model.EditionPro,
		State:          model.StateActive,
		ServerRevision: 1,
		UpdatedAt:      now,
	}
}

// Run exercises the store.Store contract against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		l := NewLicense("AAAA-BBBB")
		l.OwnerEmail = "owner@example.com"
		require.NoError(t, s.Insert(ctx, l))

		got, err := s.Get(ctx, "AAAA-BBBB")
		require.NoError(t, err)
		assert.Equal(t, l.Key, got.Key)
		assert.Equal(t, l.Edition, got.Edition)
		assert.Equal(t, l.ExpiryDays, got.ExpiryDays)
		assert.Equal(t, int64(1), got.ServerRevision)
		assert.Equal(t, "owner@example.com", got.OwnerEmail)
		assert.Empty(t, got.HWID)
		assert.Nil(t, got.LastSeen)
		assert.True(t, l.CreatedAt.Equal(got.CreatedAt), "created_at = %v, want %v", got.CreatedAt, l.CreatedAt)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "NOPE")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, NewLicense("DUP")))
		assert.ErrorIs(t, s.Insert(ctx, NewLicense("DUP")), store.ErrDuplicateKey)

		ok, err := s.Exists(ctx, "DUP")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("InsertBatchAllOrNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, NewLicense("K2")))

		err := s.InsertBatch(ctx, []*model.License{NewLicense("K1"), NewLicense("K2"), NewLicense("K3")})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)

		for _, k := range []string{"K1", "K3"} {
			ok, err := s.Exists(ctx, k)
			require.NoError(t, err)
			assert.False(t, ok, "%s persisted from a failed batch", k)
		}

		require.NoError(t, s.InsertBatch(ctx, []*model.License{NewLicense("K1"), NewLicense("K3")}))
		_, total, err := s.List(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, NewLicense("CAS")))

		next := NewLicense("CAS")
		next.HWID = "hw-1"
		next.ServerRevision = 2
		seen := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
		next.LastSeen = &seen
		require.NoError(t, s.CompareAndSwap(ctx, 1, next))

		stale := NewLicense("CAS")
		stale.HWID = "hw-2"
		stale.ServerRevision = 2
		assert.ErrorIs(t, s.CompareAndSwap(ctx, 1, stale), store.ErrConflict)

		got, err := s.Get(ctx, "CAS")
		require.NoError(t, err)
		assert.Equal(t, "hw-1", got.HWID)
		assert.Equal(t, int64(2), got.ServerRevision)
		require.NotNil(t, got.LastSeen)
		assert.True(t, seen.Equal(*got.LastSeen))

		assert.ErrorIs(t, s.CompareAndSwap(ctx, 1, NewLicense("GONE")), store.ErrNotFound)
	})

	t.Run("CompareAndSwapKeepsLatestSeen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, NewLicense("SEEN")))

		early := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
		late := early.Add(time.Hour)

		// A contact touch writes last_seen at the same revision.
		touched := NewLicense("SEEN")
		touched.HWID = "hw-1"
		touched.LastSeen = &late
		require.NoError(t, s.CompareAndSwap(ctx, 1, touched))

		// A mutation computed from an older read carries the earlier value.
		bumped := NewLicense("SEEN")
		bumped.HWID = "hw-1"
		bumped.ServerRevision = 2
		bumped.ExpiryDays = 395
		bumped.LastSeen = &early
		require.NoError(t, s.CompareAndSwap(ctx, 1, bumped))

		got, err := s.Get(ctx, "SEEN")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.ServerRevision)
		assert.Equal(t, 395, got.ExpiryDays)
		require.NotNil(t, got.LastSeen)
		assert.True(t, late.Equal(*got.LastSeen), "last_seen = %v, want %v", got.LastSeen, late)

		unseen := NewLicense("SEEN")
		unseen.HWID = "hw-1"
		unseen.ServerRevision = 3
		require.NoError(t, s.CompareAndSwap(ctx, 2, unseen))

		got, err = s.Get(ctx, "SEEN")
		require.NoError(t, err)
		require.NotNil(t, got.LastSeen)
		assert.True(t, late.Equal(*got.LastSeen), "last_seen = %v, want %v", got.LastSeen, late)
	})

	t.Run("ConcurrentCompareAndSwapOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, NewLicense("RACE")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := NewLicense("RACE")
				next.HWID = fmt.Sprintf("hw-%d", i)
				next.ServerRevision = 2
				if err := s.CompareAndSwap(ctx, 1, next); err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ListAndScan", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"C", "A", "B", "D"} {
			require.NoError(t, s.Insert(ctx, NewLicense(k)))
		}

		page, total, err := s.List(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 2)
		assert.Equal(t, "B", page[0].Key)
		assert.Equal(t, "C", page[1].Key)

		var keys []string
		require.NoError(t, s.Scan(ctx, func(l *model.License) error {
			keys = append(keys, l.Key)
			return nil
		}))
		assert.Equal(t, []string{"A", "B", "C", "D"}, keys)
	})
}

// RunUsage exercises the store.UsageStore contract.
func RunUsage(t *testing.T, newStore func(t *testing.T) store.UsageStore) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []model.Action{model.ActionCreate, model.ActionActivate, model.ActionSync} {
		e := &model.UsageLogEntry{
			ID:         fmt.Sprintf("entry-%d", i),
			LicenseKey: "U1",
			Action:     action,
			Outcome:    "OK",
			Actor:      model.Actor{Identity: "admin@example.com", IP: "10.0.0.1"},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Record(ctx, e))
	}

	entries, err := s.ListUsage(ctx, "U1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActionSync, entries[0].Action)
	assert.Equal(t, model.ActionActivate, entries[1].Action)
	assert.Equal(t, "10.0.0.1", entries[0].Actor.IP)

	none, err := s.ListUsage(ctx, "OTHER", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
