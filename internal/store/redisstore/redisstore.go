// Package redisstore implements store.Store on Redis. Each license is a JSON
// string; a sorted set with equal scores keeps keys in lexical order for
// listing. The conditional write uses WATCH/MULTI on the license key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

const (
	batchRetries = 3
	scanChunk    = 500
)

// Store is a Redis-backed license store.
type Store struct {
	client *redis.Client
	prefix string
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Open adapts New to store.Factory.
func Open(ctx context.Context, cfg store.Config) (store.Store, error) {
	client, err := Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "licensor"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) licenseKey(key string) string { return s.prefix + ":license:" + key }
func (s *Store) indexKey() string             { return s.prefix + ":licenses" }
func (s *Store) usageKey(key string) string   { return s.prefix + ":usage:" + key }

func (s *Store) Get(ctx context.Context, key string) (*model.License, error) {
	raw, err := s.client.Get(ctx, s.licenseKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return decode(raw)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.licenseKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check license key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, l *model.License) error {
	return s.InsertBatch(ctx, []*model.License{l})
}

func (s *Store) InsertBatch(ctx context.Context, ls []*model.License) error {
	keys := make([]string, len(ls))
	payloads := make([][]byte, len(ls))
	seen := make(map[string]struct{}, len(ls))
	for i, l := range ls {
		if _, dup := seen[l.Key]; dup {
			return store.ErrDuplicateKey
		}
		seen[l.Key] = struct{}{}
		keys[i] = s.licenseKey(l.Key)
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode license %s: %w", l.Key, err)
		}
		payloads[i] = b
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicateKey
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			members := make([]redis.Z, len(ls))
			for i, l := range ls {
				p.Set(ctx, keys[i], payloads[i], 0)
				members[i] = redis.Z{Score: 0, Member: l.Key}
			}
			p.ZAdd(ctx, s.indexKey(), members...)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < batchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("insert licenses: %w", err)
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) CompareAndSwap(ctx context.Context, expected int64, l *model.License) error {
	k := s.licenseKey(l.Key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.ServerRevision != expected {
			return store.ErrConflict
		}
		next := l.Clone()
		next.LastSeen = store.LatestSeen(cur.LastSeen, next.LastSeen)
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode license: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, payload, 0)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return store.ErrConflict
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return err
	default:
		return fmt.Errorf("update license: %w", err)
	}
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*model.License, int, error) {
	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}
	if limit <= 0 {
		limit = int(total)
	}
	if limit == 0 {
		return []*model.License{}, int(total), nil
	}
	keys, err := s.client.ZRange(ctx, s.indexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	ls, err := s.load(ctx, keys)
	if err != nil {
		return nil, 0, err
	}
	return ls, int(total), nil
}

func (s *Store) Scan(ctx context.Context, fn func(*model.License) error) error {
	for start := int64(0); ; start += scanChunk {
		keys, err := s.client.ZRange(ctx, s.indexKey(), start, start+scanChunk-1).Result()
		if err != nil {
			return fmt.Errorf("scan licenses: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}
		ls, err := s.load(ctx, keys)
		if err != nil {
			return err
		}
		for _, l := range ls {
			if err := fn(l); err != nil {
				return err
			}
		}
		if len(keys) < scanChunk {
			return nil
		}
	}
}

func (s *Store) load(ctx context.Context, keys []string) ([]*model.License, error) {
	if len(keys) == 0 {
		return []*model.License{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.licenseKey(k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	out := make([]*model.License, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		l, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Record prepends a usage entry to the key's usage list.
func (s *Store) Record(ctx context.Context, e *model.UsageLogEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	if err := s.client.LPush(ctx, s.usageKey(e.LicenseKey), b).Err(); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest usage entries for key first.
func (s *Store) ListUsage(ctx context.Context, key string, limit int) ([]model.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	vals, err := s.client.LRange(ctx, s.usageKey(key), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	out := make([]model.UsageLogEntry, 0, len(vals))
	for _, v := range vals {
		var e model.UsageLogEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decode(raw []byte) (*model.License, error) {
	var l model.License
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode license: %w", err)
	}
	return &l, nil
}
