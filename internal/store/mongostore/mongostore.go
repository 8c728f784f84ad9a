// Package mongostore implements store.Store on MongoDB. The license key is
// the document _id, and the conditional write is an UpdateOne filtered on
// server_revision. Batch inserts run in a transaction, which requires a
// replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/store"
)

const (
	defaultLicenseCollection = "licenses"
	defaultUsageCollection   = "license_usage"
)

var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Option configures a Store.
type Option func(*Store)

// WithCollectionNames overrides the license and usage collection names.
func WithCollectionNames(licenses, usage string) Option {
	return func(s *Store) {
		s.licenseName = licenses
		s.usageName = usage
	}
}

// Store is a MongoDB-backed license store.
type Store struct {
	client      *mongo.Client
	licenses    *mongo.Collection
	usage       *mongo.Collection
	licenseName string
	usageName   string
	ownsClient  bool
}

// Open connects to cfg.DSN and uses cfg.Database.
func Open(ctx context.Context, cfg store.Config) (store.Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "licensor"
	}
	s, err := New(ctx, client.Database(dbName))
	if err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// New creates a store over an existing database handle and ensures indexes.
func New(ctx context.Context, db *mongo.Database, opts ...Option) (*Store, error) {
	s := &Store{
		client:      db.Client(),
		licenseName: defaultLicenseCollection,
		usageName:   defaultUsageCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range []string{s.licenseName, s.usageName} {
		if !validCollectionName.MatchString(name) {
			return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	s.licenses = db.Collection(s.licenseName)
	s.usage = db.Collection(s.usageName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.usage.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "license_key", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) (*model.License, error) {
	var l model.License
	err := s.licenses.FindOne(ctx, bson.M{"_id": key}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &l, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.licenses.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check license key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, l *model.License) error {
	if _, err := s.licenses.InsertOne(ctx, l); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, ls []*model.License) error {
	docs := make([]interface{}, len(ls))
	for i, l := range ls {
		docs[i] = l
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return s.licenses.InsertMany(ctx, docs)
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert license batch: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expected int64, l *model.License) error {
	update, err := casUpdate(l)
	if err != nil {
		return err
	}
	res, err := s.licenses.UpdateOne(ctx, bson.M{"_id": l.Key, "server_revision": expected}, update)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	exists, err := s.Exists(ctx, l.Key)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// casUpdate sets every stored field of l except last_seen, which only moves
// forward through $max.
func casUpdate(l *model.License) (bson.M, error) {
	raw, err := bson.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode license: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode license: %w", err)
	}
	delete(fields, "_id")
	delete(fields, "last_seen")

	update := bson.M{"$set": fields}
	if l.LastSeen != nil {
		update["$max"] = bson.M{"last_seen": l.LastSeen.UTC()}
	}
	return update, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*model.License, int, error) {
	total, err := s.licenses.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.licenses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	var ls []*model.License
	if err := cursor.All(ctx, &ls); err != nil {
		return nil, 0, fmt.Errorf("decode licenses: %w", err)
	}
	return ls, int(total), nil
}

func (s *Store) Scan(ctx context.Context, fn func(*model.License) error) error {
	cursor, err := s.licenses.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("scan licenses: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var l model.License
		if err := cursor.Decode(&l); err != nil {
			return fmt.Errorf("decode license: %w", err)
		}
		if err := fn(&l); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Record inserts a usage entry into the usage collection.
func (s *Store) Record(ctx context.Context, e *model.UsageLogEntry) error {
	if _, err := s.usage.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest usage entries for key first.
func (s *Store) ListUsage(ctx context.Context, key string, limit int) ([]model.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.usage.Find(ctx, bson.M{"license_key": key}, opts)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	var out []model.UsageLogEntry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	if !s.ownsClient {
		return nil // caller manages the client lifecycle
	}
	return s.client.Disconnect(context.Background())
}
