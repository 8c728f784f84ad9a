package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/faucetdb/licensor/internal/store"
	"github.com/faucetdb/licensor/internal/store/storetest"
)

// newMongo opens a store in a throwaway database. LICENSOR_TEST_MONGO_URI
// must point at a replica set, since batch inserts use transactions.
func newMongo(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LICENSOR_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set LICENSOR_TEST_MONGO_URI to run against MongoDB")
	}
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	db := client.Database("licensortest_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	t.Cleanup(func() {
		db.Drop(ctx)
		client.Disconnect(ctx)
	})

	s, err := New(ctx, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestMongoStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newMongo(t) })
}

func TestMongoUsage(t *testing.T) {
	storetest.RunUsage(t, func(t *testing.T) store.UsageStore { return newMongo(t) })
}

func TestCASUpdateMovesLastSeenForward(t *testing.T) {
	l := storetest.NewLicense("K")
	l.HWID = "hw-1"
	seen := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	l.LastSeen = &seen

	update, err := casUpdate(l)
	if err != nil {
		t.Fatalf("casUpdate: %v", err)
	}
	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("$set = %T, want bson.M", update["$set"])
	}
	if _, ok := set["_id"]; ok {
		t.Error("$set must not rewrite _id")
	}
	if _, ok := set["last_seen"]; ok {
		t.Error("last_seen must only be written through $max")
	}
	if set["hwid"] != "hw-1" {
		t.Errorf("$set.hwid = %v, want hw-1", set["hwid"])
	}
	bound, ok := update["$max"].(bson.M)
	if !ok || !seen.Equal(bound["last_seen"].(time.Time)) {
		t.Errorf("$max = %v, want last_seen %v", update["$max"], seen)
	}

	l.LastSeen = nil
	update, err = casUpdate(l)
	if err != nil {
		t.Fatalf("casUpdate: %v", err)
	}
	if _, ok := update["$max"]; ok {
		t.Error("unseen record must leave last_seen alone")
	}
}
