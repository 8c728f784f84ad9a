package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/faucetdb/licensor/internal/store"
	"github.com/faucetdb/licensor/internal/store/storetest"
)

func newSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), store.Config{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newSQLite(t) })
}

func TestSQLiteUsage(t *testing.T) {
	storetest.RunUsage(t, func(t *testing.T) store.UsageStore { return newSQLite(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), store.Config{Driver: "snowflake"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPrepareDSN(t *testing.T) {
	got, err := prepareDSN("sqlite", "")
	if err != nil || got != ":memory:" {
		t.Errorf("prepareDSN(sqlite, \"\") = %q, %v; want %q", got, err, ":memory:")
	}

	got, err = prepareDSN("mysql", "user:pass@tcp(localhost:3306)/lic")
	if err != nil {
		t.Fatalf("prepareDSN(mysql): %v", err)
	}
	for _, want := range []string{"parseTime=true", "clientFoundRows=true"} {
		if !strings.Contains(got, want) {
			t.Errorf("mysql dsn %q missing %q", got, want)
		}
	}
}

func TestNamedParams(t *testing.T) {
	got := namedParams("a, b,\n\tc")
	if got != ":a, :b, :c" {
		t.Errorf("namedParams = %q, want %q", got, ":a, :b, :c")
	}
}

func TestIsDuplicateIgnoresOtherErrors(t *testing.T) {
	if isDuplicate(fmt.Errorf("boom")) {
		t.Error("plain error reported as duplicate")
	}
}
