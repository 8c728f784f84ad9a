package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type pingFailStore struct {
	Store
	closed bool
}

func (p *pingFailStore) Ping(context.Context) error { return errors.New("unreachable") }
func (p *pingFailStore) Close() error               { p.closed = true; return nil }

func TestRegistryUnknownDriver(t *testing.T) {
	r := NewRegistry()
	_, err := r.Open(context.Background(), Config{Driver: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unsupported store driver") {
		t.Errorf("error = %q, want unsupported store driver", err.Error())
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("broken", func(context.Context, Config) (Store, error) {
		return nil, errors.New("boom")
	})
	_, err := r.Open(context.Background(), Config{Driver: "broken"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Open error = %v, want wrapped boom", err)
	}
}

func TestRegistryPingFailureCloses(t *testing.T) {
	r := NewRegistry()
	s := &pingFailStore{}
	r.RegisterDriver("flaky", func(context.Context, Config) (Store, error) { return s, nil })

	if _, err := r.Open(context.Background(), Config{Driver: "flaky"}); err == nil {
		t.Fatal("expected ping error")
	}
	if !s.closed {
		t.Error("store was not closed after failed ping")
	}
}

func TestRegistryDriversSorted(t *testing.T) {
	r := NewRegistry()
	for _, d := range []string{"sqlite", "memory", "redis"} {
		r.RegisterDriver(d, func(context.Context, Config) (Store, error) { return nil, nil })
	}
	got := strings.Join(r.Drivers(), ",")
	if got != "memory,redis,sqlite" {
		t.Errorf("Drivers = %q, want %q", got, "memory,redis,sqlite")
	}
}
