// Package keygen produces license keys of the form [PREFIX-]XXXX-XXXX-XXXX-XXXX
// from the OS random source, checked for collisions against existing keys.
package keygen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Alphabet omits 0/O and 1/I so keys survive being read aloud or retyped.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	groups          = 4
	groupLen        = 4
	defaultAttempts = 16
)

var (
	// ErrExhausted is returned when no free key was found within the attempt bound.
	ErrExhausted = errors.New("key generation attempts exhausted")
	// ErrInvalidPrefix is returned for prefixes outside [A-Z0-9]{1,16}.
	ErrInvalidPrefix = errors.New("invalid key prefix")
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

// Checker reports whether a key is already taken.
type Checker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Generator creates unique license keys.
type Generator struct {
	rand     io.Reader
	attempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand replaces the random source.
func WithRand(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// WithAttempts bounds the regenerations per key after a collision.
func WithAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// New returns a Generator reading from crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{rand: rand.Reader, attempts: defaultAttempts}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NormalizePrefix upper-cases and validates a key prefix. An empty prefix is
// allowed and stays empty.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return "", nil
	}
	if !prefixPattern.MatchString(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return p, nil
}

// Generate returns count distinct keys, none of which exist according to
// checker. The batch itself never contains duplicates.
func (g *Generator) Generate(ctx context.Context, checker Checker, count int, prefix string) ([]string, error) {
	p, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(keys) < count {
		key, err := g.next(ctx, checker, p, seen)
		if err != nil {
			return nil, err
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

func (g *Generator) next(ctx context.Context, checker Checker, prefix string, seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < g.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key, err := g.one(prefix)
		if err != nil {
			return "", err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if checker != nil {
			taken, err := checker.Exists(ctx, key)
			if err != nil {
				return "", fmt.Errorf("check key: %w", err)
			}
			if taken {
				continue
			}
		}
		return key, nil
	}
	return "", ErrExhausted
}

func (g *Generator) one(prefix string) (string, error) {
	buf := make([]byte, groups*groupLen)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('-')
	}
	for i, v := range buf {
		if i > 0 && i%groupLen == 0 {
			b.WriteByte('-')
		}
		// 256 is a multiple of len(Alphabet), so the modulo is unbiased.
		b.WriteByte(Alphabet[int(v)%len(Alphabet)])
	}
	return b.String(), nil
}

// Valid reports whether key has the generated shape, with or without prefix.
func Valid(key string) bool {
	parts := strings.Split(key, "-")
	if len(parts) == groups+1 {
		if !prefixPattern.MatchString(parts[0]) {
			return false
		}
		parts = parts[1:]
	}
	if len(parts) != groups {
		return false
	}
	for _, p := range parts {
		if len(p) != groupLen {
			return false
		}
		for _, c := range p {
			if !strings.ContainsRune(Alphabet, c) {
				return false
			}
		}
	}
	return true
}
