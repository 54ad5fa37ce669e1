// Package cache stores serialized analysis results keyed by the content of
// the inputs that produced them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Backend names
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is a byte-oriented result store. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config selects and sizes a backend
type Config struct {
	Backend       string
	TTL           time.Duration
	MaxEntries    int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// New opens the configured backend
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(cfg.TTL, cfg.MaxEntries), nil
	case BackendRedis:
		return NewRedis(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Key hashes an options fingerprint together with every input. Inputs are
// length-prefixed so that moving bytes between adjacent inputs changes the key.
func Key(fingerprint string, inputs ...[]byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", len(fingerprint), fingerprint)
	for _, in := range inputs {
		fmt.Fprintf(h, "|%d:", len(in))
		h.Write(in)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error { return nil }
func (Nop) Close() error { return nil }
