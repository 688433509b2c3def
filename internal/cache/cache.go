// Package cache wraps a shared external key-value store behind a
// get/set/delete/clear interface. Values are plain strings with no TTL and
// keys are not namespaced.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comigor/webgpt-go/internal/config"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Store is the key-value cache adapter.
type Store interface {
	Set(ctx context.Context, key, value string) error
	// Get reports ok=false for a missing key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// Clear removes every key in the underlying store, including keys this
	// adapter never wrote. Anything else sharing the store loses its data.
	Clear(ctx context.Context) error
	Close() error
}

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Open builds the store selected by cfg.Backend. It returns (nil, nil) when
// no backend is configured.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLite.Path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
