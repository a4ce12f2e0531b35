package cache

import (
	"context"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// Backend kind of store selected by configuration.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendWAL    Backend = "wal"
	BackendMemory Backend = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend
	Redis   RedisOptions
	WALDir  string
}

// Open builds the configured Store. The returned close func is never nil.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendWAL:
		s, err := NewWALStore(opts.WALDir)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	case "":
		return nil, noop, &domain.ConfigurationError{Setting: "cache.backend"}
	default:
		return nil, noop, &domain.ConfigurationError{Setting: "cache.backend", Reason: "unknown backend " + string(opts.Backend)}
	}
}
