package cache

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

const (
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	walDirPermissions   = 0o755
)

// WALStore Store persisted in a local write-ahead log. Every Set appends a record;
// on open the log is replayed and the last record per key wins.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	latest map[string][]byte
}

// NewWALStore opens (or creates) the log under dir and replays it.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		return nil, &domain.ConfigurationError{Setting: "cache.wal.dir"}
	}
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "cache_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init cache WAL")
	}

	latest := make(map[string][]byte)
	for msg := range wal.Iterator() {
		latest[msg.Key] = msg.Value
	}

	return &WALStore{wal: wal, latest: latest}, nil
}

// Get implements Store.
func (s *WALStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.wal == nil {
		return nil, false, errors.New("cache WAL is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.latest[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// Set implements Store.
func (s *WALStore) Set(_ context.Context, key string, value []byte) error {
	if s == nil || s.wal == nil {
		return errors.New("cache WAL is not initialized")
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, stored); err != nil {
		return errors.Wrap(err, "write cache WAL")
	}
	s.latest[key] = stored

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("cache WAL is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
