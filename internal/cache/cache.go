// Package cache provides the timestamped key/value store used to keep reconciled
// positions between requests, together with the staleness policy applied to it.
//
// Writers are not coordinated: concurrent writes to one key race and the last
// write wins. Values are recomputable from chain state, so a lost write only
// costs one more refresh.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const keyPrefix = "vaultpnl"

// Store raw key/value backend.
type Store interface {
	// Get returns the stored value; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
}

// Entry cached value together with the time it was computed.
type Entry[T any] struct {
	UpdateTimestamp time.Time `json:"update_timestamp"`
	Data            T         `json:"data"`
}

// Load reads and decodes the entry under key. A nil entry means the key is absent.
func Load[T any](ctx context.Context, store Store, key string) (*Entry[T], error) {
	payload, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	if !ok || len(payload) == 0 {
		return nil, nil
	}

	var entry Entry[T]
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}

	return &entry, nil
}

// Save encodes data with its timestamp and overwrites key.
func Save[T any](ctx context.Context, store Store, key string, data T, ts time.Time) error {
	payload, err := json.Marshal(Entry[T]{UpdateTimestamp: ts.UTC(), Data: data})
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}

	return errors.Wrapf(store.Set(ctx, key, payload), "set %s", key)
}

// IsStale reports whether an entry written at updated is older than window at now.
// The distance is absolute, so a timestamp skewed into the future also goes stale.
func IsStale(updated, now time.Time, window time.Duration) bool {
	age := now.Sub(updated)
	if age < 0 {
		age = -age
	}
	return age > window
}

// Key builds a namespaced cache key from lower-cased parts.
func Key(ns Namespace, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(string(ns))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.ToLower(p))
	}
	return b.String()
}
