package cache

import (
	"time"

	"github.com/pkg/errors"
)

// Namespace groups cache keys sharing one freshness window.
type Namespace string

const (
	// NamespaceVaults vault catalog per chain.
	NamespaceVaults Namespace = "vaults"
	// NamespacePositions every snapshot of a user on a chain.
	NamespacePositions Namespace = "positions"
	// NamespacePosition snapshot of a user in a single vault.
	NamespacePosition Namespace = "position"
	// NamespaceWatermark scan progress; never checked for staleness.
	NamespaceWatermark Namespace = "watermark"
)

// DefaultFreshness windows applied when configuration does not override them.
// Vault-wide data is shared across users and cheap to rebuild, so it refreshes faster.
func DefaultFreshness() Freshness {
	return Freshness{
		NamespaceVaults:    20 * time.Minute,
		NamespacePositions: 60 * time.Minute,
		NamespacePosition:  60 * time.Minute,
	}
}

// Freshness maximum entry age per namespace.
type Freshness map[Namespace]time.Duration

// Window returns the freshness window for ns.
func (f Freshness) Window(ns Namespace) (time.Duration, error) {
	w, ok := f[ns]
	if !ok {
		return 0, errors.Errorf("no freshness window for namespace %q", ns)
	}
	return w, nil
}

// Fresh reports whether an entry of ns written at updated may be served at now.
// Namespaces without a window are never fresh.
func (f Freshness) Fresh(ns Namespace, updated, now time.Time) bool {
	w, err := f.Window(ns)
	if err != nil {
		return false
	}
	return !IsStale(updated, now, w)
}

// With returns a copy of f with the given overrides applied.
func (f Freshness) With(overrides map[Namespace]time.Duration) Freshness {
	out := make(Freshness, len(f)+len(overrides))
	for ns, w := range f {
		out[ns] = w
	}
	for ns, w := range overrides {
		out[ns] = w
	}
	return out
}
