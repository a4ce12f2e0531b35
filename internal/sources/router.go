// Package sources dispatches event and valuation reads to the implementation configured per chain.
package sources

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// EventSource reads the ledger events of a (user, vault) pair.
type EventSource interface {
	EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error)
	SupportsResume(chain domain.Chain) bool
	OrdinalKind(chain domain.Chain) domain.OrdinalKind
}

// ValuationSource reads the redeemable value of a position.
type ValuationSource interface {
	RedeemableValue(ctx context.Context, chain domain.Chain, vault, user string) (decimal.Decimal, error)
}

// Router single point of dispatch to per-chain sources.
type Router struct {
	events    map[domain.Chain]EventSource
	valuation map[domain.Chain]ValuationSource
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		events:    make(map[domain.Chain]EventSource),
		valuation: make(map[domain.Chain]ValuationSource),
	}
}

// Register routes chain to the given sources. Registering a chain twice replaces it.
func (r *Router) Register(chain domain.Chain, events EventSource, valuation ValuationSource) {
	r.events[chain] = events
	r.valuation[chain] = valuation
}

// Chains returns the registered chains.
func (r *Router) Chains() []domain.Chain {
	out := make([]domain.Chain, 0, len(r.events))
	for _, c := range domain.Chains() {
		if _, ok := r.events[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// EventsFor forwards to the event source of q.Chain.
func (r *Router) EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error) {
	s, ok := r.events[q.Chain]
	if !ok {
		return nil, unsupported(q.Chain)
	}
	return s.EventsFor(ctx, q)
}

// SupportsResume reports whether the event source of chain can resume from a watermark.
func (r *Router) SupportsResume(chain domain.Chain) bool {
	s, ok := r.events[chain]
	return ok && s.SupportsResume(chain)
}

// OrdinalKind reports what the event ordinals of chain count, empty for an unknown chain.
func (r *Router) OrdinalKind(chain domain.Chain) domain.OrdinalKind {
	s, ok := r.events[chain]
	if !ok {
		return ""
	}
	return s.OrdinalKind(chain)
}

// RedeemableValue forwards to the valuation source of chain.
func (r *Router) RedeemableValue(ctx context.Context, chain domain.Chain, vault, user string) (decimal.Decimal, error) {
	s, ok := r.valuation[chain]
	if !ok {
		return decimal.Zero, unsupported(chain)
	}
	return s.RedeemableValue(ctx, chain, vault, user)
}

func unsupported(chain domain.Chain) error {
	return &domain.ValidationError{Field: "chain", Value: chain.String(), Err: domain.ErrUnsupportedChain}
}
