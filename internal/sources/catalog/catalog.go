// Package catalog serves the vault list of each chain from configuration.
package catalog

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// Catalog static, configuration-backed vault catalog.
type Catalog struct {
	vaults map[domain.Chain][]domain.VaultDescriptor
	l      *zap.Logger
}

// New validates the configured vaults and keeps only those worth reconciling:
// a positive APR and a collateral symbol outside exclude.
func New(l *zap.Logger, vaults map[domain.Chain][]domain.VaultDescriptor, exclude []string) (*Catalog, error) {
	if l == nil {
		l = zap.NewNop()
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, s := range exclude {
		excluded[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	c := &Catalog{vaults: make(map[domain.Chain][]domain.VaultDescriptor, len(vaults)), l: l}
	for chain, list := range vaults {
		if !chain.IsValid() {
			return nil, &domain.ConfigurationError{Setting: "chains." + chain.String(), Reason: "unsupported chain"}
		}

		seen := make(map[string]struct{}, len(list))
		active := make([]domain.VaultDescriptor, 0, len(list))
		for _, v := range list {
			addr, err := domain.ParseAddress("vault", v.Address)
			if err != nil {
				return nil, errors.Wrapf(err, "catalog %s", chain)
			}
			if _, dup := seen[addr]; dup {
				return nil, &domain.ConfigurationError{Setting: "chains." + chain.String() + ".vaults", Reason: "duplicate vault " + addr}
			}
			seen[addr] = struct{}{}

			v.Address = addr
			v.Chain = chain

			if !v.Yielding() {
				l.Debug("skipping vault without yield", zap.String("chain", chain.String()), zap.String("vault", addr))
				continue
			}
			if _, skip := excluded[strings.ToUpper(v.CollateralSymbol)]; skip {
				l.Debug("skipping excluded collateral", zap.String("chain", chain.String()),
					zap.String("vault", addr), zap.String("collateral", v.CollateralSymbol))
				continue
			}
			active = append(active, v)
		}
		c.vaults[chain] = active
	}

	return c, nil
}

// ListVaults returns the active vaults of chain in configuration order.
func (c *Catalog) ListVaults(_ context.Context, chain domain.Chain) ([]domain.VaultDescriptor, error) {
	list := c.vaults[chain]
	out := make([]domain.VaultDescriptor, len(list))
	copy(out, list)
	return out, nil
}
