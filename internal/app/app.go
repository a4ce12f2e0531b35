// Package app wires configuration into a running reconciliation service.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/config"
	"github.com/vadiminshakov/vaultpnl/internal/cache"
	"github.com/vadiminshakov/vaultpnl/internal/domain"
	"github.com/vadiminshakov/vaultpnl/internal/metrics"
	"github.com/vadiminshakov/vaultpnl/internal/reconcile"
	"github.com/vadiminshakov/vaultpnl/internal/sources"
	"github.com/vadiminshakov/vaultpnl/internal/sources/catalog"
	"github.com/vadiminshakov/vaultpnl/internal/sources/evm"
	"github.com/vadiminshakov/vaultpnl/internal/sources/indexer"
	"github.com/vadiminshakov/vaultpnl/internal/web"
)

// App assembled service.
type App struct {
	// Orchestrator is nil when the cache store could not be configured; CacheErr says why.
	Orchestrator *reconcile.Orchestrator
	CacheErr     error
	Server       *web.Server
	Metrics      *metrics.Metrics

	closers []func() error
	l       *zap.Logger
}

// New connects every configured source and the cache store.
func New(ctx context.Context, cfg *config.Config, l *zap.Logger, reg *prometheus.Registry) (*App, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	a := &App{Metrics: metrics.New(reg), l: l}

	cat, err := catalog.New(l.Named("catalog"), cfg.Vaults(), cfg.ExcludeCollateral)
	if err != nil {
		return nil, errors.Wrap(err, "build catalog")
	}

	router, err := a.buildRouter(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	store, closeStore, err := cache.Open(ctx, cfg.Cache)
	a.closers = append(a.closers, closeStore)
	switch {
	case domain.IsConfiguration(err):
		l.Error("cache store not configured, reconciliation requests will fail", zap.Error(err))
		a.CacheErr = err
	case err != nil:
		_ = a.Close()
		return nil, errors.Wrap(err, "open cache store")
	default:
		o, err := reconcile.New(l.Named("reconcile"), cat, router, router, store, cfg.ChainIDs(),
			reconcile.WithFreshness(cfg.Freshness),
			reconcile.WithMetrics(a.Metrics),
		)
		if err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "build orchestrator")
		}
		a.Orchestrator = o
	}

	// keep the interface nil rather than a nil *Orchestrator
	if a.Orchestrator != nil {
		a.Server = web.NewServer(cfg.Listen, a.Orchestrator, reg, l.Named("web"))
	} else {
		a.Server = web.NewServer(cfg.Listen, nil, reg, l.Named("web"))
	}

	return a, nil
}

func (a *App) buildRouter(ctx context.Context, cfg *config.Config) (*sources.Router, error) {
	router := sources.NewRouter()

	for _, ch := range cfg.Chains {
		l := a.l.With(zap.String("chain", ch.Chain.String()))

		rpc, closeRPC, err := evm.Dial(ctx, l.Named("evm"), ch.Chain, ch.RPCURL, evm.WithMaxBlockRange(ch.MaxBlockRange))
		if err != nil {
			return nil, errors.Wrapf(err, "connect %s", ch.Chain)
		}
		a.closers = append(a.closers, func() error { closeRPC(); return nil })

		var events sources.EventSource = rpc
		if ch.Transport == config.TransportIndexer {
			idx, err := indexer.New(l.Named("indexer"), ch.IndexerURL, indexer.WithRateLimit(ch.IndexerRate, 1))
			if err != nil {
				return nil, errors.Wrapf(err, "indexer for %s", ch.Chain)
			}
			events = idx
		}

		router.Register(ch.Chain, events, rpc)
		l.Info("chain registered", zap.String("transport", string(ch.Transport)), zap.Int("vaults", len(ch.Vaults)))
	}

	return router, nil
}

// Close releases every connection, returning the first error.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
