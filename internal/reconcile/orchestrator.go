// Package reconcile turns a (user, chain) request into position snapshots,
// serving cached results while they are fresh and refreshing them from the
// event and valuation sources otherwise.
package reconcile

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/vaultpnl/internal/cache"
	"github.com/vadiminshakov/vaultpnl/internal/domain"
	"github.com/vadiminshakov/vaultpnl/internal/metrics"
	"github.com/vadiminshakov/vaultpnl/internal/position"
)

// source labels used in errors and metrics
const (
	sourceCatalog   = "catalog"
	sourceEvents    = "events"
	sourceValuation = "valuation"
)

type vaultCatalog interface {
	ListVaults(ctx context.Context, chain domain.Chain) ([]domain.VaultDescriptor, error)
}

type eventSource interface {
	EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error)
	SupportsResume(chain domain.Chain) bool
	OrdinalKind(chain domain.Chain) domain.OrdinalKind
}

type valuationSource interface {
	RedeemableValue(ctx context.Context, chain domain.Chain, vault, user string) (decimal.Decimal, error)
}

// Orchestrator reconciles user positions. It holds no per-request state; the
// cache store is the only shared mutable resource.
type Orchestrator struct {
	catalog   vaultCatalog
	events    eventSource
	valuation valuationSource
	store     cache.Store
	freshness cache.Freshness
	chains    map[domain.Chain]struct{}
	metrics   *metrics.Metrics
	l         *zap.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFreshness overrides the default freshness table.
func WithFreshness(f cache.Freshness) Option {
	return func(o *Orchestrator) {
		o.freshness = f
	}
}

// WithMetrics records cache and reconcile metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator serving the given chains.
func New(l *zap.Logger, catalog vaultCatalog, events eventSource, valuation valuationSource,
	store cache.Store, chains []domain.Chain, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, &domain.ConfigurationError{Setting: "cache"}
	}
	if catalog == nil || events == nil || valuation == nil {
		return nil, errors.New("catalog, event source and valuation source are required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	o := &Orchestrator{
		catalog:   catalog,
		events:    events,
		valuation: valuation,
		store:     store,
		freshness: cache.DefaultFreshness(),
		chains:    make(map[domain.Chain]struct{}, len(chains)),
		l:         l,
		now:       time.Now,
	}
	for _, c := range chains {
		o.chains[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Reconcile returns the snapshots of every active vault on chain for user.
func (o *Orchestrator) Reconcile(ctx context.Context, user, chain string) (out []domain.PositionSnapshot, err error) {
	started := time.Now()
	defer func() { o.metrics.ObserveReconcile("chain", started, err) }()

	addr, c, err := o.validate(user, chain)
	if err != nil {
		return nil, err
	}
	l := o.l.With(zap.String("user", addr), zap.String("chain", c.String()))

	key := cache.Key(cache.NamespacePositions, c.String(), addr)
	if cached, ok, err := loadFresh[[]domain.PositionSnapshot](ctx, o, cache.NamespacePositions, key); err != nil {
		return nil, err
	} else if ok {
		l.Debug("serving cached positions")
		return cached, nil
	}

	vaults, err := o.Vaults(ctx, c.String())
	if err != nil {
		return nil, err
	}

	resumable := o.events.SupportsResume(c)

	var (
		mark *domain.Watermark
		kind domain.OrdinalKind
	)
	markKey := cache.Key(cache.NamespaceWatermark, c.String(), addr)
	if resumable {
		kind = o.events.OrdinalKind(c)
		if mark, err = o.loadWatermark(ctx, l, markKey, kind); err != nil {
			return nil, err
		}
	}

	results, err := o.refresh(ctx, addr, c, vaults, mark, resumable)
	if err != nil {
		l.Error("reconciliation failed", zap.Error(err))
		return nil, err
	}

	snapshots := make([]domain.PositionSnapshot, len(results))
	for i, r := range results {
		snapshots[i] = r.snapshot
	}

	now := o.now()
	if resumable {
		next := nextWatermark(mark, kind, vaults, results)
		if err := cache.Save(ctx, o.store, markKey, next, now); err != nil {
			return nil, errors.Wrap(err, "save watermark")
		}
		l.Debug("watermark advanced", zap.Uint64("ordinal", next.LastProcessedOrdinal))
	}
	if err := cache.Save(ctx, o.store, key, snapshots, now); err != nil {
		return nil, errors.Wrap(err, "save positions")
	}

	l.Info("positions reconciled", zap.Int("vaults", len(snapshots)), zap.Bool("resumed", mark != nil))

	return snapshots, nil
}

// ReconcileVault returns the snapshot of user in a single vault. The watermark
// is used to resume but never advanced here, so a chain-wide reconciliation
// keeps a consistent view of every vault.
func (o *Orchestrator) ReconcileVault(ctx context.Context, user, chain, vault string) (out domain.PositionSnapshot, err error) {
	started := time.Now()
	defer func() { o.metrics.ObserveReconcile("vault", started, err) }()

	addr, c, err := o.validate(user, chain)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	vaultAddr, err := domain.ParseAddress("vault", vault)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	key := cache.Key(cache.NamespacePosition, c.String(), addr, vaultAddr)
	if cached, ok, err := loadFresh[domain.PositionSnapshot](ctx, o, cache.NamespacePosition, key); err != nil {
		return domain.PositionSnapshot{}, err
	} else if ok {
		return cached, nil
	}

	vaults, err := o.Vaults(ctx, c.String())
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	var target *domain.VaultDescriptor
	for i := range vaults {
		if domain.SameAddress(vaults[i].Address, vaultAddr) {
			target = &vaults[i]
			break
		}
	}
	if target == nil {
		return domain.PositionSnapshot{}, &domain.ValidationError{Field: "vault", Value: vault, Err: domain.ErrUnknownVault}
	}

	resumable := o.events.SupportsResume(c)

	var mark *domain.Watermark
	if resumable {
		markKey := cache.Key(cache.NamespaceWatermark, c.String(), addr)
		if mark, err = o.loadWatermark(ctx, o.l, markKey, o.events.OrdinalKind(c)); err != nil {
			return domain.PositionSnapshot{}, err
		}
	}

	result, err := o.reconcileOne(ctx, addr, c, *target, mark, resumable)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	if err := cache.Save(ctx, o.store, key, result.snapshot, o.now()); err != nil {
		return domain.PositionSnapshot{}, errors.Wrap(err, "save position")
	}

	return result.snapshot, nil
}

// Vaults returns the active vaults of chain, cached under the vaults namespace.
func (o *Orchestrator) Vaults(ctx context.Context, chain string) ([]domain.VaultDescriptor, error) {
	c, err := o.validateChain(chain)
	if err != nil {
		return nil, err
	}

	key := cache.Key(cache.NamespaceVaults, c.String())
	if cached, ok, err := loadFresh[[]domain.VaultDescriptor](ctx, o, cache.NamespaceVaults, key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	vaults, err := o.catalog.ListVaults(ctx, c)
	if err != nil {
		o.metrics.UpstreamFailure(sourceCatalog)
		return nil, upstream(sourceCatalog, c, "", err)
	}
	if vaults == nil {
		vaults = []domain.VaultDescriptor{}
	}

	if err := cache.Save(ctx, o.store, key, vaults, o.now()); err != nil {
		return nil, errors.Wrap(err, "save vaults")
	}

	return vaults, nil
}

type vaultResult struct {
	snapshot domain.PositionSnapshot
	history  []domain.LedgerEvent
}

// refresh reads every vault concurrently and waits for all of them.
// The first failure cancels the remaining reads and fails the refresh.
func (o *Orchestrator) refresh(ctx context.Context, user string, chain domain.Chain,
	vaults []domain.VaultDescriptor, mark *domain.Watermark, resumable bool) ([]vaultResult, error) {
	results := make([]vaultResult, len(vaults))

	g, gctx := errgroup.WithContext(ctx)
	for i := range vaults {
		i, vault := i, vaults[i]
		g.Go(func() error {
			r, err := o.reconcileOne(gctx, user, chain, vault, mark, resumable)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// reconcileOne reads events and, when there is history, the valuation of one vault.
func (o *Orchestrator) reconcileOne(ctx context.Context, user string, chain domain.Chain,
	vault domain.VaultDescriptor, mark *domain.Watermark, resumable bool) (vaultResult, error) {
	addr := vault.Address

	q := domain.EventQuery{
		Chain:          chain,
		Vault:          addr,
		User:           user,
		InceptionBlock: vault.InceptionBlock,
	}

	var prior []domain.LedgerEvent
	if resumable && mark.Tracks(addr) {
		q.Since = mark.SinceFor(addr)
		prior = mark.History(addr)
	}

	fresh, err := o.events.EventsFor(ctx, q)
	if err != nil {
		o.metrics.UpstreamFailure(sourceEvents)
		return vaultResult{}, upstream(sourceEvents, chain, addr, err)
	}

	history := fresh
	if q.Since != nil {
		history = position.MergeEvents(prior, fresh)
	}

	if len(history) == 0 {
		return vaultResult{snapshot: position.Zero(addr), history: []domain.LedgerEvent{}}, nil
	}

	redeem, err := o.valuation.RedeemableValue(ctx, chain, addr, user)
	if err != nil {
		o.metrics.UpstreamFailure(sourceValuation)
		return vaultResult{}, upstream(sourceValuation, chain, addr, err)
	}

	snapshot := position.Calculate(addr, history, redeem)
	if err := position.Check(snapshot); err != nil {
		o.metrics.ComputeAnomaly()
		o.l.Error("position invariant violated",
			zap.Error(err),
			zap.String("user", user),
			zap.String("chain", chain.String()),
			zap.String("vault", addr),
			zap.String("deposited", snapshot.Deposited.String()),
			zap.String("redeem_value", snapshot.RedeemValue.String()))
	}

	return vaultResult{snapshot: snapshot, history: position.SortEvents(history)}, nil
}

// loadWatermark returns the stored watermark of key, nil when there is none or
// when it counts ordinals of another kind than the current event source.
func (o *Orchestrator) loadWatermark(ctx context.Context, l *zap.Logger, key string, kind domain.OrdinalKind) (*domain.Watermark, error) {
	entry, err := cache.Load[domain.Watermark](ctx, o.store, key)
	if err != nil {
		return nil, errors.Wrap(err, "load watermark")
	}
	if entry == nil {
		return nil, nil
	}
	if entry.Data.Kind != kind {
		l.Warn("discarding watermark of another ordinal kind",
			zap.String("stored", string(entry.Data.Kind)), zap.String("current", string(kind)))
		return nil, nil
	}
	return &entry.Data, nil
}

// nextWatermark records the full per-vault history together with the highest
// ordinal seen. Each vault resumes from its own history; the chain-wide
// ordinal is reported only.
func nextWatermark(prev *domain.Watermark, kind domain.OrdinalKind, vaults []domain.VaultDescriptor, results []vaultResult) domain.Watermark {
	next := domain.Watermark{Kind: kind, Vaults: make(map[string]domain.VaultProgress, len(vaults))}
	if prev != nil {
		next.LastProcessedOrdinal = prev.LastProcessedOrdinal
	}

	for i, r := range results {
		next.Vaults[vaults[i].Address] = domain.VaultProgress{Events: r.history}
		if highest := position.MaxOrdinal(r.history); highest > next.LastProcessedOrdinal {
			next.LastProcessedOrdinal = highest
		}
	}

	return next
}

func (o *Orchestrator) validate(user, chain string) (string, domain.Chain, error) {
	addr, err := domain.ParseAddress("user", user)
	if err != nil {
		return "", "", err
	}
	c, err := o.validateChain(chain)
	if err != nil {
		return "", "", err
	}
	return addr, c, nil
}

func (o *Orchestrator) validateChain(chain string) (domain.Chain, error) {
	c, err := domain.ParseChain(chain)
	if err != nil {
		return "", err
	}
	if _, ok := o.chains[c]; !ok {
		return "", &domain.ValidationError{Field: "chain", Value: chain, Err: domain.ErrUnsupportedChain}
	}
	return c, nil
}

// loadFresh returns the cached data under key when it is still inside the namespace window.
func loadFresh[T any](ctx context.Context, o *Orchestrator, ns cache.Namespace, key string) (T, bool, error) {
	var zero T

	entry, err := cache.Load[T](ctx, o.store, key)
	if err != nil {
		return zero, false, errors.Wrapf(err, "load cached %s", ns)
	}
	if entry == nil {
		o.metrics.CacheLookup(string(ns), metrics.ResultMiss)
		return zero, false, nil
	}
	if !o.freshness.Fresh(ns, entry.UpdateTimestamp, o.now()) {
		o.metrics.CacheLookup(string(ns), metrics.ResultStale)
		return zero, false, nil
	}

	o.metrics.CacheLookup(string(ns), metrics.ResultHit)
	return entry.Data, true, nil
}

func upstream(source string, chain domain.Chain, vault string, err error) error {
	var existing *domain.UpstreamFetchError
	if errors.As(err, &existing) {
		return err
	}
	return &domain.UpstreamFetchError{Source: source, Chain: chain, Vault: vault, Err: err}
}
