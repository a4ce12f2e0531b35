package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListVaults(ctx context.Context, chain domain.Chain) ([]domain.VaultDescriptor, error) {
	args := m.Called(ctx, chain)
	var vaults []domain.VaultDescriptor
	if v := args.Get(0); v != nil {
		vaults = v.([]domain.VaultDescriptor)
	}
	return vaults, args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error) {
	args := m.Called(ctx, q)
	var events []domain.LedgerEvent
	if v := args.Get(0); v != nil {
		events = v.([]domain.LedgerEvent)
	}
	return events, args.Error(1)
}

func (m *mockEvents) SupportsResume(chain domain.Chain) bool {
	return m.Called(chain).Bool(0)
}

func (m *mockEvents) OrdinalKind(chain domain.Chain) domain.OrdinalKind {
	return m.Called(chain).Get(0).(domain.OrdinalKind)
}

type mockValuation struct {
	mock.Mock
}

func (m *mockValuation) RedeemableValue(ctx context.Context, chain domain.Chain, vault, user string) (decimal.Decimal, error) {
	args := m.Called(ctx, chain, vault, user)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// queryFor matches an EventQuery for vault with the given resume point (nil for a full scan).
func queryFor(vault string, since *uint64) interface{} {
	return mock.MatchedBy(func(q domain.EventQuery) bool {
		if q.Vault != vault {
			return false
		}
		if since == nil || q.Since == nil {
			return since == nil && q.Since == nil
		}
		return *since == *q.Since
	})
}

func ordinal(v uint64) *uint64 {
	return &v
}
