package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

func TestCatalog_ListVaults(t *testing.T) {
	vaults := map[domain.Chain][]domain.VaultDescriptor{
		domain.ChainEthereum: {
			{Address: "0x000000000000000000000000000000000000000A", CollateralSymbol: "WETH", APR: decimal.NewFromFloat(0.04), InceptionBlock: 1},
			{Address: "0x000000000000000000000000000000000000000b", CollateralSymbol: "WBTC", APR: decimal.Zero, InceptionBlock: 1},
			{Address: "0x000000000000000000000000000000000000000c", CollateralSymbol: "sfrxETH", APR: decimal.NewFromInt(1), InceptionBlock: 1},
			{Address: "0x000000000000000000000000000000000000000d", CollateralSymbol: "tBTC", APR: decimal.NewFromFloat(-0.1), InceptionBlock: 1},
		},
		domain.ChainArbitrum: {},
	}

	c, err := New(zap.NewNop(), vaults, []string{"SFRXETH"})
	require.NoError(t, err)

	got, err := c.ListVaults(context.Background(), domain.ChainEthereum)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0x000000000000000000000000000000000000000a", got[0].Address)
	assert.Equal(t, domain.ChainEthereum, got[0].Chain)

	empty, err := c.ListVaults(context.Background(), domain.ChainArbitrum)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	// callers cannot mutate the catalog
	got[0].Address = "mutated"
	again, _ := c.ListVaults(context.Background(), domain.ChainEthereum)
	assert.Equal(t, "0x000000000000000000000000000000000000000a", again[0].Address)
}

func TestCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		vaults map[domain.Chain][]domain.VaultDescriptor
	}{
		{
			name:   "bad address",
			vaults: map[domain.Chain][]domain.VaultDescriptor{domain.ChainEthereum: {{Address: "0xnope"}}},
		},
		{
			name: "duplicate",
			vaults: map[domain.Chain][]domain.VaultDescriptor{domain.ChainEthereum: {
				{Address: "0x000000000000000000000000000000000000000a"},
				{Address: "0x000000000000000000000000000000000000000A"},
			}},
		},
		{
			name:   "unknown chain",
			vaults: map[domain.Chain][]domain.VaultDescriptor{domain.Chain("solana"): {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.vaults, nil)
			assert.Error(t, err)
		})
	}
}
