package domain

import "github.com/shopspring/decimal"

// VaultDescriptor static metadata of a vault, supplied by the catalog.
type VaultDescriptor struct {
	Address          string           `json:"address"`
	CollateralSymbol string           `json:"collateral_symbol"`
	BorrowedSymbol   string           `json:"borrowed_symbol"`
	Chain            Chain            `json:"chain"`
	APR              decimal.Decimal  `json:"apr"`
	DepositURL       string           `json:"deposit_url,omitempty"`
	WithdrawURL      string           `json:"withdraw_url,omitempty"`
	TVL              *decimal.Decimal `json:"tvl,omitempty"`
	// InceptionBlock block the vault was deployed at; JSON-RPC scans start here.
	InceptionBlock uint64 `json:"inception_block"`
}

// Yielding reports whether the vault currently pays a positive APR.
func (v VaultDescriptor) Yielding() bool {
	return v.APR.IsPositive()
}
