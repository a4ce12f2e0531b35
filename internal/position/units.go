package position

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// AssetDecimals fractional digits of on-chain asset amounts.
const AssetDecimals = 18

// FromBaseUnits converts an integer on-chain amount into asset units.
func FromBaseUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -AssetDecimals)
}
