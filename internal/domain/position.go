package domain

import "github.com/shopspring/decimal"

// PositionSnapshot economic state of one user's position in one vault.
// Recomputed wholesale on every refresh.
type PositionSnapshot struct {
	Vault       string          `json:"vault"`
	RedeemValue decimal.Decimal `json:"redeem_value"`
	Deposited   decimal.Decimal `json:"deposited"`
	Earnings    decimal.Decimal `json:"earnings"`
	// Events most recent first.
	Events []LedgerEvent `json:"events"`
}

// IsZero reports whether the snapshot carries no value and no history.
func (p PositionSnapshot) IsZero() bool {
	return p.RedeemValue.IsZero() && p.Deposited.IsZero() && p.Earnings.IsZero() && len(p.Events) == 0
}

// Watermark incremental scan progress for a (user, chain) pair.
type Watermark struct {
	// Kind what the ordinals count; a watermark of another kind cannot be resumed from.
	Kind                 OrdinalKind `json:"kind,omitempty"`
	LastProcessedOrdinal uint64      `json:"last_processed_ordinal"`
	// Vaults accumulated history per vault address, carried forward between resumed scans.
	Vaults map[string]VaultProgress `json:"vaults,omitempty"`
}

// VaultProgress history observed for a vault up to the watermark.
type VaultProgress struct {
	Events []LedgerEvent `json:"events"`
}

// SinceFor returns the ordinal a resumed scan of vault should start from: the
// highest ordinal in its own carried history. Nil means scan from inception.
// Vaults are scanned up to different heads, so the chain-wide ordinal is not
// a safe starting point for any single vault.
func (w *Watermark) SinceFor(vault string) *uint64 {
	var highest uint64
	for _, e := range w.History(vault) {
		if e.Ordinal > highest {
			highest = e.Ordinal
		}
	}
	if highest == 0 {
		return nil
	}
	return &highest
}

// Tracks reports whether the vault was part of the scan that produced the watermark.
func (w *Watermark) Tracks(vault string) bool {
	if w == nil || w.Vaults == nil {
		return false
	}
	_, ok := w.Vaults[vault]
	return ok
}

// History returns the carried events for a vault.
func (w *Watermark) History(vault string) []LedgerEvent {
	if w == nil || w.Vaults == nil {
		return nil
	}
	return w.Vaults[vault].Events
}
