// Package position turns a vault's ledger history and its current redeemable
// value into a PositionSnapshot.
package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// Totals sums deposits and withdrawals. Order of events is irrelevant.
func Totals(events []domain.LedgerEvent) (deposits, withdrawals decimal.Decimal) {
	deposits, withdrawals = decimal.Zero, decimal.Zero
	for _, e := range events {
		switch e.Kind {
		case domain.EventDeposit:
			deposits = deposits.Add(e.Amount)
		case domain.EventWithdraw:
			withdrawals = withdrawals.Add(e.Amount)
		}
	}
	return deposits, withdrawals
}

// Zero snapshot of a vault with no history.
func Zero(vault string) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		Vault:       vault,
		RedeemValue: decimal.Zero,
		Deposited:   decimal.Zero,
		Earnings:    decimal.Zero,
		Events:      []domain.LedgerEvent{},
	}
}

// Calculate builds the snapshot for one vault.
//
// With a positive redeem value, deposited is the net flow (deposits minus
// withdrawals) and earnings the difference to the redeem value. No floor is
// applied to deposited; see Check. With a zero redeem value the position is
// closed or was never funded: deposited is zero and earnings is the realised
// flow, withdrawals minus deposits.
func Calculate(vault string, events []domain.LedgerEvent, redeemValue decimal.Decimal) domain.PositionSnapshot {
	if len(events) == 0 {
		return Zero(vault)
	}

	deposits, withdrawals := Totals(events)

	snapshot := domain.PositionSnapshot{
		Vault:       vault,
		RedeemValue: redeemValue,
		Events:      SortEvents(events),
	}

	if redeemValue.IsPositive() {
		snapshot.Deposited = deposits.Sub(withdrawals)
		snapshot.Earnings = redeemValue.Sub(snapshot.Deposited)
	} else {
		snapshot.RedeemValue = decimal.Zero
		snapshot.Deposited = decimal.Zero
		snapshot.Earnings = withdrawals.Sub(deposits)
	}

	return snapshot
}

// Check reports a ComputeError when deposited went negative, which means the
// event history and the valuation disagree.
func Check(snapshot domain.PositionSnapshot) error {
	if snapshot.Deposited.IsNegative() {
		return &domain.ComputeError{Vault: snapshot.Vault, Deposited: snapshot.Deposited}
	}
	return nil
}

// SortEvents returns a copy ordered most recent first. Ties on ordinal are
// broken by log index, then transaction hash, so the order is deterministic.
func SortEvents(events []domain.LedgerEvent) []domain.LedgerEvent {
	out := make([]domain.LedgerEvent, len(events))
	copy(out, events)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal > out[j].Ordinal
		}
		if out[i].LogIndex != out[j].LogIndex {
			return out[i].LogIndex > out[j].LogIndex
		}
		if out[i].TransactionHash != out[j].TransactionHash {
			return out[i].TransactionHash > out[j].TransactionHash
		}
		return out[i].Kind > out[j].Kind
	})

	return out
}

// MergeEvents unions carried history with a freshly fetched window.
// Events seen in both collapse to one; the fresh observation wins.
func MergeEvents(prior, fresh []domain.LedgerEvent) []domain.LedgerEvent {
	seen := make(map[string]int, len(prior)+len(fresh))
	out := make([]domain.LedgerEvent, 0, len(prior)+len(fresh))

	for _, batch := range [][]domain.LedgerEvent{prior, fresh} {
		for _, e := range batch {
			id := e.Identity()
			if idx, ok := seen[id]; ok {
				out[idx] = e
				continue
			}
			seen[id] = len(out)
			out = append(out, e)
		}
	}

	return out
}

// MaxOrdinal highest ordinal in events, zero when empty.
func MaxOrdinal(events []domain.LedgerEvent) uint64 {
	var highest uint64
	for _, e := range events {
		if e.Ordinal > highest {
			highest = e.Ordinal
		}
	}
	return highest
}
