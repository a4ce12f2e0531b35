package position

import (
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

const testVault = "0x1111111111111111111111111111111111111111"

var relTolerance = decimal.New(1, -12)

// assertClose compares at a 1e-12 relative scale.
func assertClose(t *testing.T, expected, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	diff := expected.Sub(actual).Abs()
	scale := decimal.Max(expected.Abs(), actual.Abs(), decimal.NewFromInt(1))
	assert.True(t, diff.LessThanOrEqual(scale.Mul(relTolerance)),
		append([]interface{}{fmt.Sprintf("expected %s, got %s", expected, actual)}, msgAndArgs...)...)
}

func deposit(amount int64, ordinal uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:            domain.EventDeposit,
		Amount:          decimal.NewFromInt(amount),
		TransactionHash: fmt.Sprintf("0xd%d", ordinal),
		Ordinal:         ordinal,
	}
}

func withdraw(amount int64, ordinal uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:            domain.EventWithdraw,
		Amount:          decimal.NewFromInt(amount),
		TransactionHash: fmt.Sprintf("0xw%d", ordinal),
		Ordinal:         ordinal,
	}
}

func TestCalculate_Scenarios(t *testing.T) {
	tests := []struct {
		name              string
		events            []domain.LedgerEvent
		redeemValue       decimal.Decimal
		expectedDeposited decimal.Decimal
		expectedEarnings  decimal.Decimal
	}{
		{
			name:              "open position with partial withdrawal",
			events:            []domain.LedgerEvent{deposit(100, 10), withdraw(30, 20)},
			redeemValue:       decimal.NewFromInt(90),
			expectedDeposited: decimal.NewFromInt(70),
			expectedEarnings:  decimal.NewFromInt(20),
		},
		{
			name:              "full exit with profit",
			events:            []domain.LedgerEvent{deposit(50, 5), withdraw(60, 9)},
			redeemValue:       decimal.Zero,
			expectedDeposited: decimal.Zero,
			expectedEarnings:  decimal.NewFromInt(10),
		},
		{
			name:              "full exit with loss",
			events:            []domain.LedgerEvent{deposit(50, 5), withdraw(45, 9)},
			redeemValue:       decimal.Zero,
			expectedDeposited: decimal.Zero,
			expectedEarnings:  decimal.NewFromInt(-5),
		},
		{
			name:              "re-entry after full withdrawal",
			events:            []domain.LedgerEvent{deposit(100, 1), withdraw(110, 2), deposit(40, 3)},
			redeemValue:       decimal.NewFromInt(41),
			expectedDeposited: decimal.NewFromInt(30),
			expectedEarnings:  decimal.NewFromInt(11),
		},
		{
			name:              "only deposits, underwater",
			events:            []domain.LedgerEvent{deposit(10, 1), deposit(15, 2)},
			redeemValue:       decimal.NewFromInt(24),
			expectedDeposited: decimal.NewFromInt(25),
			expectedEarnings:  decimal.NewFromInt(-1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Calculate(testVault, tt.events, tt.redeemValue)
			assert.Equal(t, testVault, s.Vault)
			assertClose(t, tt.expectedDeposited, s.Deposited)
			assertClose(t, tt.expectedEarnings, s.Earnings)
			assert.Len(t, s.Events, len(tt.events))
			assert.NoError(t, Check(s))
		})
	}
}

func TestCalculate_NoEvents(t *testing.T) {
	s := Calculate(testVault, nil, decimal.NewFromInt(500))
	assert.True(t, s.IsZero(), "empty history ignores any redeem value")
	assert.True(t, s.Deposited.IsZero())
	assert.True(t, s.Earnings.IsZero())
	assert.NotNil(t, s.Events)
}

func TestCalculate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := rng.Intn(12) + 1
		events := make([]domain.LedgerEvent, 0, n)
		for j := 0; j < n; j++ {
			amount := decimal.New(rng.Int63n(1_000_000_000), -int32(rng.Intn(18)))
			ev := domain.LedgerEvent{
				Kind:            domain.EventDeposit,
				Amount:          amount,
				TransactionHash: fmt.Sprintf("0x%x", rng.Int63()),
				Ordinal:         uint64(rng.Intn(1000)),
			}
			if rng.Intn(2) == 0 {
				ev.Kind = domain.EventWithdraw
			}
			events = append(events, ev)
		}
		deposits, withdrawals := Totals(events)

		redeem := decimal.New(rng.Int63n(1_000_000_000)+1, -int32(rng.Intn(18)))
		open := Calculate(testVault, events, redeem)
		assertClose(t, redeem.Sub(deposits.Sub(withdrawals)), open.Earnings, "iteration %d", i)
		assertClose(t, deposits.Sub(withdrawals), open.Deposited, "iteration %d", i)

		closed := Calculate(testVault, events, decimal.Zero)
		assert.True(t, closed.Deposited.IsZero(), "iteration %d", i)
		assertClose(t, withdrawals.Sub(deposits), closed.Earnings, "iteration %d", i)

		// totals do not depend on input order
		shuffled := make([]domain.LedgerEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		again := Calculate(testVault, shuffled, redeem)
		assertClose(t, open.Earnings, again.Earnings, "iteration %d", i)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	events := []domain.LedgerEvent{deposit(100, 10), withdraw(30, 20), deposit(5, 20)}

	first, err := json.Marshal(Calculate(testVault, events, decimal.NewFromInt(90)))
	require.NoError(t, err)

	reversed := []domain.LedgerEvent{events[2], events[1], events[0]}
	second, err := json.Marshal(Calculate(testVault, reversed, decimal.NewFromInt(90)))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestCalculate_EventsMostRecentFirst(t *testing.T) {
	s := Calculate(testVault, []domain.LedgerEvent{deposit(1, 3), deposit(1, 9), withdraw(1, 5)}, decimal.NewFromInt(1))
	require.Len(t, s.Events, 3)
	assert.Equal(t, uint64(9), s.Events[0].Ordinal)
	assert.Equal(t, uint64(5), s.Events[1].Ordinal)
	assert.Equal(t, uint64(3), s.Events[2].Ordinal)
}

func TestCheck_NegativeDeposited(t *testing.T) {
	// more withdrawn than deposited while still holding shares
	s := Calculate(testVault, []domain.LedgerEvent{deposit(10, 1), withdraw(30, 2)}, decimal.NewFromInt(5))
	assert.True(t, s.Deposited.Equal(decimal.NewFromInt(-20)), "negative deposited is not clamped")

	err := Check(s)
	require.Error(t, err)
	var cerr *domain.ComputeError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, testVault, cerr.Vault)
}

func TestMergeEvents(t *testing.T) {
	prior := []domain.LedgerEvent{deposit(100, 10), withdraw(30, 20)}
	fresh := []domain.LedgerEvent{withdraw(30, 20), deposit(5, 25)}

	merged := MergeEvents(prior, fresh)
	require.Len(t, merged, 3)

	deposits, withdrawals := Totals(merged)
	assert.True(t, deposits.Equal(decimal.NewFromInt(105)))
	assert.True(t, withdrawals.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, uint64(25), MaxOrdinal(merged))

	sameTx := deposit(7, 25)
	sameTx.LogIndex = 1
	merged = MergeEvents(merged, []domain.LedgerEvent{sameTx})
	assert.Len(t, merged, 4, "distinct log index in the same transaction is a separate event")

	assert.Zero(t, MaxOrdinal(nil))
}

func TestBaseUnits(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)

	d := FromBaseUnits(wei)
	assert.True(t, d.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, FromBaseUnits(nil).IsZero())
}
