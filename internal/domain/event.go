package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// EventKind direction of a ledger event.
type EventKind int

const (
	EventDeposit EventKind = iota + 1
	EventWithdraw
)

// event kind string constants to avoid magic strings
const (
	eventStringDeposit  = "deposit"
	eventStringWithdraw = "withdraw"
)

// ParseEventKind converts a string into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case eventStringDeposit:
		return EventDeposit, nil
	case eventStringWithdraw:
		return EventWithdraw, nil
	}
	return 0, errors.Errorf("unknown event kind %q", s)
}

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventDeposit:
		return eventStringDeposit
	case EventWithdraw:
		return eventStringWithdraw
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	switch k {
	case EventDeposit, EventWithdraw:
		return []byte(k.String()), nil
	}
	return nil, errors.Errorf("cannot marshal event kind %d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// LedgerEvent single deposit or withdrawal observed for a (user, vault) pair.
// Immutable once observed.
type LedgerEvent struct {
	Kind            EventKind       `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionHash string          `json:"transaction_hash"`
	LogIndex        uint            `json:"log_index"`
	Ordinal         uint64          `json:"ordinal"`
	Chain           Chain           `json:"chain,omitempty"`
}

// Identity returns the key under which two observations of one event collapse.
func (e LedgerEvent) Identity() string {
	return fmt.Sprintf("%s:%d:%s", e.TransactionHash, e.LogIndex, e.Kind)
}

// EventQuery selects the ledger events of one user in one vault.
type EventQuery struct {
	Chain Chain
	Vault string
	User  string
	// Since resume point, inclusive; nil scans from vault inception.
	Since *uint64
	// InceptionBlock first block worth scanning for the vault.
	InceptionBlock uint64
}
