package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a 20-byte hex address and returns it in lower-case form.
// Lower-case is the canonical form used for cache keys and comparisons.
func ParseAddress(field, s string) (string, error) {
	v := strings.TrimSpace(s)
	if !common.IsHexAddress(v) || !strings.HasPrefix(strings.ToLower(v), "0x") {
		return "", &ValidationError{Field: field, Value: s, Err: ErrInvalidAddress}
	}

	return strings.ToLower(common.HexToAddress(v).Hex()), nil
}

// SameAddress reports whether two hex addresses are equal ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
