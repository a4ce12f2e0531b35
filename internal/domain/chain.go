// Package domain defines core data structures used throughout the reconciliation service.
package domain

import "strings"

// Chain EVM network a vault is deployed on.
type Chain string

const (
	// ChainEthereum Ethereum mainnet.
	ChainEthereum Chain = "ethereum"
	// ChainArbitrum Arbitrum One.
	ChainArbitrum Chain = "arbitrum"
	// ChainOptimism OP mainnet.
	ChainOptimism Chain = "optimism"
	// ChainBase Base mainnet.
	ChainBase Chain = "base"
)

// Chains lists every supported chain.
func Chains() []Chain {
	return []Chain{ChainEthereum, ChainArbitrum, ChainOptimism, ChainBase}
}

// ParseChain converts an identifier into a Chain.
// Both the name and the decimal chain id are accepted.
func ParseChain(s string) (Chain, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Chains() {
		if v == string(c) || v == c.idString() {
			return c, nil
		}
	}

	return "", &ValidationError{Field: "chain", Value: s, Err: ErrUnsupportedChain}
}

// String returns the string representation.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the Chain value is one of the supported networks.
func (c Chain) IsValid() bool {
	switch c {
	case ChainEthereum, ChainArbitrum, ChainOptimism, ChainBase:
		return true
	}
	return false
}

// ID returns the EVM chain id, zero for an unknown chain.
func (c Chain) ID() uint64 {
	switch c {
	case ChainEthereum:
		return 1
	case ChainArbitrum:
		return 42161
	case ChainOptimism:
		return 10
	case ChainBase:
		return 8453
	default:
		return 0
	}
}

func (c Chain) idString() string {
	switch c {
	case ChainEthereum:
		return "1"
	case ChainArbitrum:
		return "42161"
	case ChainOptimism:
		return "10"
	case ChainBase:
		return "8453"
	default:
		return ""
	}
}

// OrdinalKind what a LedgerEvent ordinal counts. Ordinals of different kinds
// are not comparable.
type OrdinalKind string

const (
	// OrdinalBlock ordinal is a block number.
	OrdinalBlock OrdinalKind = "block"
	// OrdinalTimestamp ordinal is a unix timestamp in seconds.
	OrdinalTimestamp OrdinalKind = "timestamp"
)
