package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAddress malformed user or vault address.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrUnsupportedChain chain identifier is unknown or not configured.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrUnknownVault vault is not part of the chain catalog.
	ErrUnknownVault = errors.New("unknown vault")
)

// ValidationError request input rejected before any I/O.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError a required setting is missing or invalid.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is required", e.Setting)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// UpstreamFetchError an event or valuation source failed.
type UpstreamFetchError struct {
	Source string
	Chain  Chain
	Vault  string
	Err    error
}

func (e *UpstreamFetchError) Error() string {
	if e.Vault == "" {
		return fmt.Sprintf("%s fetch on %s: %v", e.Source, e.Chain, e.Err)
	}
	return fmt.Sprintf("%s fetch on %s vault %s: %v", e.Source, e.Chain, e.Vault, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// ComputeError internal invariant violated by a computed snapshot.
type ComputeError struct {
	Vault     string
	Deposited decimal.Decimal
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("vault %s: negative deposited %s", e.Vault, e.Deposited.String())
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsUpstream reports whether err is (or wraps) an UpstreamFetchError.
func IsUpstream(err error) bool {
	var target *UpstreamFetchError
	return errors.As(err, &target)
}
