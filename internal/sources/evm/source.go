// Package evm reads vault ledger events and redeemable values over JSON-RPC.
package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
	"github.com/vadiminshakov/vaultpnl/internal/position"
	"github.com/vadiminshakov/vaultpnl/pkg/retrier"
)

const defaultMaxBlockRange = 10_000

type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Source event and valuation source for one chain.
type Source struct {
	chain         domain.Chain
	client        chainClient
	abi           abi.ABI
	maxBlockRange uint64
	retrier       *retrier.Retrier
	l             *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithMaxBlockRange caps the number of blocks requested by one eth_getLogs call.
func WithMaxBlockRange(n uint64) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxBlockRange = n
		}
	}
}

// WithRetrier replaces the retry policy applied to every RPC call.
func WithRetrier(r *retrier.Retrier) Option {
	return func(s *Source) {
		s.retrier = r
	}
}

// New creates a Source reading chain through client.
func New(l *zap.Logger, chain domain.Chain, client chainClient, opts ...Option) (*Source, error) {
	if client == nil {
		return nil, &domain.ConfigurationError{Setting: "chains." + chain.String() + ".rpc_url"}
	}
	if l == nil {
		l = zap.NewNop()
	}

	parsed, err := parseVaultABI()
	if err != nil {
		return nil, errors.Wrap(err, "parse vault abi")
	}

	s := &Source{
		chain:         chain,
		client:        client,
		abi:           parsed,
		maxBlockRange: defaultMaxBlockRange,
		l:             l.With(zap.String("chain", chain.String())),
	}
	s.retrier = retrier.New(retrier.WithRetryIf(retryable), retrier.WithOnRetry(func(attempt int, err error) {
		s.l.Warn("rpc call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}))
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Verify checks that the endpoint serves the configured chain.
func (s *Source) Verify(ctx context.Context) error {
	id, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (*big.Int, error) {
		return s.client.ChainID(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "get chain id")
	}
	if id.Uint64() != s.chain.ID() {
		return &domain.ConfigurationError{
			Setting: "chains." + s.chain.String() + ".rpc_url",
			Reason:  "endpoint serves chain id " + id.String(),
		}
	}
	return nil
}

// SupportsResume block numbers are monotonic, so scans can resume from a watermark.
func (s *Source) SupportsResume(domain.Chain) bool {
	return true
}

// OrdinalKind ordinals are block numbers.
func (s *Source) OrdinalKind(domain.Chain) domain.OrdinalKind {
	return domain.OrdinalBlock
}

// EventsFor scans Deposit and Withdraw logs of q.User in q.Vault from
// max(inception, since) up to the current head.
func (s *Source) EventsFor(ctx context.Context, q domain.EventQuery) ([]domain.LedgerEvent, error) {
	head, err := retrier.DoWithData(s.retrier, ctx, s.client.BlockNumber)
	if err != nil {
		return nil, errors.Wrap(err, "get block number")
	}

	from := q.InceptionBlock
	if q.Since != nil && *q.Since > from {
		from = *q.Since
	}
	if from > head {
		return []domain.LedgerEvent{}, nil
	}

	vault := common.HexToAddress(q.Vault)
	owner := common.BytesToHash(common.HexToAddress(q.User).Bytes())

	events := make([]domain.LedgerEvent, 0)
	window := s.maxBlockRange
	for start := from; start <= head; {
		end := start + window - 1
		if end > head || end < start {
			end = head
		}

		batch, err := s.scanWindow(ctx, vault, owner, start, end)
		if err != nil {
			if isRangeTooLarge(err) && window > 1 {
				window /= 2
				s.l.Debug("log window too large, shrinking", zap.Uint64("from", start), zap.Uint64("window", window))
				continue
			}
			return nil, errors.Wrapf(err, "filter logs %d-%d", start, end)
		}
		events = append(events, batch...)

		if end == head {
			break
		}
		start = end + 1
	}

	s.l.Debug("scanned vault logs",
		zap.String("vault", q.Vault),
		zap.Uint64("from", from),
		zap.Uint64("head", head),
		zap.Int("events", len(events)))

	return events, nil
}

func (s *Source) scanWindow(ctx context.Context, vault common.Address, owner common.Hash, from, to uint64) ([]domain.LedgerEvent, error) {
	var out []domain.LedgerEvent
	for _, kind := range []domain.EventKind{domain.EventDeposit, domain.EventWithdraw} {
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{vault},
			Topics:    s.topics(kind, owner),
		}

		logs, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) ([]types.Log, error) {
			return s.client.FilterLogs(ctx, q)
		})
		if err != nil {
			return nil, err
		}

		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			ev, err := s.decode(kind, lg)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Source) topics(kind domain.EventKind, owner common.Hash) [][]common.Hash {
	if kind == domain.EventDeposit {
		t := make([][]common.Hash, depositOwnerTopic+1)
		t[0] = []common.Hash{s.abi.Events[eventDeposit].ID}
		t[depositOwnerTopic] = []common.Hash{owner}
		return t
	}
	t := make([][]common.Hash, withdrawOwnerTopic+1)
	t[0] = []common.Hash{s.abi.Events[eventWithdraw].ID}
	t[withdrawOwnerTopic] = []common.Hash{owner}
	return t
}

func (s *Source) decode(kind domain.EventKind, lg types.Log) (domain.LedgerEvent, error) {
	name := eventDeposit
	if kind == domain.EventWithdraw {
		name = eventWithdraw
	}

	values, err := s.abi.Unpack(name, lg.Data)
	if err != nil {
		return domain.LedgerEvent{}, errors.Wrapf(err, "decode %s log %s", name, lg.TxHash.Hex())
	}
	if len(values) < 1 {
		return domain.LedgerEvent{}, errors.Errorf("decode %s log %s: no assets field", name, lg.TxHash.Hex())
	}
	assets, ok := values[0].(*big.Int)
	if !ok {
		return domain.LedgerEvent{}, errors.Errorf("decode %s log %s: unexpected assets type %T", name, lg.TxHash.Hex(), values[0])
	}

	return domain.LedgerEvent{
		Kind:            kind,
		Amount:          position.FromBaseUnits(assets),
		TransactionHash: strings.ToLower(lg.TxHash.Hex()),
		LogIndex:        lg.Index,
		Ordinal:         lg.BlockNumber,
		Chain:           s.chain,
	}, nil
}

// RedeemableValue converts the user's current share balance into assets.
func (s *Source) RedeemableValue(ctx context.Context, _ domain.Chain, vault, user string) (decimal.Decimal, error) {
	to := common.HexToAddress(vault)

	shares, err := s.callUint(ctx, to, methodBalanceOf, common.HexToAddress(user))
	if err != nil {
		return decimal.Zero, err
	}
	if shares.Sign() == 0 {
		return decimal.Zero, nil
	}

	assets, err := s.callUint(ctx, to, methodConvertToAssets, shares)
	if err != nil {
		return decimal.Zero, err
	}

	return position.FromBaseUnits(assets), nil
}

func (s *Source) callUint(ctx context.Context, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	out, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) ([]byte, error) {
		return s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}

	values, err := s.abi.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(values) != 1 {
		return nil, errors.Errorf("unpack %s: got %d values", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unpack %s: unexpected type %T", method, values[0])
	}

	return v, nil
}

// retryable execution reverts and oversized log ranges fail the same way every time.
func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return !strings.Contains(msg, "execution reverted") && !isRangeTooLarge(err)
}

func isRangeTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"block range", "query returned more than", "range is too large", "too many results"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
