package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// Dial connects to rawurl and returns a Source for chain after checking the endpoint's chain id.
func Dial(ctx context.Context, l *zap.Logger, chain domain.Chain, rawurl string, opts ...Option) (*Source, func(), error) {
	if rawurl == "" {
		return nil, func() {}, &domain.ConfigurationError{Setting: "chains." + chain.String() + ".rpc_url"}
	}

	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, func() {}, errors.Wrapf(err, "dial %s rpc", chain)
	}

	s, err := New(l, chain, client, opts...)
	if err != nil {
		client.Close()
		return nil, func() {}, err
	}
	if err := s.Verify(ctx); err != nil {
		client.Close()
		return nil, func() {}, err
	}

	return s, client.Close, nil
}
