// Package config loads the service configuration from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/vaultpnl/internal/cache"
	"github.com/vadiminshakov/vaultpnl/internal/domain"
)

// EnvRedisPassword overrides cache.redis.password when set.
const EnvRedisPassword = "VAULTPNL_REDIS_PASSWORD"

const (
	defaultListen        = ":8080"
	defaultMaxBlockRange = 10_000
	defaultIndexerRate   = 5
)

// Transport how ledger events of a chain are read.
type Transport string

const (
	// TransportRPC Deposit/Withdraw logs over JSON-RPC.
	TransportRPC Transport = "rpc"
	// TransportIndexer a remote indexed-events API.
	TransportIndexer Transport = "indexer"
)

// Config validated service configuration. Cache is checked when the store is
// opened, so a service with a missing cache target can still start and report
// it per request.
type Config struct {
	Listen            string
	Cache             cache.Options
	Freshness         cache.Freshness
	ExcludeCollateral []string
	Chains            []ChainConfig
}

// ChainConfig per-chain sources and catalog.
type ChainConfig struct {
	Chain         domain.Chain
	Transport     Transport
	RPCURL        string
	IndexerURL    string
	IndexerRate   float64
	MaxBlockRange uint64
	Vaults        []domain.VaultDescriptor
}

// Vaults returns the configured catalog keyed by chain.
func (c *Config) Vaults() map[domain.Chain][]domain.VaultDescriptor {
	out := make(map[domain.Chain][]domain.VaultDescriptor, len(c.Chains))
	for _, ch := range c.Chains {
		out[ch.Chain] = ch.Vaults
	}
	return out
}

// ChainIDs returns the configured chains in file order.
func (c *Config) ChainIDs() []domain.Chain {
	out := make([]domain.Chain, len(c.Chains))
	for i, ch := range c.Chains {
		out[i] = ch.Chain
	}
	return out
}

type configTmp struct {
	Listen string `yaml:"listen"`
	Cache  struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		WAL struct {
			Dir string `yaml:"dir"`
		} `yaml:"wal"`
	} `yaml:"cache"`
	Freshness         map[string]time.Duration `yaml:"freshness"`
	ExcludeCollateral []string                 `yaml:"exclude_collateral"`
	Chains            map[string]chainTmp      `yaml:"chains"`
}

type chainTmp struct {
	Transport     string     `yaml:"transport"`
	RPCURL        string     `yaml:"rpc_url"`
	IndexerURL    string     `yaml:"indexer_url"`
	IndexerRate   float64    `yaml:"indexer_rate"`
	MaxBlockRange uint64     `yaml:"max_block_range"`
	Vaults        []vaultTmp `yaml:"vaults"`
}

type vaultTmp struct {
	Address        string `yaml:"address"`
	Collateral     string `yaml:"collateral"`
	Borrowed       string `yaml:"borrowed"`
	APR            string `yaml:"apr"`
	TVL            string `yaml:"tvl,omitempty"`
	DepositURL     string `yaml:"deposit_url,omitempty"`
	WithdrawURL    string `yaml:"withdraw_url,omitempty"`
	InceptionBlock uint64 `yaml:"inception_block"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &domain.ConfigurationError{Setting: "--config"}
	}

	f, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	return Parse(f)
}

// Parse validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return nil, errors.Wrap(err, "parse yaml config")
	}

	cfg := &Config{
		Listen:            tmp.Listen,
		ExcludeCollateral: tmp.ExcludeCollateral,
		Cache: cache.Options{
			Backend: cache.Backend(strings.ToLower(tmp.Cache.Backend)),
			Redis: cache.RedisOptions{
				Addr:     tmp.Cache.Redis.Addr,
				Password: tmp.Cache.Redis.Password,
				DB:       tmp.Cache.Redis.DB,
			},
			WALDir: tmp.Cache.WAL.Dir,
		},
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if pw := os.Getenv(EnvRedisPassword); pw != "" {
		cfg.Cache.Redis.Password = pw
	}

	freshness, err := parseFreshness(tmp.Freshness)
	if err != nil {
		return nil, err
	}
	cfg.Freshness = freshness

	if len(tmp.Chains) == 0 {
		return nil, &domain.ConfigurationError{Setting: "chains"}
	}
	// keep a stable order across loads
	for _, c := range domain.Chains() {
		for name, raw := range tmp.Chains {
			parsed, err := domain.ParseChain(name)
			if err != nil {
				return nil, &domain.ConfigurationError{Setting: "chains." + name, Reason: "unsupported chain"}
			}
			if parsed != c {
				continue
			}
			for _, existing := range cfg.Chains {
				if existing.Chain == parsed {
					return nil, &domain.ConfigurationError{Setting: "chains." + name, Reason: "chain configured twice"}
				}
			}
			chain, err := parseChain(parsed, raw)
			if err != nil {
				return nil, err
			}
			cfg.Chains = append(cfg.Chains, chain)
		}
	}

	return cfg, nil
}

func parseFreshness(raw map[string]time.Duration) (cache.Freshness, error) {
	overrides := make(map[cache.Namespace]time.Duration, len(raw))
	for name, w := range raw {
		ns := cache.Namespace(name)
		switch ns {
		case cache.NamespaceVaults, cache.NamespacePositions, cache.NamespacePosition:
		default:
			return nil, &domain.ConfigurationError{Setting: "freshness." + name, Reason: "unknown namespace"}
		}
		if w <= 0 {
			return nil, &domain.ConfigurationError{Setting: "freshness." + name, Reason: "window must be positive"}
		}
		overrides[ns] = w
	}
	return cache.DefaultFreshness().With(overrides), nil
}

func parseChain(c domain.Chain, raw chainTmp) (ChainConfig, error) {
	setting := "chains." + c.String()

	out := ChainConfig{
		Chain:         c,
		Transport:     Transport(strings.ToLower(raw.Transport)),
		RPCURL:        raw.RPCURL,
		IndexerURL:    raw.IndexerURL,
		IndexerRate:   raw.IndexerRate,
		MaxBlockRange: raw.MaxBlockRange,
	}
	if out.Transport == "" {
		out.Transport = TransportRPC
	}
	if out.MaxBlockRange == 0 {
		out.MaxBlockRange = defaultMaxBlockRange
	}
	if out.IndexerRate <= 0 {
		out.IndexerRate = defaultIndexerRate
	}

	// valuation always reads contract state, so every chain needs an RPC endpoint
	if out.RPCURL == "" {
		return ChainConfig{}, &domain.ConfigurationError{Setting: setting + ".rpc_url"}
	}
	switch out.Transport {
	case TransportRPC:
	case TransportIndexer:
		if out.IndexerURL == "" {
			return ChainConfig{}, &domain.ConfigurationError{Setting: setting + ".indexer_url"}
		}
	default:
		return ChainConfig{}, &domain.ConfigurationError{Setting: setting + ".transport", Reason: "unknown transport " + raw.Transport}
	}

	for i, v := range raw.Vaults {
		vault, err := parseVault(c, v)
		if err != nil {
			return ChainConfig{}, errors.Wrapf(err, "%s.vaults[%d]", setting, i)
		}
		if out.Transport == TransportRPC && vault.InceptionBlock == 0 {
			return ChainConfig{}, &domain.ConfigurationError{
				Setting: setting + ".vaults." + vault.Address + ".inception_block",
				Reason:  "required for rpc transport",
			}
		}
		out.Vaults = append(out.Vaults, vault)
	}

	return out, nil
}

func parseVault(c domain.Chain, v vaultTmp) (domain.VaultDescriptor, error) {
	addr, err := domain.ParseAddress("address", v.Address)
	if err != nil {
		return domain.VaultDescriptor{}, &domain.ConfigurationError{Setting: "address", Reason: err.Error()}
	}

	apr := decimal.Zero
	if v.APR != "" {
		apr, err = decimal.NewFromString(v.APR)
		if err != nil {
			return domain.VaultDescriptor{}, &domain.ConfigurationError{Setting: "apr", Reason: "must be a decimal"}
		}
	}

	out := domain.VaultDescriptor{
		Address:          addr,
		CollateralSymbol: v.Collateral,
		BorrowedSymbol:   v.Borrowed,
		Chain:            c,
		APR:              apr,
		DepositURL:       v.DepositURL,
		WithdrawURL:      v.WithdrawURL,
		InceptionBlock:   v.InceptionBlock,
	}
	if v.TVL != "" {
		tvl, err := decimal.NewFromString(v.TVL)
		if err != nil {
			return domain.VaultDescriptor{}, &domain.ConfigurationError{Setting: "tvl", Reason: "must be a decimal"}
		}
		out.TVL = &tvl
	}

	return out, nil
}
