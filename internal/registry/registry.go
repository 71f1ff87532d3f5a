// Package registry holds the static catalog of assets the agent is allowed to trade.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Chains known to the registry.
const (
	ChainBase   = "base"
	ChainSolana = "solana"
)

// Asset describes a supported token.
type Asset struct {
	Ticker  string
	Address string
	Chain   string
	// PriceID is the CoinGecko id used by the price cache.
	PriceID string
	// Stable assets are priced at 1 USD without an upstream lookup.
	Stable bool
}

// Registry is an immutable ticker -> asset lookup.
type Registry struct {
	assets map[string]Asset
}

var defaultAssets = []Asset{
	{Ticker: "WETH", Address: "0x4200000000000000000000000000000000000006", Chain: ChainBase, PriceID: "ethereum"},
	{Ticker: "ETH", Address: "0x4200000000000000000000000000000000000006", Chain: ChainBase, PriceID: "ethereum"},
	{Ticker: "USDC", Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Chain: ChainBase, PriceID: "usd-coin", Stable: true},
	{Ticker: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Chain: ChainBase, PriceID: "uniswap"},
	{Ticker: "LINK", Address: "0xE4aB69C077896252FAFBD49EFD26B5D171A32410", Chain: ChainBase, PriceID: "chainlink"},
	{Ticker: "PEPE", Address: "0x6982508145454Ce325dDbE47a25d4ec3d2311933", Chain: ChainBase, PriceID: "pepe"},
	{Ticker: "BTC", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Chain: ChainBase, PriceID: "bitcoin"}, // WBTC
	{Ticker: "SOL", Address: "So11111111111111111111111111111111111111112", Chain: ChainSolana, PriceID: "solana"},
}

// New builds a registry, validating every address for its chain.
func New(assets []Asset) (*Registry, error) {
	r := &Registry{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		a.Ticker = strings.ToUpper(strings.TrimSpace(a.Ticker))
		if a.Ticker == "" {
			return nil, fmt.Errorf("asset with empty ticker")
		}
		if err := validateAddress(a.Chain, a.Address); err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.Ticker, err)
		}
		if _, dup := r.assets[a.Ticker]; dup {
			return nil, fmt.Errorf("duplicate asset %s", a.Ticker)
		}
		r.assets[a.Ticker] = a
	}
	return r, nil
}

// Default returns the registry of assets supported on Base Sepolia.
func Default() *Registry {
	r, err := New(defaultAssets)
	if err != nil {
		panic(fmt.Sprintf("invalid default registry: %v", err))
	}
	return r
}

func validateAddress(chain, address string) error {
	switch chain {
	case ChainSolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", address, err)
		}
	case ChainBase:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid evm address %q", address)
		}
	default:
		return fmt.Errorf("unknown chain %q", chain)
	}
	return nil
}

// Lookup returns the asset for a ticker, case-insensitively.
func (r *Registry) Lookup(ticker string) (Asset, bool) {
	a, ok := r.assets[strings.ToUpper(strings.TrimSpace(ticker))]
	return a, ok
}

// Supports reports whether the ticker can be traded.
func (r *Registry) Supports(ticker string) bool {
	_, ok := r.Lookup(ticker)
	return ok
}

// Tickers returns all supported tickers in sorted order.
func (r *Registry) Tickers() []string {
	out := make([]string, 0, len(r.assets))
	for t := range r.assets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
