package market

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quant-agent-go/internal/cache"
	"quant-agent-go/internal/registry"
	"quant-agent-go/internal/upstream"
)

// Fundamentals is the on-chain liquidity bundle cached per ticker.
type Fundamentals struct {
	Ticker       string  `json:"ticker"`
	Chain        string  `json:"chain"`
	Address      string  `json:"address"`
	Liquidity    float64 `json:"liquidity"`
	MarketCap    float64 `json:"market_cap"`
	Price        float64 `json:"price"`
	Volume24hUSD float64 `json:"volume_24h_usd"`
}

// FundamentalsCache serves token fundamentals from a TTL cache. The provider needs the
// chain of the token address, which is resolved from the registry.
type FundamentalsCache struct {
	client   *upstream.Client
	cache    cache.Cache[Fundamentals]
	registry *registry.Registry
	logger   *zap.Logger
}

// NewFundamentals creates the fundamentals cache.
func NewFundamentals(client *upstream.Client, c cache.Cache[Fundamentals], reg *registry.Registry, logger *zap.Logger) *FundamentalsCache {
	return &FundamentalsCache{
		client:   client,
		cache:    c,
		registry: reg,
		logger:   logger.Named("fundamentals"),
	}
}

type tokenOverviewResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Liquidity flexFloat `json:"liquidity"`
		MarketCap flexFloat `json:"marketCap"`
		MC        flexFloat `json:"mc"`
		Price     flexFloat `json:"price"`
		V24hUSD   flexFloat `json:"v24hUSD"`
	} `json:"data"`
}

// Lookup returns the fundamentals for a ticker.
func (f *FundamentalsCache) Lookup(ctx context.Context, ticker string) Result[Fundamentals] {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if v, ok := f.cache.Get(ctx, ticker); ok {
		f.logger.Debug("Fundamentals cache hit", zap.String("ticker", ticker))
		return Ok(v)
	}

	asset, ok := f.registry.Lookup(ticker)
	if !ok {
		return Unavailable[Fundamentals](fmt.Sprintf("no token address known for %s", ticker))
	}

	var body tokenOverviewResponse
	req := f.client.R(ctx).
		SetQueryParam("address", asset.Address).
		SetHeader("x-chain", asset.Chain).
		SetResult(&body)
	if _, err := f.client.Get(ctx, "/defi/token_overview", req); err != nil {
		f.logger.Warn("Fundamentals fetch failed", zap.String("ticker", ticker), zap.Error(err))
		return Unavailable[Fundamentals](fmt.Sprintf("liquidity data unavailable for %s: %v", ticker, err))
	}
	if !body.Success || body.Data == nil {
		return Unavailable[Fundamentals](fmt.Sprintf("liquidity data unavailable for %s", ticker))
	}

	mc := float64(body.Data.MarketCap)
	if mc == 0 {
		mc = float64(body.Data.MC)
	}
	v := Fundamentals{
		Ticker:       ticker,
		Chain:        asset.Chain,
		Address:      asset.Address,
		Liquidity:    float64(body.Data.Liquidity),
		MarketCap:    mc,
		Price:        float64(body.Data.Price),
		Volume24hUSD: float64(body.Data.V24hUSD),
	}
	f.cache.Set(ctx, ticker, v)
	return Ok(v)
}
