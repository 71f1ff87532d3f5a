package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"quant-agent-go/internal/registry"
	"quant-agent-go/internal/upstream"
)

// ExtraPriceIDs are tickers priced for the agent's tools that are not tradable assets.
var ExtraPriceIDs = map[string]string{
	"COMP": "compound-governance-token",
	"AAVE": "aave",
}

// Snapshot is a point-in-time copy of the price cache.
type Snapshot struct {
	Prices      map[string]float64
	LastUpdated time.Time
}

// MarshalJSON renders the snapshot as lower-case ticker -> price plus last_updated in unix seconds.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(s.Prices)+1)
	for k, v := range s.Prices {
		out[strings.ToLower(k)] = v
	}
	var ts float64
	if !s.LastUpdated.IsZero() {
		ts = float64(s.LastUpdated.UnixMilli()) / 1000
	}
	out["last_updated"] = ts
	return json.Marshal(out)
}

// PriceCache holds the last known USD price of every priced ticker. All tickers are
// refreshed together in one batch call, at most once per freshness window. A failed
// refresh is not retried until a freshness window has passed since the attempt.
type PriceCache struct {
	client    *upstream.Client
	logger    *zap.Logger
	freshness time.Duration
	now       func() time.Time

	// ticker -> coingecko id
	ids    map[string]string
	stable map[string]bool

	refreshMu   sync.Mutex
	mu          sync.RWMutex
	prices      map[string]float64
	lastUpdated time.Time
	lastAttempt time.Time
	lastErr     error
}

// NewPriceCache creates a price cache for every asset in the registry plus the extra ids.
func NewPriceCache(client *upstream.Client, reg *registry.Registry, extra map[string]string, freshness time.Duration, logger *zap.Logger) *PriceCache {
	p := &PriceCache{
		client:    client,
		logger:    logger.Named("prices"),
		freshness: freshness,
		now:       time.Now,
		ids:       make(map[string]string),
		stable:    make(map[string]bool),
		prices:    make(map[string]float64),
	}
	for _, t := range reg.Tickers() {
		a, _ := reg.Lookup(t)
		if a.Stable {
			p.stable[t] = true
			p.prices[t] = 1
			continue
		}
		if a.PriceID != "" {
			p.ids[t] = a.PriceID
		}
	}
	for t, id := range extra {
		p.ids[strings.ToUpper(t)] = id
	}
	return p
}

// WithClock replaces the time source, for tests.
func (p *PriceCache) WithClock(now func() time.Time) *PriceCache {
	p.now = now
	return p
}

// Fresh reports whether the last successful refresh is younger than the freshness window.
func (p *PriceCache) Fresh() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freshLocked()
}

func (p *PriceCache) freshLocked() bool {
	return !p.lastUpdated.IsZero() && p.now().Sub(p.lastUpdated) < p.freshness
}

// Refresh fetches every price in one batch call unless the cache is still fresh.
// It never waits on another caller: while a refresh is in flight the cached prices are
// served as they are. After a failure the previous prices are kept, and the same error
// is returned without contacting the upstream until the freshness window has passed.
func (p *PriceCache) Refresh(ctx context.Context) error {
	if p.Fresh() {
		return nil
	}
	if !p.refreshMu.TryLock() {
		return nil
	}
	defer p.refreshMu.Unlock()
	if p.Fresh() {
		return nil
	}
	if err := p.recentFailure(); err != nil {
		return err
	}

	idSet := make(map[string]struct{}, len(p.ids))
	for _, id := range p.ids {
		idSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var body map[string]map[string]float64
	req := p.client.R(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&body)
	_, err := p.client.Get(ctx, "/simple/price", req)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAttempt = p.now()
	if err != nil {
		p.lastErr = fmt.Errorf("refresh prices: %w", err)
		p.logger.Warn("Price refresh failed, keeping stale prices", zap.Error(err))
		return p.lastErr
	}
	p.lastErr = nil
	for ticker, id := range p.ids {
		if quote, ok := body[id]; ok {
			if usd, ok := quote["usd"]; ok {
				p.prices[ticker] = usd
			}
		}
	}
	p.lastUpdated = p.lastAttempt
	p.logger.Debug("Prices refreshed", zap.Int("count", len(body)))
	return nil
}

// recentFailure returns the last refresh error if it happened within the freshness window.
func (p *PriceCache) recentFailure() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastErr != nil && p.now().Sub(p.lastAttempt) < p.freshness {
		return p.lastErr
	}
	return nil
}

// Price returns the cached USD price for a ticker, case-insensitively.
// Stablecoins are always 1. The second result is false for unknown or never fetched tickers.
func (p *PriceCache) Price(ticker string) (float64, bool) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if p.stable[t] || t == "USDT" {
		return 1, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.prices[t]
	return v, ok
}

// Snapshot returns a copy of every cached price.
func (p *PriceCache) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return Snapshot{Prices: out, LastUpdated: p.lastUpdated}
}
