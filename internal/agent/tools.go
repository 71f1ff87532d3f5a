package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"quant-agent-go/internal/custody"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/market"
	"quant-agent-go/internal/models"
)

// Strategy ids selected by get_strategy_rules.
const (
	StrategyBullish = "momentum_breakout"
	StrategyDefault = "mean_reversion"
)

// MacroSource reports macro market health.
type MacroSource interface {
	Health(ctx context.Context) market.Health
}

// TechnicalSource serves cached technical indicators.
type TechnicalSource interface {
	Analyze(ctx context.Context, ticker string) market.Result[market.Technicals]
}

// FundamentalSource serves cached token fundamentals.
type FundamentalSource interface {
	Lookup(ctx context.Context, ticker string) market.Result[market.Fundamentals]
}

// NewsSource builds a news digest for a topic.
type NewsSource interface {
	Digest(ctx context.Context, topic string) string
}

// StrategySource reads the strategy catalog.
type StrategySource interface {
	Strategy(ctx context.Context, id string) (*models.Strategy, error)
}

// PriceSource returns cached USD prices.
type PriceSource interface {
	Price(ticker string) (float64, bool)
}

// BalanceReader reads native on-chain balances.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Toolbox builds the tools handed to the model.
type Toolbox struct {
	Macro        MacroSource
	Technicals   TechnicalSource
	Fundamentals FundamentalSource
	News         NewsSource
	Strategies   StrategySource
	Prices       PriceSource
	Balances     BalanceReader
}

func stringParam(name, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{"type": "string", "description": description},
		},
		"required": []string{name},
	}
}

func decodeArg(args json.RawMessage, name string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	v, _ := m[name].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("missing %q", name)
	}
	return v, nil
}

// Tools returns the tool set for one agent wallet.
func (b *Toolbox) Tools(wallet custody.Wallet) []Tool {
	return []Tool{
		{
			Name:        "check_market_conditions",
			Description: "Checks the big picture: Bitcoin ETF flows and derivatives funding. Always call this before recommending a trade.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Call: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return b.MarketConditions(ctx), nil
			},
		},
		{
			Name:        "analyze_token",
			Description: "Analyzes a token's technicals (RSI, EMA, signal) and fundamentals (liquidity).",
			Parameters:  stringParam("ticker", "Token ticker, e.g. ETH"),
			Call: func(ctx context.Context, args json.RawMessage) (string, error) {
				ticker, err := decodeArg(args, "ticker")
				if err != nil {
					return "", err
				}
				return b.AnalyzeToken(ctx, ticker), nil
			},
		},
		{
			Name:        "get_news_sentiment",
			Description: "Searches recent headlines about a token plus ETF and regulation news.",
			Parameters:  stringParam("query", "Token or topic to search for"),
			Call: func(ctx context.Context, args json.RawMessage) (string, error) {
				q, err := decodeArg(args, "query")
				if err != nil {
					return "", err
				}
				return b.News.Digest(ctx, q), nil
			},
		},
		{
			Name:        "get_strategy_rules",
			Description: "Fetches the trading strategy that fits the given market sentiment.",
			Parameters:  stringParam("sentiment", "Market sentiment, e.g. bullish or bearish"),
			Call: func(ctx context.Context, args json.RawMessage) (string, error) {
				s, err := decodeArg(args, "sentiment")
				if err != nil {
					return "", err
				}
				return b.StrategyRules(ctx, s)
			},
		},
		{
			Name:        "get_crypto_price",
			Description: "Checks the current USD price of an asset.",
			Parameters:  stringParam("asset", "Asset ticker, e.g. SOL"),
			Call: func(_ context.Context, args json.RawMessage) (string, error) {
				asset, err := decodeArg(args, "asset")
				if err != nil {
					return "", err
				}
				return b.CryptoPrice(asset), nil
			},
		},
		{
			Name:        "get_wallet_details",
			Description: "Returns the agent wallet address and its native balance.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Call: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return b.WalletDetails(ctx, wallet), nil
			},
		},
	}
}

// MarketConditions renders the macro health report.
func (b *Toolbox) MarketConditions(ctx context.Context) string {
	h := b.Macro.Health(ctx)
	return fmt.Sprintf("MACRO SENTIMENT: %s\nDETAILS:\n%s", h.Sentiment, strings.ReplaceAll(h.Details, " | ", "\n"))
}

// AnalyzeToken renders technicals and liquidity for a ticker.
func (b *Toolbox) AnalyzeToken(ctx context.Context, ticker string) string {
	ticker = strings.ToUpper(ticker)
	tech := b.Technicals.Analyze(ctx, ticker)
	fund := b.Fundamentals.Lookup(ctx, ticker)

	var sb strings.Builder
	fmt.Fprintf(&sb, "ANALYSIS FOR %s:\n", ticker)
	if fund.Available() {
		fmt.Fprintf(&sb, "- Chain: %s\n", fund.Value.Chain)
	}
	if tech.Available() {
		fmt.Fprintf(&sb, "- Price: $%.4f\n- Signal: %s\n- RSI: %.2f\n- EMA: %.4f\n- Rationale: %s\n",
			tech.Value.Price, tech.Value.Signal, tech.Value.RSI, tech.Value.EMA, tech.Value.Rationale)
	} else {
		fmt.Fprintf(&sb, "- Signal: %s\n- Technicals: %s\n", tech.Value.Signal, tech.Reason)
	}
	if fund.Available() {
		fmt.Fprintf(&sb, "- Liquidity: $%.0f\n- Market Cap: $%.0f\n", fund.Value.Liquidity, fund.Value.MarketCap)
	} else {
		fmt.Fprintf(&sb, "- Liquidity: %s\n", fund.Reason)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StrategyRules picks momentum_breakout for bullish sentiment and mean_reversion otherwise.
func (b *Toolbox) StrategyRules(ctx context.Context, sentiment string) (string, error) {
	id := StrategyDefault
	if strings.Contains(strings.ToLower(sentiment), "bullish") {
		id = StrategyBullish
	}
	s, err := b.Strategies.Strategy(ctx, id)
	if errors.Is(err, database.ErrStrategyNotFound) {
		return "Strategy not found.", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("STRATEGY: %s\nRULES: %s", s.Name, strings.TrimSpace(s.Rules)), nil
}

// CryptoPrice renders the cached price of an asset.
func (b *Toolbox) CryptoPrice(asset string) string {
	p, ok := b.Prices.Price(asset)
	if !ok || p == 0 {
		return "Price Unavailable"
	}
	return "$" + decimal.NewFromFloat(p).String()
}

// WalletDetails renders the agent wallet address and balance.
func (b *Toolbox) WalletDetails(ctx context.Context, wallet custody.Wallet) string {
	bal, err := b.Balances.Balance(ctx, wallet.Address())
	if err != nil {
		return fmt.Sprintf("Wallet: %s\nBalance: unavailable (%v)", wallet.Address(), err)
	}
	return fmt.Sprintf("Wallet: %s\nBalance: %s ETH", wallet.Address(), bal.StringFixed(6))
}
