// Package settlement turns a parsed trade intent into an on-chain registry record and a
// persisted trade with its portfolio delta.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-agent-go/internal/action"
	"quant-agent-go/internal/chain"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/models"
	"quant-agent-go/internal/registry"
)

// Rate sources stored on the trade record.
const (
	RateLive     = "live"
	RateFallback = "fallback"
	RateNative   = "native"
)

// Recorder submits trades to the on-chain registry.
type Recorder interface {
	HasSigner() bool
	RecordTrade(ctx context.Context, t chain.Trade) (string, error)
}

// Ledger persists trades together with their portfolio delta.
type Ledger interface {
	RecordTrade(ctx context.Context, trade *models.Trade, delta database.PortfolioDelta) error
}

// PriceSource returns cached USD prices.
type PriceSource interface {
	Price(ticker string) (float64, bool)
}

// Options configures the pipeline.
type Options struct {
	// SettlementCurrency is the ticker virtual spend is denominated in.
	SettlementCurrency string
	// FallbackRateUSD converts USD notional into settlement currency when no live price is cached.
	FallbackRateUSD float64
}

// Pipeline runs validate, price, submit, persist for a single intent.
type Pipeline struct {
	registry *registry.Registry
	prices   PriceSource
	chain    Recorder
	ledger   Ledger
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

// NewPipeline creates a settlement pipeline.
func NewPipeline(reg *registry.Registry, prices PriceSource, recorder Recorder, ledger Ledger, opts Options, logger *zap.Logger) *Pipeline {
	opts.SettlementCurrency = strings.ToUpper(opts.SettlementCurrency)
	return &Pipeline{
		registry: reg,
		prices:   prices,
		chain:    recorder,
		ledger:   ledger,
		opts:     opts,
		now:      time.Now,
		logger:   logger.Named("settlement"),
	}
}

// Receipt describes a settled trade.
type Receipt struct {
	TxHash string
	Trade  models.Trade
}

// Settle executes the intent for an account. Validation failures touch neither chain nor
// database. Submission failures leave the database untouched and are not retried.
// A persistence failure after a successful submission still returns the tx hash.
func (p *Pipeline) Settle(ctx context.Context, accountID string, intent action.Intent) (Receipt, error) {
	logger := p.logger.With(zap.String("account", accountID), zap.Stringer("intent", intent))

	// Validate
	ticker := strings.ToUpper(intent.Ticker)
	if !p.registry.Supports(ticker) {
		return Receipt{}, newError(ErrUnsupportedAsset, fmt.Errorf("asset '%s' not supported", ticker))
	}
	if !intent.Amount.IsPositive() {
		return Receipt{}, newError(ErrInvalidAmount, fmt.Errorf("amount must be positive, got %s", intent.Amount))
	}
	if intent.Side != action.Buy && intent.Side != action.Sell {
		return Receipt{}, newError(ErrInvalidAmount, fmt.Errorf("unknown side %q", intent.Side))
	}

	// Price. An unknown price proceeds as zero.
	price, ok := p.prices.Price(ticker)
	if !ok {
		logger.Warn("No cached price, settling at zero")
	}

	// Submit
	if !p.chain.HasSigner() {
		return Receipt{}, newError(ErrSettlementUnavailable, chain.ErrNoSigner)
	}
	txHash, err := p.chain.RecordTrade(ctx, chain.Trade{
		User:   accountID,
		Asset:  ticker,
		Amount: intent.Amount,
		Price:  decimal.NewFromFloat(price),
		Side:   string(intent.Side),
	})
	if err != nil {
		if errors.Is(err, chain.ErrNoSigner) {
			return Receipt{}, newError(ErrSettlementUnavailable, err)
		}
		logger.Warn("Registry submission failed", zap.Error(err))
		return Receipt{}, newError(ErrChainSubmissionFailed, err)
	}

	// Persist
	amount := intent.Amount.InexactFloat64()
	trade, delta := p.ledgerEntry(logger, accountID, ticker, intent.Side, amount, price)
	trade.TxHash = txHash
	if err := p.ledger.RecordTrade(ctx, &trade, delta); err != nil {
		logger.Error("Trade submitted on-chain but not persisted", zap.String("tx_hash", txHash), zap.Error(err))
		return Receipt{TxHash: txHash}, newError(ErrPersistenceFailed, err)
	}

	return Receipt{TxHash: txHash, Trade: trade}, nil
}

// ledgerEntry builds the trade record and its portfolio delta. Trades of the settlement
// currency itself move virtual spend by the amount and leave the holding to reconciliation.
func (p *Pipeline) ledgerEntry(logger *zap.Logger, accountID, ticker string, side action.Side, amount, price float64) (models.Trade, database.PortfolioDelta) {
	valueUSD := amount * price
	sign := 1.0
	if side == action.Sell {
		sign = -1
	}

	trade := models.Trade{
		PublicID:  uuid.NewString(),
		AccountID: accountID,
		Asset:     ticker,
		Side:      string(side),
		Amount:    amount,
		Price:     price,
		ValueUSD:  valueUSD,
		Timestamp: p.now().Unix(),
	}

	if ticker == p.opts.SettlementCurrency {
		trade.Rate, trade.RateSource = price, RateNative
		return trade, database.PortfolioDelta{Asset: ticker, VirtualSpend: sign * amount}
	}

	rate, ok := p.prices.Price(p.opts.SettlementCurrency)
	trade.RateSource = RateLive
	if !ok || rate <= 0 {
		rate = p.opts.FallbackRateUSD
		trade.RateSource = RateFallback
		logger.Warn("Using fallback settlement rate", zap.Float64("rate", rate))
	}
	trade.Rate = rate

	var spend float64
	if rate > 0 {
		spend = valueUSD / rate
	}
	return trade, database.PortfolioDelta{
		Asset:        ticker,
		Quantity:     sign * amount,
		VirtualSpend: sign * spend,
	}
}
