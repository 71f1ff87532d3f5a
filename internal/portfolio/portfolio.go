// Package portfolio reconciles the virtual spend ledger with the on-chain balance and
// values holdings in USD.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-agent-go/internal/models"
)

// BalanceReader reads native on-chain balances.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Store is the account storage used by the reconciler.
type Store interface {
	Account(ctx context.Context, address string) (*models.Account, error)
	SetHolding(ctx context.Context, address, asset string, quantity float64) error
}

// PriceSource returns cached USD prices.
type PriceSource interface {
	Price(ticker string) (float64, bool)
}

// Reconciler derives the displayed settlement-currency balance.
type Reconciler struct {
	chain    BalanceReader
	store    Store
	currency string
	logger   *zap.Logger
}

// NewReconciler creates a reconciler for the given settlement currency ticker.
func NewReconciler(chain BalanceReader, store Store, currency string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		chain:    chain,
		store:    store,
		currency: strings.ToUpper(currency),
		logger:   logger.Named("reconciler"),
	}
}

// Display is max(0, real - virtualSpend).
func Display(real, virtualSpend float64) float64 {
	return math.Max(0, real-virtualSpend)
}

// Reconcile reads the agent wallet's real balance and stores the display balance as the
// settlement-currency holding. When the balance cannot be read, reconciliation is skipped:
// reconciled is false and the stored holding is left as it was. Only storage failures
// are returned as errors.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string) (display float64, reconciled bool, err error) {
	acc, err := r.store.Account(ctx, accountID)
	if err != nil {
		return 0, false, err
	}

	real, err := r.chain.Balance(ctx, acc.AgentAddress)
	if err != nil {
		r.logger.Warn("Skipping reconciliation, balance unavailable",
			zap.String("account", acc.ID),
			zap.String("agent_address", acc.AgentAddress),
			zap.Error(err),
		)
		return 0, false, nil
	}

	display = Display(real.InexactFloat64(), acc.InvestedETH)
	if err := r.store.SetHolding(ctx, acc.ID, r.currency, display); err != nil {
		return 0, false, fmt.Errorf("store reconciled balance: %w", err)
	}

	r.logger.Debug("Balance reconciled",
		zap.String("account", acc.ID),
		zap.Float64("real", real.InexactFloat64()),
		zap.Float64("virtual_spend", acc.InvestedETH),
		zap.Float64("display", display),
	)
	return display, true, nil
}

// Value sums quantity x price over positive holdings. Unpriced assets count as zero.
func Value(holdings map[string]float64, prices PriceSource) float64 {
	var total float64
	for asset, qty := range holdings {
		if qty <= 0 {
			continue
		}
		price, _ := prices.Price(asset)
		total += qty * price
	}
	return total
}

// Positive returns the holdings with a quantity above zero.
func Positive(holdings map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(holdings))
	for asset, qty := range holdings {
		if qty > 0 {
			out[asset] = qty
		}
	}
	return out
}
