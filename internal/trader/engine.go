// Package trader orchestrates a user request: resolve the agent session, run the agent,
// parse its action directive, settle the trade and report the reconciled portfolio.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-agent-go/internal/action"
	"quant-agent-go/internal/agent"
	"quant-agent-go/internal/market"
	"quant-agent-go/internal/models"
	"quant-agent-go/internal/portfolio"
	"quant-agent-go/internal/settlement"
)

// AgentFailure replaces the reply when the agent itself fails.
const AgentFailure = "Neural link error."

const defaultThread = "default"

// InjectedTickers are the live prices appended to every user message.
var InjectedTickers = []string{"ETH", "UNI", "LINK", "SOL", "PEPE"}

// Prices is the shared price cache.
type Prices interface {
	Refresh(ctx context.Context) error
	Price(ticker string) (float64, bool)
	Snapshot() market.Snapshot
}

// Settler executes parsed intents.
type Settler interface {
	Settle(ctx context.Context, accountID string, intent action.Intent) (settlement.Receipt, error)
}

// Reconciler refreshes the settlement-currency holding from chain.
type Reconciler interface {
	Reconcile(ctx context.Context, accountID string) (display float64, reconciled bool, err error)
}

// Store reads account state.
type Store interface {
	Portfolio(ctx context.Context, address string) (map[string]float64, error)
	Trades(ctx context.Context, address string) ([]models.Trade, error)
}

// Options tunes the engine.
type Options struct {
	// WarmEvery is the background price refresh interval. Zero disables the warmer loop.
	WarmEvery time.Duration
}

// Engine serves user requests over the agent sessions and the settlement pipeline.
type Engine struct {
	logger     *zap.Logger
	sessions   *agent.Sessions
	settler    Settler
	reconciler Reconciler
	store      Store
	prices     Prices
	opts       Options
}

// NewEngine creates a new engine.
func NewEngine(logger *zap.Logger, sessions *agent.Sessions, settler Settler, reconciler Reconciler, store Store, prices Prices, opts Options) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		sessions:   sessions,
		settler:    settler,
		reconciler: reconciler,
		store:      store,
		prices:     prices,
		opts:       opts,
	}
}

// Run warms the price cache at startup and keeps it warm until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.warm(ctx)
	if e.opts.WarmEvery <= 0 {
		return
	}

	ticker := time.NewTicker(e.opts.WarmEvery)
	defer ticker.Stop()

	e.logger.Info("Starting price warmer", zap.Duration("interval", e.opts.WarmEvery))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping price warmer...")
			return
		case <-ticker.C:
			e.warm(ctx)
		}
	}
}

func (e *Engine) warm(ctx context.Context) {
	if err := e.prices.Refresh(ctx); err != nil {
		e.logger.Warn("Price refresh failed, serving cached prices", zap.Error(err))
	}
}

// UserState is the initial view of an account.
type UserState struct {
	AgentAddress string             `json:"agent_address"`
	Portfolio    map[string]float64 `json:"portfolio"`
	Trades       []models.Trade     `json:"trades"`
	TotalUSD     float64            `json:"total_usd"`
	Prices       market.Snapshot    `json:"prices"`
}

// InitUser resolves (or creates) the account's agent, reconciles its balance and
// returns portfolio, trades and valuation.
func (e *Engine) InitUser(ctx context.Context, address string) (*UserState, error) {
	h, err := e.sessions.Resolve(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	e.warm(ctx)

	if _, _, err := e.reconciler.Reconcile(ctx, h.AccountID()); err != nil {
		return nil, err
	}
	holdings, err := e.store.Portfolio(ctx, h.AccountID())
	if err != nil {
		return nil, err
	}
	trades, err := e.store.Trades(ctx, h.AccountID())
	if err != nil {
		return nil, err
	}

	return &UserState{
		AgentAddress: h.AgentAddress(),
		Portfolio:    holdings,
		Trades:       trades,
		TotalUSD:     portfolio.Value(holdings, e.prices),
		Prices:       e.prices.Snapshot(),
	}, nil
}

// Reply is the agent's answer to one message.
type Reply struct {
	Result       string `json:"result"`
	AgentAddress string `json:"agent_address"`
}

// HandleMessage runs the agent for an existing account and settles the first action
// directive in its reply. Unknown accounts return database.ErrAccountNotFound.
// Agent and settlement failures are rendered into the reply text.
func (e *Engine) HandleMessage(ctx context.Context, address, input, threadID string) (*Reply, error) {
	h, err := e.sessions.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	if threadID == "" {
		threadID = defaultThread
	}
	l := e.logger.With(zap.String("account", h.AccountID()), zap.String("thread", threadID))

	e.warm(ctx)
	holdings, err := e.store.Portfolio(ctx, h.AccountID())
	if err != nil {
		return nil, err
	}

	text, err := h.Run(ctx, threadID, input+e.injection(holdings))
	if err != nil {
		l.Error("Agent run failed", zap.Error(err))
		return &Reply{Result: AgentFailure, AgentAddress: h.AgentAddress()}, nil
	}

	if intent, ok := action.Parse(text); ok {
		l.Info("Action directive found", zap.Stringer("intent", intent))
		text += e.execute(ctx, l, h.AccountID(), intent)
	}
	return &Reply{Result: text, AgentAddress: h.AgentAddress()}, nil
}

func (e *Engine) execute(ctx context.Context, l *zap.Logger, accountID string, intent action.Intent) string {
	receipt, err := e.settler.Settle(ctx, accountID, intent)
	switch {
	case errors.Is(err, settlement.ErrUnsupportedAsset):
		return fmt.Sprintf("\n\n> **ERROR**: Asset '%s' not supported.", intent.Ticker)
	case err != nil:
		l.Warn("Execution failed", zap.Error(err))
		return fmt.Sprintf("\n\n> **EXECUTION FAILED**\n> Error: %v", err)
	}
	return fmt.Sprintf("\n\n> **%s CONFIRMED**\n> Asset: %s\n> Amount: %s\n> Hash: %s",
		intent.Side, intent.Ticker, intent.Amount.String(), receipt.TxHash)
}

// injection renders live prices and the user's positive holdings for the agent.
func (e *Engine) injection(holdings map[string]float64) string {
	prices := make([]string, 0, len(InjectedTickers))
	for _, t := range InjectedTickers {
		p, _ := e.prices.Price(t)
		prices = append(prices, fmt.Sprintf("%s=$%s", t, decimal.NewFromFloat(p).String()))
	}

	positive := portfolio.Positive(holdings)
	assets := make([]string, 0, len(positive))
	for a := range positive {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	lines := make([]string, 0, len(assets))
	for _, a := range assets {
		lines = append(lines, fmt.Sprintf("%s: %.4f", a, positive[a]))
	}
	held := "ETH Only"
	if len(lines) > 0 {
		held = strings.Join(lines, ", ")
	}

	return fmt.Sprintf("\n\n[SYSTEM DATA INJECTION]\n- Live Prices: %s\n- User Portfolio: %s\n[END DATA]",
		strings.Join(prices, ", "), held)
}

// Trades returns an existing account's trades, newest first.
func (e *Engine) Trades(ctx context.Context, address string) ([]models.Trade, error) {
	h, err := e.sessions.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	return e.store.Trades(ctx, h.AccountID())
}

// AgentStatus returns the current price snapshot.
func (e *Engine) AgentStatus(ctx context.Context) market.Snapshot {
	e.warm(ctx)
	return e.prices.Snapshot()
}
