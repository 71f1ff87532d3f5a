package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"quant-agent-go/internal/custody"
	"quant-agent-go/internal/database"
	"quant-agent-go/internal/models"
)

const threadTurns = 20

// Handle is an initialized agent for one account: its wallet, tools and thread memory.
type Handle struct {
	accountID string
	wallet    custody.Wallet
	tools     []Tool
	runner    Runner
	memory    *Memory
}

// AccountID is the normalized user address.
func (h *Handle) AccountID() string { return h.accountID }

// AgentAddress is the address of the account's agent wallet.
func (h *Handle) AgentAddress() string { return h.wallet.Address() }

// Run answers one message on a thread and remembers the exchange.
func (h *Handle) Run(ctx context.Context, threadID, input string) (string, error) {
	reply, turn, err := h.runner.Run(ctx, h.tools, h.memory.History(threadID), input)
	if err != nil {
		return "", err
	}
	h.memory.Append(threadID, turn)
	return reply, nil
}

// AccountStore persists accounts.
type AccountStore interface {
	Account(ctx context.Context, address string) (*models.Account, error)
	CreateAccount(ctx context.Context, address string, walletData []byte, agentAddress string) (*models.Account, bool, error)
}

// SessionOptions bounds the session cache.
type SessionOptions struct {
	TTL        time.Duration
	MaxEntries int
}

// Sessions maps account ids to initialized agent handles. Entries expire after TTL
// without use and the least recently used entry is evicted when full.
// Concurrent misses for the same account may both restore a handle; the last one wins.
type Sessions struct {
	cache    *expirable.LRU[string, *Handle]
	store    AccountStore
	provider custody.Provider
	toolbox  *Toolbox
	runner   Runner
	logger   *zap.Logger
}

// NewSessions creates the session cache.
func NewSessions(store AccountStore, provider custody.Provider, toolbox *Toolbox, runner Runner, opts SessionOptions, logger *zap.Logger) *Sessions {
	logger = logger.Named("sessions")
	onEvict := func(id string, _ *Handle) {
		logger.Debug("Session evicted", zap.String("account", id))
	}
	return &Sessions{
		cache:    expirable.NewLRU[string, *Handle](opts.MaxEntries, onEvict, opts.TTL),
		store:    store,
		provider: provider,
		toolbox:  toolbox,
		runner:   runner,
		logger:   logger,
	}
}

// Resolve returns the handle for an address, creating the account and its agent
// wallet on first contact.
func (s *Sessions) Resolve(ctx context.Context, address string) (*Handle, error) {
	id := database.NormalizeAddress(address)
	if h, ok := s.get(id); ok {
		return h, nil
	}

	acc, err := s.store.Account(ctx, id)
	if errors.Is(err, database.ErrAccountNotFound) {
		acc, err = s.createAccount(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return s.restore(ctx, acc)
}

// Lookup returns the handle for an existing account. It never creates accounts and
// returns database.ErrAccountNotFound for unknown addresses.
func (s *Sessions) Lookup(ctx context.Context, address string) (*Handle, error) {
	id := database.NormalizeAddress(address)
	if h, ok := s.get(id); ok {
		return h, nil
	}
	acc, err := s.store.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.restore(ctx, acc)
}

// Len is the number of cached sessions.
func (s *Sessions) Len() int {
	return s.cache.Len()
}

// get refreshes the idle TTL on a hit.
func (s *Sessions) get(id string) (*Handle, bool) {
	h, ok := s.cache.Get(id)
	if ok {
		s.cache.Add(id, h)
	}
	return h, ok
}

func (s *Sessions) createAccount(ctx context.Context, id string) (*models.Account, error) {
	wallet, err := s.provider.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create agent wallet: %w", err)
	}
	blob, err := s.provider.Export(wallet)
	if err != nil {
		return nil, fmt.Errorf("export agent wallet: %w", err)
	}
	// A concurrent request may have created the account first; the stored one wins.
	acc, _, err := s.store.CreateAccount(ctx, id, blob, wallet.Address())
	return acc, err
}

func (s *Sessions) restore(ctx context.Context, acc *models.Account) (*Handle, error) {
	wallet, err := s.provider.Restore(ctx, acc.AgentWalletData)
	if err != nil {
		return nil, fmt.Errorf("restore agent wallet for %s: %w", acc.ID, err)
	}
	h := &Handle{
		accountID: acc.ID,
		wallet:    wallet,
		tools:     s.toolbox.Tools(wallet),
		runner:    s.runner,
		memory:    NewMemory(threadTurns),
	}
	s.cache.Add(acc.ID, h)
	s.logger.Info("Agent session initialized", zap.String("account", acc.ID), zap.String("agent_address", wallet.Address()))
	return h, nil
}
