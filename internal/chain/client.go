// Package chain talks to the EVM network: balance reads for reconciliation and
// recordTrade submissions to the trade registry contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-agent-go/internal/config"
)

// RegistryABI is the interface of the trade registry contract.
const RegistryABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"user","type":"address"},
		{"indexed":false,"internalType":"string","name":"asset","type":"string"},
		{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
		{"indexed":false,"internalType":"uint256","name":"price","type":"uint256"},
		{"indexed":false,"internalType":"string","name":"side","type":"string"},
		{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],
	 "name":"TradeExecuted","type":"event"},
	{"inputs":[
		{"internalType":"address","name":"_user","type":"address"},
		{"internalType":"string","name":"_asset","type":"string"},
		{"internalType":"uint256","name":"_amount","type":"uint256"},
		{"internalType":"uint256","name":"_price","type":"uint256"},
		{"internalType":"string","name":"_side","type":"string"}],
	 "name":"recordTrade","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"_user","type":"address"}],
	 "name":"getUserTradeCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
	 "stateMutability":"view","type":"function"}
]`

const etherDecimals = 18

var (
	// ErrNoSigner is returned by RecordTrade when no server signing key is configured.
	ErrNoSigner = errors.New("server wallet not configured")
	// ErrInvalidAddress is returned for malformed account addresses.
	ErrInvalidAddress = errors.New("invalid address")
)

// Backend is the subset of an Ethereum RPC client the chain client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Trade is the payload recorded on-chain.
type Trade struct {
	User   string
	Asset  string
	Amount decimal.Decimal
	Price  decimal.Decimal
	Side   string
}

// Options configures a Client.
type Options struct {
	RegistryAddress string
	ChainID         int64
	GasLimit        uint64
	MaxFeeGwei      float64
	TipGwei         float64
	ScaleDecimals   int32
	Timeout         time.Duration
}

// Client submits registry transactions and reads balances.
type Client struct {
	backend  Backend
	abi      abi.ABI
	registry common.Address
	chainID  *big.Int
	gasLimit uint64
	maxFee   *big.Int
	tip      *big.Int
	scale    int32
	timeout  time.Duration
	logger   *zap.Logger

	key    *ecdsa.PrivateKey
	signer common.Address
	// serializes nonce allocation and submission for the server key
	sendMu sync.Mutex
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg config.Chain, scale int32, logger *zap.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return NewClient(rpc, Options{
		RegistryAddress: cfg.RegistryAddress,
		ChainID:         cfg.ChainID,
		GasLimit:        cfg.GasLimit,
		MaxFeeGwei:      cfg.MaxFeeGwei,
		TipGwei:         cfg.TipGwei,
		ScaleDecimals:   scale,
		Timeout:         cfg.Timeout,
	}, logger)
}

// NewClient creates a chain client over an RPC backend. Call WithSigner to enable submissions.
func NewClient(backend Backend, opts Options, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(opts.RegistryAddress) {
		return nil, fmt.Errorf("registry %q: %w", opts.RegistryAddress, ErrInvalidAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	scale := opts.ScaleDecimals
	if scale == 0 {
		scale = etherDecimals
	}
	return &Client{
		backend:  backend,
		abi:      parsed,
		registry: common.HexToAddress(opts.RegistryAddress),
		chainID:  big.NewInt(opts.ChainID),
		gasLimit: opts.GasLimit,
		maxFee:   gwei(opts.MaxFeeGwei),
		tip:      gwei(opts.TipGwei),
		scale:    scale,
		timeout:  opts.Timeout,
		logger:   logger.Named("chain"),
	}, nil
}

// WithSigner configures the server signing key from a hex string.
func (c *Client) WithSigner(hexKey string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	c.key = key
	c.signer = crypto.PubkeyToAddress(key.PublicKey)
	return c, nil
}

// HasSigner reports whether submissions are possible.
func (c *Client) HasSigner() bool {
	return c.key != nil
}

// SignerAddress is the address of the server signing key.
func (c *Client) SignerAddress() string {
	return c.signer.Hex()
}

// Balance returns the native balance of an address in ether.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", address, err)
	}
	return decimal.NewFromBigInt(wei, -etherDecimals), nil
}

// ScaleAmount converts a decimal into the contract's fixed-point integer domain.
// Digits beyond the scale are truncated.
func (c *Client) ScaleAmount(v decimal.Decimal) *big.Int {
	return v.Shift(c.scale).Truncate(0).BigInt()
}

// RecordTrade signs and submits a recordTrade call and returns the transaction hash
// once the node accepts it into the pool. It does not wait for inclusion.
func (c *Client) RecordTrade(ctx context.Context, t Trade) (string, error) {
	if c.key == nil {
		return "", ErrNoSigner
	}
	if !common.IsHexAddress(t.User) {
		return "", fmt.Errorf("user %q: %w", t.User, ErrInvalidAddress)
	}
	if t.Amount.IsNegative() || t.Price.IsNegative() {
		return "", fmt.Errorf("negative amount or price for %s", t.Asset)
	}

	data, err := c.abi.Pack("recordTrade",
		common.HexToAddress(t.User),
		t.Asset,
		c.ScaleAmount(t.Amount),
		c.ScaleAmount(t.Price),
		t.Side,
	)
	if err != nil {
		return "", fmt.Errorf("pack recordTrade: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: c.tip,
		GasFeeCap: c.maxFee,
		Gas:       c.gasLimit,
		To:        &c.registry,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign recordTrade: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send recordTrade: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("Trade submitted to registry",
		zap.String("tx_hash", hash),
		zap.Uint64("nonce", nonce),
		zap.String("asset", t.Asset),
		zap.String("side", t.Side),
	)
	return hash, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func gwei(v float64) *big.Int {
	return decimal.NewFromFloat(v).Shift(9).Truncate(0).BigInt()
}
