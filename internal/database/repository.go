// Package database owns the gorm connection and the account, trade and strategy storage.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quant-agent-go/internal/models"
)

var (
	// ErrAccountNotFound is returned when no account exists for an address.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStrategyNotFound is returned when the catalog has no such strategy.
	ErrStrategyNotFound = errors.New("strategy not found")
)

// NormalizeAddress is the account key for a wallet address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// PortfolioDelta is applied together with a trade record.
type PortfolioDelta struct {
	Asset string
	// Quantity is added to the asset holding; zero leaves the holding untouched.
	Quantity float64
	// VirtualSpend is added to the account's virtual spend accumulator.
	VirtualSpend float64
}

// Repository provides account, trade and strategy persistence.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a repository over an open connection.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger.Named("repository")}
}

// Account loads an account with its holdings.
func (r *Repository) Account(ctx context.Context, address string) (*models.Account, error) {
	var acc models.Account
	err := r.db.WithContext(ctx).Preload("Holdings").First(&acc, "id = ?", NormalizeAddress(address)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &acc, nil
}

// CreateAccount inserts a new account unless one already exists for the address, and
// returns the stored account. created is false when a concurrent request won the race.
func (r *Repository) CreateAccount(ctx context.Context, address string, walletData []byte, agentAddress string) (acc *models.Account, created bool, err error) {
	id := NormalizeAddress(address)
	candidate := models.Account{ID: id, AgentWalletData: walletData, AgentAddress: agentAddress}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create account: %w", res.Error)
	}
	created = res.RowsAffected == 1
	if created {
		r.logger.Info("Account created", zap.String("account", id), zap.String("agent_address", agentAddress))
	}

	acc, err = r.Account(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return acc, created, nil
}

// Portfolio returns asset -> quantity for an account.
func (r *Repository) Portfolio(ctx context.Context, address string) (map[string]float64, error) {
	var holdings []models.Holding
	if err := r.db.WithContext(ctx).Where("account_id = ?", NormalizeAddress(address)).Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	out := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		out[h.Asset] = h.Quantity
	}
	return out, nil
}

// SetHolding overwrites the quantity of one asset.
func (r *Repository) SetHolding(ctx context.Context, address, asset string, quantity float64) error {
	h := models.Holding{AccountID: NormalizeAddress(address), Asset: strings.ToUpper(asset), Quantity: quantity}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&h).Error
	if err != nil {
		return fmt.Errorf("set holding %s: %w", asset, err)
	}
	return nil
}

// RecordTrade appends the trade and applies the portfolio delta in one transaction.
// Both updates are relative increments so interleaved trades do not lose writes.
func (r *Repository) RecordTrade(ctx context.Context, trade *models.Trade, delta PortfolioDelta) error {
	id := NormalizeAddress(trade.AccountID)
	trade.AccountID = id
	asset := strings.ToUpper(delta.Asset)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).Where("id = ?", id).
			Update("invested_eth", gorm.Expr("invested_eth + ?", delta.VirtualSpend))
		if res.Error != nil {
			return fmt.Errorf("update virtual spend: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		if delta.Quantity != 0 {
			h := models.Holding{AccountID: id, Asset: asset, Quantity: delta.Quantity}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "account_id"}, {Name: "asset"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"quantity":   gorm.Expr("holdings.quantity + excluded.quantity"),
					"updated_at": gorm.Expr("excluded.updated_at"),
				}),
			}).Create(&h).Error
			if err != nil {
				return fmt.Errorf("update holding %s: %w", asset, err)
			}
		}

		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Trade recorded",
		zap.String("account", id),
		zap.String("side", trade.Side),
		zap.String("asset", trade.Asset),
		zap.Float64("amount", trade.Amount),
		zap.Float64("virtual_spend_delta", delta.VirtualSpend),
	)
	return nil
}

// Trades returns an account's trades, newest first.
func (r *Repository) Trades(ctx context.Context, address string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("account_id = ?", NormalizeAddress(address)).
		Order("timestamp DESC").Order("id DESC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	return trades, nil
}

// Strategy looks up a catalog entry by id.
func (r *Repository) Strategy(ctx context.Context, id string) (*models.Strategy, error) {
	var s models.Strategy
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStrategyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	return &s, nil
}
