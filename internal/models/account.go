package models

import "time"

// Account is a user identified by their lower-cased wallet address.
type Account struct {
	ID string `gorm:"primaryKey;size:64" json:"id"`
	// AgentWalletData is the custody credential blob of the agent wallet.
	AgentWalletData []byte `json:"-"`
	AgentAddress    string `gorm:"size:64;index" json:"agent_address"`
	// InvestedETH is the virtual spend accumulator in settlement currency.
	InvestedETH float64   `gorm:"not null;default:0" json:"invested_eth"`
	Holdings    []Holding `gorm:"foreignKey:AccountID" json:"holdings,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Holding is the quantity of one asset in an account's portfolio snapshot.
type Holding struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	AccountID string    `gorm:"size:64;uniqueIndex:idx_account_asset" json:"-"`
	Asset     string    `gorm:"size:32;uniqueIndex:idx_account_asset" json:"asset"`
	Quantity  float64   `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}
