package models

import "gorm.io/gorm"

// Trade represents a settled trade. Rows are append-only.
type Trade struct {
	gorm.Model `json:"-"`
	PublicID   string  `gorm:"size:36;uniqueIndex" json:"id"`
	AccountID  string  `gorm:"size:64;index" json:"-"`
	Asset      string  `json:"asset"`
	Side       string  `json:"side"` // "BUY" or "SELL"
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	ValueUSD   float64 `json:"value_usd"`
	TxHash     string  `json:"tx_hash"`
	// Rate is the settlement currency USD price used to convert ValueUSD into virtual spend.
	Rate       float64 `json:"rate"`
	RateSource string  `json:"rate_source"` // "live" or "fallback"
	Timestamp  int64   `gorm:"index" json:"timestamp"`
}
