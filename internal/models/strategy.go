package models

// Strategy is a read-only entry of the strategy catalog.
type Strategy struct {
	ID          string `gorm:"primaryKey;size:64" yaml:"id" json:"id"`
	Name        string `gorm:"not null" yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Condition   string `yaml:"condition" json:"condition"`
	Rules       string `gorm:"not null" yaml:"rules" json:"rules"`
	RiskProfile string `yaml:"risk_profile" json:"risk_profile"`
}
