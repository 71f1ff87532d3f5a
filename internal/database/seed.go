package database

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm/clause"

	"quant-agent-go/internal/models"
)

type strategyFile struct {
	Strategies []models.Strategy `yaml:"strategies"`
}

// LoadStrategies reads a strategy catalog file.
func LoadStrategies(path string) ([]models.Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies: %w", err)
	}
	var f strategyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse strategies: %w", err)
	}
	for i, s := range f.Strategies {
		if s.ID == "" || s.Name == "" || strings.TrimSpace(s.Rules) == "" {
			return nil, fmt.Errorf("strategy #%d: id, name and rules are required", i+1)
		}
	}
	return f.Strategies, nil
}

// SeedStrategies upserts the catalog, replacing existing entries with the same id.
func (r *Repository) SeedStrategies(ctx context.Context, strategies []models.Strategy) error {
	if len(strategies) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&strategies).Error
	if err != nil {
		return fmt.Errorf("seed strategies: %w", err)
	}
	return nil
}
