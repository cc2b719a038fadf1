package strategy

import (
	"context"
	"fmt"
	"os"

	"github.com/aristath/rebalancer/internal/domain"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a strategies seed file
type SeedFile struct {
	Strategies []domain.StrategyConfig `yaml:"strategies"`
}

// LoadSeedFile reads and validates every strategy of a YAML seed file
func LoadSeedFile(path string) ([]domain.StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategies file %s: %w", path, err)
	}

	strategies := make([]domain.StrategyConfig, 0, len(file.Strategies))
	for i, s := range file.Strategies {
		validated, err := domain.NewStrategyConfig(s)
		if err != nil {
			return nil, fmt.Errorf("strategy #%d (%s) in %s: %w", i+1, s.AccountID, path, err)
		}
		strategies = append(strategies, *validated)
	}
	return strategies, nil
}

// Seed stores the strategies of a seed file for accounts that have none yet.
// Strategies edited through the API are never overwritten.
func (r *Repository) Seed(ctx context.Context, path string) (int, error) {
	strategies, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, s := range strategies {
		existing, err := r.GetActiveStrategy(ctx, s.AccountID)
		if err != nil {
			return seeded, err
		}
		if existing != nil {
			r.log.Debug().Str("account_id", s.AccountID).Msg("Strategy already configured, seed skipped")
			continue
		}
		if _, err := r.Upsert(ctx, s); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
