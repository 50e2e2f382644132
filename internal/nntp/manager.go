package nntp

import (
	"context"
	"errors"
	"fmt"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
)

// Manager owns the configured server pools. Pool order follows the config
// file and defines each pool's index for retry routing.
type Manager struct {
	log       *logger.Logger
	providers []*Provider
}

func NewManager(cfgs []domain.ProviderConfig, log *logger.Logger) (*Manager, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no servers configured")
	}

	m := &Manager{log: log}
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate server id %q", cfg.ID)
		}
		seen[cfg.ID] = true
		m.providers = append(m.providers, NewProvider(cfg))
	}
	return m, nil
}

// Validate opens one session per pool so bad credentials fail at startup.
func (m *Manager) Validate(ctx context.Context) error {
	for _, p := range m.providers {
		m.log.Info("Validating provider: %s", p.ID())
		if err := p.TestConnection(ctx); err != nil {
			return fmt.Errorf("connection test failed for %s: %w", p.ID(), err)
		}
	}
	return nil
}

// Providers returns the pools in index order.
func (m *Manager) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out
}

// IDs returns the pool identities in index order.
func (m *Manager) IDs() []string {
	out := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p.ID())
	}
	return out
}

// TotalCapacity returns the maximum number of concurrent connections
// allowed across all configured pools.
func (m *Manager) TotalCapacity() int {
	total := 0
	for _, p := range m.providers {
		total += p.MaxConnection()
	}
	return total
}

func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
