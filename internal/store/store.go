// Package store defines the persistence interface for the simulated portfolio.
// Implementations include a JSON file (default), Badger KV, PostgreSQL, a
// Redis read-through cache wrapper, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/polyagent/arb-engine/internal/model"
)

// ErrNotFound is returned by Load when no portfolio has been persisted yet.
var ErrNotFound = errors.New("store: portfolio not found")

// PortfolioStore persists the single portfolio record.
//
// Save must be atomic: after a failed Save the previously persisted record
// is still readable, never a partial write.
type PortfolioStore interface {
	// Load returns the persisted portfolio, or ErrNotFound.
	Load(ctx context.Context) (*model.Portfolio, error)

	// Save replaces the persisted portfolio.
	Save(ctx context.Context, p *model.Portfolio) error
}
