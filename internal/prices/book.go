// Package prices layers live, streamed prices over the catalog snapshot.
package prices

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/model"
)

// Live is a store of streamed per-side prices.
type Live interface {
	// Set records the latest price for one side of a market.
	Set(ctx context.Context, marketID string, outcome model.Outcome, price decimal.Decimal, ts time.Time) error

	// Quote returns whatever sides have been streamed for marketID. ok is
	// false when nothing is known about the market.
	Quote(ctx context.Context, marketID string) (q model.Quote, ok bool, err error)
}

// Book is an in-memory Live store.
type Book struct {
	mu      sync.RWMutex
	quotes  map[string]model.Quote
	updated map[string]time.Time
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		quotes:  make(map[string]model.Quote),
		updated: make(map[string]time.Time),
	}
}

func (b *Book) Set(_ context.Context, marketID string, outcome model.Outcome, price decimal.Decimal, ts time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.quotes[marketID]
	if outcome == model.OutcomeYes {
		q.Yes = decimal.NewNullDecimal(price)
	} else {
		q.No = decimal.NewNullDecimal(price)
	}
	b.quotes[marketID] = q
	b.updated[marketID] = ts
	return nil
}

func (b *Book) Quote(_ context.Context, marketID string) (model.Quote, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[marketID]
	return q, ok, nil
}

// UpdatedAt returns when marketID last received a streamed price.
func (b *Book) UpdatedAt(marketID string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, ok := b.updated[marketID]
	return ts, ok
}

// Len returns the number of markets with streamed prices.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}

// Overlay is a catalog.PriceSource that prefers streamed prices and falls
// back to the snapshot side by side.
type Overlay struct {
	live     Live
	fallback catalog.PriceSource
}

// NewOverlay layers live over fallback. Either may be nil.
func NewOverlay(live Live, fallback catalog.PriceSource) *Overlay {
	return &Overlay{live: live, fallback: fallback}
}

// MarketPrices returns the merged quote, or catalog.ErrMarketNotFound when
// neither layer knows the market. Live lookup errors degrade to the snapshot.
func (o *Overlay) MarketPrices(ctx context.Context, marketID string) (model.Quote, error) {
	var q model.Quote
	found := false

	if o.fallback != nil {
		base, err := o.fallback.MarketPrices(ctx, marketID)
		switch {
		case err == nil:
			q, found = base, true
		case !errors.Is(err, catalog.ErrMarketNotFound):
			return model.Quote{}, err
		}
	}

	if o.live != nil {
		live, ok, err := o.live.Quote(ctx, marketID)
		if err == nil && ok {
			if live.Yes.Valid {
				q.Yes = live.Yes
			}
			if live.No.Valid {
				q.No = live.No
			}
			found = true
		}
	}

	if !found {
		return model.Quote{}, catalog.ErrMarketNotFound
	}
	return q, nil
}

var (
	_ Live                = (*Book)(nil)
	_ catalog.PriceSource = (*Overlay)(nil)
)
