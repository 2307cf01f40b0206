// Package catalog provides the keyword-grouped collection of implication
// pairs and the snapshot prices that come with it.
package catalog

import (
	"context"
	"errors"

	"github.com/polyagent/arb-engine/internal/model"
)

var (
	ErrPairNotFound   = errors.New("catalog: pair not found")
	ErrMarketNotFound = errors.New("catalog: market not found")
	ErrNoSnapshot     = errors.New("catalog: pairs snapshot not found")
)

// Catalog is the read-only pair catalog.
type Catalog interface {
	// GetPair returns the pair with the given id, or ErrPairNotFound.
	GetPair(ctx context.Context, id string) (model.Pair, error)

	// ListPairs returns one page of pairs, optionally filtered by keyword.
	ListPairs(ctx context.Context, f Filter) (Page, error)

	// Keywords returns every keyword with its pair count.
	Keywords(ctx context.Context) ([]KeywordCount, error)
}

// PriceSource returns a market's current prices. Every call is a fresh
// snapshot read; two calls may disagree.
type PriceSource interface {
	// MarketPrices returns the prices for marketID, or ErrMarketNotFound.
	MarketPrices(ctx context.Context, marketID string) (model.Quote, error)
}

// Filter selects a page of pairs.
type Filter struct {
	Keyword string
	Limit   int
	Offset  int
}

// Page is a paginated slice of the catalog.
type Page struct {
	Pairs   []model.Pair `json:"pairs"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}

// KeywordCount is a keyword and the number of pairs tagged with it.
type KeywordCount struct {
	Keyword   string `json:"keyword"`
	PairCount int    `json:"pair_count"`
}

// Token maps a streamed outcome token to its market side.
type Token struct {
	MarketID string
	Outcome  model.Outcome
}
