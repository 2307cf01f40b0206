// Package model defines the core domain types shared across the arbitrage engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Quote is a market's current price pair. Either side may be unquoted.
type Quote struct {
	Yes decimal.NullDecimal `json:"yes_odds"`
	No  decimal.NullDecimal `json:"no_odds"`
}

// Side returns the price for the given outcome.
func (q Quote) Side(o Outcome) decimal.NullDecimal {
	if o == OutcomeYes {
		return q.Yes
	}
	return q.No
}

// Market is a single prediction market as carried in the pair catalog.
type Market struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	URL        string              `json:"url"`
	YesPrice   decimal.NullDecimal `json:"yes_odds"`
	NoPrice    decimal.NullDecimal `json:"no_odds"`
	YesTokenID string              `json:"yes_token_id,omitempty"`
	NoTokenID  string              `json:"no_token_id,omitempty"`
}

// Quote returns the market's snapshot prices.
func (m Market) Quote() Quote {
	return Quote{Yes: m.YesPrice, No: m.NoPrice}
}

// HasValidOdds reports whether both sides are quoted.
func (m Market) HasValidOdds() bool {
	return m.YesPrice.Valid && m.NoPrice.Valid
}

// ImpliedEdge is |1 - (yes + no)|, the overround of the book.
// ok is false when either side is unquoted.
func (m Market) ImpliedEdge() (edge decimal.Decimal, ok bool) {
	if !m.HasValidOdds() {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(1).Sub(m.YesPrice.Decimal.Add(m.NoPrice.Decimal)).Abs(), true
}

// Pair links a trigger market (Market1) to the market it implies (Market2):
// Market1 resolving YES implies Market2 resolves YES.
type Pair struct {
	ID        string `json:"pair_id"`
	Keyword   string `json:"keyword,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Market1   Market `json:"market1"`
	Market2   Market `json:"market2"`
}

// Position is one open leg in the simulated portfolio. Immutable once created.
type Position struct {
	ID          string          `json:"position_id"`
	PairID      string          `json:"pair_id"`
	MarketID    string          `json:"market_id"`
	MarketTitle string          `json:"market_title"` // copied at trade time
	Outcome     Outcome         `json:"outcome"`
	Shares      decimal.Decimal `json:"shares"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Portfolio is the singleton simulated portfolio record.
type Portfolio struct {
	Cash            decimal.Decimal `json:"cash"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Positions       []Position      `json:"positions"`
	TradeCount      int             `json:"trade_count"`
}

// NewPortfolio returns a fresh portfolio funded with startingBalance.
func NewPortfolio(startingBalance decimal.Decimal) *Portfolio {
	return &Portfolio{
		Cash:            startingBalance,
		StartingBalance: startingBalance,
		Positions:       []Position{},
	}
}

// Clone returns a deep copy; the positions slice is not shared.
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Positions = make([]Position, len(p.Positions))
	copy(c.Positions, p.Positions)
	return &c
}

// TradeSummary describes an executed two-leg trade.
type TradeSummary struct {
	TradeID          string          `json:"trade_id"`
	PairID           string          `json:"pair_id"`
	AmountPerSide    decimal.Decimal `json:"amount_per_side"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Market1NoShares  decimal.Decimal `json:"market1_no_shares"`
	Market1NoPrice   decimal.Decimal `json:"market1_no_price"`
	Market2YesShares decimal.Decimal `json:"market2_yes_shares"`
	Market2YesPrice  decimal.Decimal `json:"market2_yes_price"`
}

// TradeResult is returned from a successful trade execution.
type TradeResult struct {
	Success   bool          `json:"success"`
	Trade     TradeSummary  `json:"trade"`
	Portfolio PortfolioView `json:"portfolio"`
}

// PositionView is a position valued against current prices. The valuation
// fields are null when the market or that side's price is unavailable.
type PositionView struct {
	Position
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	CurrentValue decimal.NullDecimal `json:"current_value"`
	PnL          decimal.NullDecimal `json:"pnl"`
}

// PairTradeView groups the two legs opened by one trade.
type PairTradeView struct {
	TradeNumber int                 `json:"trade_number"`
	PairID      string              `json:"pair_id"`
	CostBasis   decimal.Decimal     `json:"cost_basis"`
	Value       decimal.NullDecimal `json:"current_value"`
	PnL         decimal.NullDecimal `json:"pnl"`
	PositionIDs []string            `json:"position_ids"`
}

// PortfolioView is the live-valued presentation of the portfolio.
type PortfolioView struct {
	Cash            decimal.Decimal `json:"cash"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Positions       []PositionView  `json:"positions"`
	Trades          []PairTradeView `json:"trades"`
	PositionValue   decimal.Decimal `json:"position_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TradeCount      int             `json:"trade_count"`
}
