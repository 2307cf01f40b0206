// Package ledger owns the simulated portfolio: it executes two-leg
// arbitrage trades, resets the account and values open positions against
// current prices.
//
// Trades, resets and valuations are serialized behind one mutex so that two
// concurrent trades can never both pass the cash check against a stale
// balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/limits"
	"github.com/polyagent/arb-engine/internal/metrics"
	"github.com/polyagent/arb-engine/internal/model"
	"github.com/polyagent/arb-engine/internal/positionid"
	"github.com/polyagent/arb-engine/internal/store"
)

// DefaultStartingBalance is the cash a fresh portfolio is funded with.
var DefaultStartingBalance = decimal.NewFromInt(10000)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// PairSource looks up pairs by id.
type PairSource interface {
	GetPair(ctx context.Context, id string) (model.Pair, error)
}

// Observer is notified after a state change has been persisted.
type Observer interface {
	TradeExecuted(result *model.TradeResult)
	PortfolioReset(p *model.Portfolio)
}

// Options configures a Ledger. Store, Pairs, Prices and Limiter are required.
type Options struct {
	Store           store.PortfolioStore
	Pairs           PairSource
	Prices          catalog.PriceSource
	Limiter         *limits.TradeLimiter
	StartingBalance decimal.Decimal // zero means DefaultStartingBalance
	Observer        Observer        // optional

	// Now and NewTradeID default to time.Now and uuid.NewString.
	Now        func() time.Time
	NewTradeID func() string
}

// Ledger is the paper-trading portfolio service.
type Ledger struct {
	mu              sync.Mutex
	store           store.PortfolioStore
	pairs           PairSource
	prices          catalog.PriceSource
	limiter         *limits.TradeLimiter
	startingBalance decimal.Decimal
	observer        Observer
	now             func() time.Time
	newTradeID      func() string
}

// New creates a Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		store:           opts.Store,
		pairs:           opts.Pairs,
		prices:          opts.Prices,
		limiter:         opts.Limiter,
		startingBalance: opts.StartingBalance,
		observer:        opts.Observer,
		now:             opts.Now,
		newTradeID:      opts.NewTradeID,
	}
	if !l.startingBalance.IsPositive() {
		l.startingBalance = DefaultStartingBalance
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.newTradeID == nil {
		l.newTradeID = uuid.NewString
	}
	return l
}

// StartingBalance returns the balance a reset portfolio starts with.
func (l *Ledger) StartingBalance() decimal.Decimal {
	return l.startingBalance
}

// load returns the persisted portfolio, or a fresh one when nothing has been
// saved yet. Must be called with l.mu held.
func (l *Ledger) load(ctx context.Context) (*model.Portfolio, error) {
	p, err := l.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewPortfolio(l.startingBalance), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}
	if p.Positions == nil {
		p.Positions = []model.Position{}
	}
	return p, nil
}

func (l *Ledger) save(ctx context.Context, p *model.Portfolio) error {
	if err := l.store.Save(ctx, p); err != nil {
		return fmt.Errorf("%w: save: %w", ErrPersistence, err)
	}
	return nil
}

// ExecuteTrade buys amount dollars of NO on the pair's market1 and amount
// dollars of YES on its market2. Rejections are returned as
// *ValidationError and leave the portfolio untouched. Profitability is not
// checked; a losing trade is allowed.
func (l *Ledger) ExecuteTrade(ctx context.Context, pairID string, amount decimal.Decimal) (*model.TradeResult, error) {
	start := time.Now()
	result, err := l.executeTrade(ctx, pairID, amount)
	if ve, ok := AsValidation(err); ok {
		metrics.TradeRejections.WithLabelValues(string(ve.Kind)).Inc()
		slog.Info("trade rejected", "pair_id", pairID, "amount", amount.String(), "kind", ve.Kind, "reason", ve.Message)
		return nil, err
	}
	if err != nil {
		slog.Error("trade failed", "pair_id", pairID, "err", err)
		return nil, err
	}
	metrics.TradesTotal.Inc()
	metrics.TradeLatency.Observe(time.Since(start).Seconds())
	return result, nil
}

func (l *Ledger) executeTrade(ctx context.Context, pairID string, amount decimal.Decimal) (*model.TradeResult, error) {
	switch err := l.limiter.CheckAmount(amount); {
	case errors.Is(err, limits.ErrAmountNotPositive):
		return nil, reject(KindInvalidAmount, "Amount must be positive")
	case errors.Is(err, limits.ErrSubCentAmount):
		return nil, reject(KindInvalidAmount, "Amount must be in whole cents")
	case errors.Is(err, limits.ErrMaxTradeExceeded):
		return nil, reject(KindMaxExceeded, "Maximum trade amount is $%s per side", l.limiter.MaxPerTrade.StringFixed(2))
	case err != nil:
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pair, err := l.pairs.GetPair(ctx, pairID)
	if errors.Is(err, catalog.ErrPairNotFound) {
		return nil, reject(KindPairNotFound, "Pair not found: %s", pairID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get pair %s: %w", pairID, err)
	}

	// Each price is read once and reused for validation, shares and the
	// trade summary.
	noPrice := l.price(ctx, pair.Market1.ID, model.OutcomeNo)
	yesPrice := l.price(ctx, pair.Market2.ID, model.OutcomeYes)
	if !noPrice.Valid || !yesPrice.Valid {
		return nil, reject(KindPricesUnavailable, "Prices not available for this pair")
	}
	if !noPrice.Decimal.IsPositive() || !yesPrice.Decimal.IsPositive() {
		return nil, reject(KindPricesUnavailable, "Prices must be positive")
	}
	if noPrice.Decimal.GreaterThan(one) || yesPrice.Decimal.GreaterThan(one) {
		return nil, reject(KindPricesUnavailable, "Prices must not exceed 1")
	}

	p, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	totalCost := amount.Mul(two)
	if totalCost.GreaterThan(p.Cash) {
		return nil, reject(KindInsufficientCash, "Insufficient cash. Need $%s but only have $%s.",
			totalCost.StringFixed(2), p.Cash.StringFixed(2))
	}

	if l.limiter.MaxKeywordExposure.IsPositive() && pair.Keyword != "" {
		if err := l.limiter.CheckKeywordExposure(pair.Keyword, totalCost, l.keywordExposure(ctx, p)); err != nil {
			return nil, reject(KindExposureLimit, "Keyword %q exposure would exceed $%s",
				pair.Keyword, l.limiter.MaxKeywordExposure.StringFixed(2))
		}
	}

	// Validation is complete; build the next state on a copy so a failed
	// save leaves nothing half-applied.
	next := p.Clone()
	n := next.TradeCount + 1
	now := l.now()
	costBasis := amount.Round(2)
	m1Shares := amount.Div(noPrice.Decimal).Round(6)
	m2Shares := amount.Div(yesPrice.Decimal).Round(6)

	next.Positions = append(next.Positions,
		model.Position{
			ID:          positionid.Market1No(pair.ID, n),
			PairID:      pair.ID,
			MarketID:    pair.Market1.ID,
			MarketTitle: pair.Market1.Title,
			Outcome:     model.OutcomeNo,
			Shares:      m1Shares,
			AvgPrice:    noPrice.Decimal,
			CostBasis:   costBasis,
			CreatedAt:   now,
		},
		model.Position{
			ID:          positionid.Market2Yes(pair.ID, n),
			PairID:      pair.ID,
			MarketID:    pair.Market2.ID,
			MarketTitle: pair.Market2.Title,
			Outcome:     model.OutcomeYes,
			Shares:      m2Shares,
			AvgPrice:    yesPrice.Decimal,
			CostBasis:   costBasis,
			CreatedAt:   now,
		},
	)
	next.Cash = next.Cash.Sub(totalCost).Round(2)
	next.TradeCount = n

	if err := l.save(ctx, next); err != nil {
		return nil, err
	}

	result := &model.TradeResult{
		Success: true,
		Trade: model.TradeSummary{
			TradeID:          l.newTradeID(),
			PairID:           pair.ID,
			AmountPerSide:    amount,
			TotalCost:        totalCost,
			Market1NoShares:  m1Shares,
			Market1NoPrice:   noPrice.Decimal,
			Market2YesShares: m2Shares,
			Market2YesPrice:  yesPrice.Decimal,
		},
		Portfolio: l.value(ctx, next),
	}

	slog.Info("trade executed",
		"trade_id", result.Trade.TradeID,
		"pair_id", pair.ID,
		"trade_number", n,
		"amount_per_side", amount.String(),
		"total_cost", totalCost.String(),
		"m1_no_price", noPrice.Decimal.String(),
		"m2_yes_price", yesPrice.Decimal.String(),
		"cash", next.Cash.String(),
	)

	if l.observer != nil {
		l.observer.TradeExecuted(result)
	}
	return result, nil
}

// price reads one side of a market. A missing market or lookup failure is
// reported as an unavailable price.
func (l *Ledger) price(ctx context.Context, marketID string, o model.Outcome) decimal.NullDecimal {
	q, err := l.prices.MarketPrices(ctx, marketID)
	if err != nil {
		if !errors.Is(err, catalog.ErrMarketNotFound) {
			slog.Warn("price lookup failed", "market_id", marketID, "err", err)
		}
		return decimal.NullDecimal{}
	}
	return q.Side(o)
}

// keywordExposure sums open cost basis per pair keyword. Positions whose
// pair has left the catalog are not attributed to any keyword.
func (l *Ledger) keywordExposure(ctx context.Context, p *model.Portfolio) map[string]decimal.Decimal {
	keywords := make(map[string]string)
	exposure := make(map[string]decimal.Decimal)
	for _, pos := range p.Positions {
		kw, seen := keywords[pos.PairID]
		if !seen {
			if pair, err := l.pairs.GetPair(ctx, pos.PairID); err == nil {
				kw = pair.Keyword
			}
			keywords[pos.PairID] = kw
		}
		if kw != "" {
			exposure[kw] = exposure[kw].Add(pos.CostBasis)
		}
	}
	return exposure
}

// Reset discards all positions and restores the starting balance.
func (l *Ledger) Reset(ctx context.Context) (*model.Portfolio, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := model.NewPortfolio(l.startingBalance)
	if err := l.save(ctx, fresh); err != nil {
		slog.Error("portfolio reset failed", "err", err)
		return nil, err
	}
	slog.Info("portfolio reset", "starting_balance", l.startingBalance.String())

	if l.observer != nil {
		l.observer.PortfolioReset(fresh.Clone())
	}
	return fresh, nil
}

// Portfolio returns the persisted portfolio without valuation.
func (l *Ledger) Portfolio(ctx context.Context) (*model.Portfolio, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Value returns the portfolio valued against current prices. It never
// writes to the store.
func (l *Ledger) Value(ctx context.Context) (model.PortfolioView, error) {
	l.mu.Lock()
	p, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return model.PortfolioView{}, err
	}
	return l.value(ctx, p), nil
}
