package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/model"
	"github.com/polyagent/arb-engine/internal/positionid"
)

// value prices every position of p. Each market is looked up at most once so
// both legs on one market see the same quote.
func (l *Ledger) value(ctx context.Context, p *model.Portfolio) model.PortfolioView {
	quotes := make(map[string]*model.Quote)
	lookup := func(marketID string) *model.Quote {
		if q, ok := quotes[marketID]; ok {
			return q
		}
		q, err := l.prices.MarketPrices(ctx, marketID)
		if err != nil {
			if !errors.Is(err, catalog.ErrMarketNotFound) {
				slog.Warn("price lookup failed", "market_id", marketID, "err", err)
			}
			quotes[marketID] = nil
			return nil
		}
		quotes[marketID] = &q
		return &q
	}

	view := model.PortfolioView{
		Cash:            p.Cash.Round(2),
		StartingBalance: p.StartingBalance,
		Positions:       make([]model.PositionView, 0, len(p.Positions)),
		TradeCount:      p.TradeCount,
	}

	positionValue := decimal.Zero
	for _, pos := range p.Positions {
		pv := model.PositionView{Position: pos}
		if q := lookup(pos.MarketID); q != nil {
			if price := q.Side(pos.Outcome); price.Valid {
				current := pos.Shares.Mul(price.Decimal)
				pv.CurrentPrice = price
				pv.CurrentValue = decimal.NewNullDecimal(current.Round(2))
				pv.PnL = decimal.NewNullDecimal(current.Sub(pos.CostBasis).Round(2))
				positionValue = positionValue.Add(current)
			}
		}
		view.Positions = append(view.Positions, pv)
	}

	total := p.Cash.Add(positionValue)
	view.PositionValue = positionValue.Round(2)
	view.TotalValue = total.Round(2)
	view.TotalPnL = total.Sub(p.StartingBalance).Round(2)
	view.Trades = groupTrades(view.Positions)
	return view
}

// groupTrades collects positions opened by the same trade, in the order the
// trades were made. Positions with unparseable ids are left out.
func groupTrades(positions []model.PositionView) []model.PairTradeView {
	type key struct {
		pairID string
		n      int
	}
	index := make(map[key]int)
	trades := []model.PairTradeView{}
	complete := []bool{}

	for _, pv := range positions {
		id, err := positionid.Parse(pv.ID)
		if err != nil {
			continue
		}
		k := key{id.PairID, id.TradeNumber}
		i, ok := index[k]
		if !ok {
			i = len(trades)
			index[k] = i
			trades = append(trades, model.PairTradeView{
				TradeNumber: id.TradeNumber,
				PairID:      id.PairID,
				CostBasis:   decimal.Zero,
				Value:       decimal.NewNullDecimal(decimal.Zero),
				PnL:         decimal.NewNullDecimal(decimal.Zero),
				PositionIDs: []string{},
			})
			complete = append(complete, true)
		}
		t := &trades[i]
		t.CostBasis = t.CostBasis.Add(pv.CostBasis)
		t.PositionIDs = append(t.PositionIDs, pv.ID)
		if complete[i] && pv.CurrentValue.Valid {
			t.Value.Decimal = t.Value.Decimal.Add(pv.CurrentValue.Decimal)
		} else {
			complete[i] = false
		}
	}

	for i := range trades {
		if complete[i] {
			trades[i].PnL = decimal.NewNullDecimal(trades[i].Value.Decimal.Sub(trades[i].CostBasis).Round(2))
			trades[i].Value.Decimal = trades[i].Value.Decimal.Round(2)
		} else {
			trades[i].Value = decimal.NullDecimal{}
			trades[i].PnL = decimal.NullDecimal{}
		}
	}
	return trades
}
