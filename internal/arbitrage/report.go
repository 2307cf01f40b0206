package arbitrage

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/model"
)

// Report is the flat JSON shape of a verdict. Cost and the leg fields are
// null for a NoData verdict.
type Report struct {
	HasArbitrage bool                `json:"has_arbitrage"`
	Profit       decimal.Decimal     `json:"profit"`
	ProfitPct    decimal.Decimal     `json:"profit_pct"`
	Cost         decimal.NullDecimal `json:"cost"`
	BuyYesTitle  *string             `json:"buy_yes_title"`
	BuyYesPrice  decimal.NullDecimal `json:"buy_yes_price"`
	BuyYesURL    *string             `json:"buy_yes_url"`
	BuyNoTitle   *string             `json:"buy_no_title"`
	BuyNoPrice   decimal.NullDecimal `json:"buy_no_price"`
	BuyNoURL     *string             `json:"buy_no_url"`
}

// Flatten converts a verdict into its wire Report.
func Flatten(v Verdict) Report {
	e, ok := v.(Evaluated)
	if !ok {
		return Report{Profit: decimal.Zero, ProfitPct: decimal.Zero}
	}
	return Report{
		HasArbitrage: e.HasArbitrage,
		Profit:       e.Profit,
		ProfitPct:    e.ProfitPct,
		Cost:         decimal.NewNullDecimal(e.Cost),
		BuyYesTitle:  strPtr(e.BuyYes.Title),
		BuyYesPrice:  decimal.NewNullDecimal(e.BuyYes.Price),
		BuyYesURL:    strPtr(e.BuyYes.URL),
		BuyNoTitle:   strPtr(e.BuyNo.Title),
		BuyNoPrice:   decimal.NewNullDecimal(e.BuyNo.Price),
		BuyNoURL:     strPtr(e.BuyNo.URL),
	}
}

func strPtr(s string) *string { return &s }

// Opportunity is a pair with a strictly profitable verdict. Pair carries the
// prices the verdict was computed from.
type Opportunity struct {
	Pair    model.Pair
	Verdict Evaluated
}

// Scan prices each pair once with priced (nil keeps the snapshot prices) and
// returns the profitable ones ordered by profit, largest first. Ties keep
// catalog order.
func Scan(pairs []model.Pair, priced func(model.Pair) model.Pair) []Opportunity {
	var opps []Opportunity
	for _, p := range pairs {
		if priced != nil {
			p = priced(p)
		}
		if e, ok := EvaluatePair(p).(Evaluated); ok && e.HasArbitrage {
			opps = append(opps, Opportunity{Pair: p, Verdict: e})
		}
	}
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Verdict.Profit.GreaterThan(opps[j].Verdict.Profit)
	})
	return opps
}
