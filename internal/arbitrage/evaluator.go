// Package arbitrage evaluates implication pairs for risk-free profit.
//
// For a pair where the trigger market (market1) resolving YES implies the
// broader market (market2) resolves YES, buying NO on market1 and YES on
// market2 pays exactly $1 whatever happens. Any combined cost below $1 is
// profit. The evaluator trusts the catalog that the implication holds.
package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// Input carries the four prices of a pair plus display metadata for the legs.
type Input struct {
	Market1Yes   decimal.NullDecimal
	Market1No    decimal.NullDecimal
	Market2Yes   decimal.NullDecimal
	Market2No    decimal.NullDecimal
	Market1Title string
	Market2Title string
	Market1URL   string
	Market2URL   string
}

// InputFromPair builds an Input from a catalog pair's snapshot prices.
func InputFromPair(p model.Pair) Input {
	return Input{
		Market1Yes:   p.Market1.YesPrice,
		Market1No:    p.Market1.NoPrice,
		Market2Yes:   p.Market2.YesPrice,
		Market2No:    p.Market2.NoPrice,
		Market1Title: p.Market1.Title,
		Market2Title: p.Market2.Title,
		Market1URL:   p.Market1.URL,
		Market2URL:   p.Market2.URL,
	}
}

// Verdict is either NoData or Evaluated.
type Verdict interface {
	isVerdict()
}

// NoData is returned when any of the four prices is unquoted.
type NoData struct{}

// Leg is one side of the arbitrage trade.
type Leg struct {
	Outcome model.Outcome
	Title   string
	URL     string
	Price   decimal.Decimal
}

// Evaluated is the verdict for a fully priced pair. BuyYes always refers to
// market2 and BuyNo always to market1.
type Evaluated struct {
	HasArbitrage bool
	Cost         decimal.Decimal // rounded to 6 places
	Profit       decimal.Decimal // rounded to 6 places
	ProfitPct    decimal.Decimal // rounded to 2 places
	BuyYes       Leg
	BuyNo        Leg
}

func (NoData) isVerdict()    {}
func (Evaluated) isVerdict() {}

// Evaluate computes the arbitrage verdict for a pair's prices. It never fails.
func Evaluate(in Input) Verdict {
	if !in.Market1Yes.Valid || !in.Market1No.Valid || !in.Market2Yes.Valid || !in.Market2No.Valid {
		return NoData{}
	}

	cost := in.Market2Yes.Decimal.Add(in.Market1No.Decimal)
	profit := one.Sub(cost)

	return Evaluated{
		// Break-even (profit == 0) is not an opportunity.
		HasArbitrage: profit.IsPositive(),
		Cost:         cost.Round(6),
		Profit:       profit.Round(6),
		ProfitPct:    profit.Mul(decimal.NewFromInt(100)).Round(2),
		BuyYes: Leg{
			Outcome: model.OutcomeYes,
			Title:   in.Market2Title,
			URL:     in.Market2URL,
			Price:   in.Market2Yes.Decimal,
		},
		BuyNo: Leg{
			Outcome: model.OutcomeNo,
			Title:   in.Market1Title,
			URL:     in.Market1URL,
			Price:   in.Market1No.Decimal,
		},
	}
}

// EvaluatePair is Evaluate on the pair's snapshot prices.
func EvaluatePair(p model.Pair) Verdict {
	return Evaluate(InputFromPair(p))
}

// HasArbitrage reports whether v is an evaluated, strictly profitable verdict.
func HasArbitrage(v Verdict) bool {
	e, ok := v.(Evaluated)
	return ok && e.HasArbitrage
}
