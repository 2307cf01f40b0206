// Package positionid formats and parses simulated position identifiers.
//
// A position id names the pair, the leg and the trade sequence number that
// opened it: {pairID}_{leg}_{outcome}_{n}, e.g. Iran_0001_m1_NO_3.
package positionid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/polyagent/arb-engine/internal/model"
)

// Legs of a pair trade.
const (
	LegMarket1 = "m1"
	LegMarket2 = "m2"
)

// idRegex matches: {pairID}_{m1|m2}_{YES|NO}_{n}
// The pair id may itself contain underscores, so the match is anchored on
// the trailing fields.
var idRegex = regexp.MustCompile(`^(.+)_(m1|m2)_(YES|NO)_([0-9]+)$`)

var (
	ErrInvalidID    = errors.New("positionid: invalid position id format")
	ErrInvalidTrade = errors.New("positionid: trade number must be positive")
)

// ID is a parsed position identifier.
type ID struct {
	PairID      string        `json:"pair_id"`
	Leg         string        `json:"leg"`
	Outcome     model.Outcome `json:"outcome"`
	TradeNumber int           `json:"trade_number"`
}

// String formats the id.
func (id ID) String() string {
	return fmt.Sprintf("%s_%s_%s_%d", id.PairID, id.Leg, id.Outcome, id.TradeNumber)
}

// Market1No is the id of the NO leg on the trigger market for trade n.
func Market1No(pairID string, n int) string {
	return ID{PairID: pairID, Leg: LegMarket1, Outcome: model.OutcomeNo, TradeNumber: n}.String()
}

// Market2Yes is the id of the YES leg on the implied market for trade n.
func Market2Yes(pairID string, n int) string {
	return ID{PairID: pairID, Leg: LegMarket2, Outcome: model.OutcomeYes, TradeNumber: n}.String()
}

// Parse parses and validates a position id string.
func Parse(s string) (ID, error) {
	matches := idRegex.FindStringSubmatch(s)
	if matches == nil {
		return ID{}, fmt.Errorf("%w: %s (expected {pair}_{m1|m2}_{YES|NO}_{n})", ErrInvalidID, s)
	}

	n, err := strconv.Atoi(matches[4])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %s", ErrInvalidID, s)
	}
	if n < 1 {
		return ID{}, fmt.Errorf("%w: %s", ErrInvalidTrade, s)
	}

	return ID{
		PairID:      matches[1],
		Leg:         matches[2],
		Outcome:     model.Outcome(matches[3]),
		TradeNumber: n,
	}, nil
}
