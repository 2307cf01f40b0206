// Package limits enforces per-trade amount bounds and an optional exposure
// cap across pairs that share a keyword.
//
// Pairs grouped under one keyword ("Iran", "Trump") are topically correlated:
// a portfolio that piles into every Iran pair carries concentrated risk even
// though each trade is individually hedged. The keyword cap bounds the total
// cost basis open under one keyword.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountNotPositive is returned for a zero or negative amount per side.
	ErrAmountNotPositive = errors.New("limits: amount must be positive")

	// ErrSubCentAmount is returned for an amount with fractional cents.
	ErrSubCentAmount = errors.New("limits: amount must be in whole cents")

	// ErrMaxTradeExceeded is returned when the amount per side is above the
	// per-trade maximum.
	ErrMaxTradeExceeded = errors.New("limits: maximum trade amount exceeded")

	// ErrKeywordExposureExceeded is returned when a trade would push the
	// open cost basis under one keyword beyond the keyword maximum.
	ErrKeywordExposureExceeded = errors.New("limits: keyword exposure limit exceeded")
)

// TradeLimiter holds the configured bounds. A zero MaxKeywordExposure
// disables the keyword cap.
type TradeLimiter struct {
	// MaxPerTrade is the largest allowed amount per side.
	MaxPerTrade decimal.Decimal

	// MaxKeywordExposure is the largest allowed aggregate cost basis across
	// all open positions whose pair carries the same keyword.
	MaxKeywordExposure decimal.Decimal
}

// NewTradeLimiter creates a limiter with the given bounds.
func NewTradeLimiter(maxPerTrade, maxKeywordExposure decimal.Decimal) *TradeLimiter {
	if maxKeywordExposure.IsNegative() {
		maxKeywordExposure = decimal.Zero
	}
	return &TradeLimiter{
		MaxPerTrade:        maxPerTrade,
		MaxKeywordExposure: maxKeywordExposure,
	}
}

// CheckAmount validates the dollar amount per side of a trade.
func (l *TradeLimiter) CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountNotPositive
	}
	if amount.GreaterThan(l.MaxPerTrade) {
		return ErrMaxTradeExceeded
	}
	// Cash is kept in cents; a sub-cent debit would round away to nothing.
	if !amount.Equal(amount.Round(2)) {
		return ErrSubCentAmount
	}
	return nil
}

// CheckKeywordExposure validates whether adding totalCost under keyword
// respects the keyword cap.
//
// Parameters:
//   - keyword: keyword of the pair being traded; empty keywords are never capped
//   - totalCost: cost the trade would add (both legs)
//   - existing: map of keyword → open cost basis
func (l *TradeLimiter) CheckKeywordExposure(
	keyword string,
	totalCost decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	if keyword == "" || !l.MaxKeywordExposure.IsPositive() {
		return nil
	}

	if existing[keyword].Add(totalCost).GreaterThan(l.MaxKeywordExposure) {
		return ErrKeywordExposureExceeded
	}
	return nil
}
