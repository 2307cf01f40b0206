package ledger

import (
	"errors"
	"fmt"
)

// Kind distinguishes trade rejections for callers.
type Kind string

const (
	KindInvalidAmount     Kind = "invalid_amount"
	KindMaxExceeded       Kind = "max_exceeded"
	KindPairNotFound      Kind = "pair_not_found"
	KindPricesUnavailable Kind = "prices_unavailable"
	KindInsufficientCash  Kind = "insufficient_cash"
	KindExposureLimit     Kind = "exposure_limit"
)

// ValidationError is a user-correctable trade rejection. The portfolio is
// never modified when one is returned.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func reject(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrPersistence wraps any failure to load or save the portfolio.
var ErrPersistence = errors.New("ledger: portfolio persistence failed")

// AsValidation unwraps err into a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
