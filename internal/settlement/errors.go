package settlement

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrValidation covers user mistakes. Terminal and never retried.
	ErrValidation = errors.New("validation error")
	// ErrUnsupportedAsset is a ValidationError for tickers missing from the registry.
	ErrUnsupportedAsset = fmt.Errorf("%w: unsupported asset", ErrValidation)
	// ErrInvalidAmount is a ValidationError for non-positive amounts or unknown sides.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	// ErrSettlementUnavailable means no server signing key is configured.
	ErrSettlementUnavailable = errors.New("settlement unavailable")
	// ErrChainSubmissionFailed means the node rejected the transaction or the call timed out.
	ErrChainSubmissionFailed = errors.New("chain submission failed")
	// ErrPersistenceFailed means the transaction was submitted but the trade could not be stored.
	ErrPersistenceFailed = errors.New("trade persistence failed")
)

// Error is a settlement failure of a given kind.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
