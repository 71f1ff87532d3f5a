// Package market implements the market data caches (prices, technical indicators,
// fundamentals) and the macro health aggregator that sit in front of rate limited
// third-party APIs.
package market

// Result is either an available value or an explanation of why the value is unavailable.
// Upstream failures never surface as errors from this package; they surface as Results
// whose Reason says what went wrong.
type Result[T any] struct {
	Value  T
	Reason string
	ok     bool
}

// Ok wraps an available value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, ok: true}
}

// Unavailable marks the value as unavailable for the given reason.
func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

// Available reports whether Value holds real data.
func (r Result[T]) Available() bool {
	return r.ok
}
