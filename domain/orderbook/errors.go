package orderbook

import "errors"

var (
	ErrInvalidOrderID  = errors.New("orderbook: order id is required")
	ErrInvalidQuantity = errors.New("orderbook: quantity must be positive")
	ErrInvalidPrice    = errors.New("orderbook: price must be positive")
	ErrInvalidSide     = errors.New("orderbook: invalid side")
	ErrUnsupportedKind = errors.New("orderbook: order kind not supported for matching")
	ErrDuplicateOrder  = errors.New("orderbook: order id already resting")
	ErrSymbolMismatch  = errors.New("orderbook: order symbol does not match book")

	// ErrCorrupt marks an internal invariant violation. A book that reports
	// it, by error or by panic, must not be used again.
	ErrCorrupt = errors.New("orderbook: invariant violated")
)
