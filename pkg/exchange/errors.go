package exchange

import (
	"errors"

	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/instrument"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/ledger"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"
)

// The engine's error taxonomy. Subpackage sentinels are re-exported here so
// callers can match every rejection with errors.Is against one package.
var (
	// Business-rule rejections, surfaced to the caller, never retried
	// internally.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrInvalidAmount       = ledger.ErrInvalidAmount
	ErrOrderNotFound       = orderbook.ErrOrderNotFound
	ErrInvalidOrder        = orderbook.ErrInvalidOrder
	ErrInvalidInstrument   = instrument.ErrNotFound
	ErrInvalidTicker       = instrument.ErrInvalidTicker
	ErrAlreadyExists       = instrument.ErrAlreadyExists

	// ErrAlreadyTerminal rejects cancellation of a FILLED or CANCELLED
	// order; terminal orders are immutable.
	ErrAlreadyTerminal = errors.New("order already terminal")

	// ErrHasOpenOrders rejects instrument deletion while resting orders
	// reference it.
	ErrHasOpenOrders = errors.New("instrument has open orders")

	// ErrBusy means lock acquisition exceeded the configured bound. The
	// command had no effect; callers may retry.
	ErrBusy = errors.New("busy: lock wait exceeded")

	// ErrInvalidState is an internal invariant violation (for example a
	// reserved-balance underflow). Fatal: logged and surfaced, indicates
	// a coordination bug rather than bad input.
	ErrInvalidState = ledger.ErrInvalidState
)
