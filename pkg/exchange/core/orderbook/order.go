package orderbook

import "errors"

// Sentinel errors surfaced by book operations. The engine re-exports these
// on its command surface.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the contra side (the side an incoming order matches against).
func (s Side) Opposite() Side { return -s }

type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

// OrderStatus follows the lifecycle NEW -> (PARTIALLY_FILLED)* -> FILLED,
// with CANCELLED reachable from NEW and PARTIALLY_FILLED.
// FILLED and CANCELLED are terminal.
type OrderStatus int8

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a buy/sell order against one instrument.
// Prices are integer ticks, quantities integer lots; arithmetic stays in
// int64 fixed point end to end so repeated partial fills cannot drift.
type Order struct {
	ID     string
	User   string // owner user id
	Ticker string
	Side   Side
	Type   OrderType
	Price  int64 // limit price in ticks; 0 for market orders
	Qty    int64 // requested quantity in lots
	Filled int64 // quantity filled so far

	Status OrderStatus

	// Seq is the book arrival sequence, assigned once on insert.
	// It carries time priority and is never reset by partial fills.
	Seq       uint64
	CreatedAt int64 // unix milliseconds
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }
