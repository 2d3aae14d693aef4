// Package matching computes fills for an incoming order against a book.
//
// Match is a pure function of the book state: it walks the contra side in
// price-time priority and returns the fill plan without touching the book
// or any balance. The engine validates funding against the plan and only
// then applies book mutation, settlement and trade logging in one critical
// section, so a rejected order leaves no trace.
package matching

import "github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"

// Fill is one planned execution against a resting maker order.
// Price is always the maker's price.
type Fill struct {
	MakerID   string
	MakerUser string
	Price     int64
	Qty       int64
}

// Match returns the fill plan for an incoming order and the quantity that
// would remain unfilled after the plan executes.
//
// Limit orders stop at the first non-crossing price level. Market orders
// consume the contra side until exhausted. A resting order owned by the
// incoming order's owner is never matched: it is skipped and matching
// continues at the next order in priority (self-trade prevention).
func Match(incoming *orderbook.Order, book *orderbook.Book) ([]Fill, int64) {
	remaining := incoming.Remaining()
	if remaining <= 0 {
		return nil, 0
	}

	var fills []Fill
	book.Walk(incoming.Side.Opposite(), func(maker *orderbook.Order) bool {
		if remaining == 0 {
			return false
		}
		if !crosses(incoming, maker.Price) {
			return false
		}
		if maker.User == incoming.User {
			return true // skip own order, keep walking
		}

		qty := min64(remaining, maker.Remaining())
		fills = append(fills, Fill{
			MakerID:   maker.ID,
			MakerUser: maker.User,
			Price:     maker.Price,
			Qty:       qty,
		})
		remaining -= qty
		return remaining > 0
	})

	return fills, remaining
}

// crosses reports whether the incoming order would trade at the maker price.
func crosses(incoming *orderbook.Order, makerPrice int64) bool {
	if incoming.Type == orderbook.Market {
		return true
	}
	if incoming.Side == orderbook.Buy {
		return makerPrice <= incoming.Price
	}
	return makerPrice >= incoming.Price
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
