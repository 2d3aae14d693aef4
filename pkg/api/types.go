package api

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// API request/response types for REST endpoints and WebSocket messages.
//
// Prices cross the wire as decimal strings ("101.50") and are converted
// to integer ticks at the boundary; the core never sees a float.

// priceScale is the number of decimal places a price may carry. One tick
// equals one cent of the quote asset.
const priceScale = 2

var tickFactor = decimal.New(1, priceScale)

// parsePrice converts a decimal price string into ticks. Rejects more
// precision than the tick size allows.
func parsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	ticks := d.Mul(tickFactor)
	if !ticks.IsInteger() {
		return 0, fmt.Errorf("price %q is finer than the tick size", s)
	}
	return ticks.IntPart(), nil
}

// formatPrice renders ticks back into a decimal string.
func formatPrice(ticks int64) string {
	return decimal.New(ticks, -priceScale).StringFixed(priceScale)
}

// ==============================
// REST Request Types
// ==============================

// CreateInstrumentRequest is the payload for POST /api/v1/admin/instrument.
type CreateInstrumentRequest struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// BalanceChangeRequest is the payload for deposit and withdraw.
type BalanceChangeRequest struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

// PlaceOrderRequest is the payload for POST /api/v1/order.
type PlaceOrderRequest struct {
	Ticker    string `json:"ticker"`
	Direction string `json:"direction"` // "BUY" or "SELL"
	Type      string `json:"type"`      // "LIMIT" or "MARKET"
	Qty       int64  `json:"qty"`
	Price     string `json:"price,omitempty"` // decimal string, absent for market
}

// ==============================
// REST Response Types
// ==============================

// OkResponse is the generic success envelope for admin mutations.
type OkResponse struct {
	Success bool `json:"success"`
}

// InstrumentInfo describes one tradable instrument.
type InstrumentInfo struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// PriceLevel is one aggregate level of the book.
type PriceLevel struct {
	Price string `json:"price"` // decimal string
	Qty   int64  `json:"qty"`
}

// OrderbookSnapshot is the public view of one instrument's book.
type OrderbookSnapshot struct {
	Ticker    string       `json:"ticker"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	LastPrice string       `json:"last_price,omitempty"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// TradeInfo is one executed trade.
type TradeInfo struct {
	ID        string `json:"id"`
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Qty       int64  `json:"qty"`
	TakerSide string `json:"taker_side"` // "BUY" or "SELL"
	Timestamp int64  `json:"timestamp"`  // Unix milliseconds
}

// UserTradeInfo extends TradeInfo with the order ids the caller can see.
type UserTradeInfo struct {
	TradeInfo
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
}

// BalanceInfo is one asset row of a user's balance.
type BalanceInfo struct {
	Ticker    string `json:"ticker"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

// OrderInfo is an order, open or historical.
type OrderInfo struct {
	ID        string `json:"id"`
	Ticker    string `json:"ticker"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Qty       int64  `json:"qty"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// PlaceOrderResponse is the response from order submission.
type PlaceOrderResponse struct {
	OrderID string      `json:"order_id"`
	Status  string      `json:"status"`
	Filled  int64       `json:"filled"`
	Trades  []TradeInfo `json:"trades,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["trades:AAPL"]
}

// TradeUpdate is broadcast on channel "trades:{ticker}" when a trade
// executes.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Qty       int64  `json:"qty"`
	TakerSide string `json:"taker_side"`
	Timestamp int64  `json:"timestamp"`
}
