package exchange

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/matching"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/tradelog"
)

// PlaceOrderCommand is a well-typed order submission. Price is in ticks
// and must be zero for market orders.
type PlaceOrderCommand struct {
	User   string
	Ticker string
	Side   orderbook.Side
	Type   orderbook.OrderType
	Qty    int64
	Price  int64
}

// PlaceOrderResult reports the accepted order and the trades it produced.
type PlaceOrderResult struct {
	OrderID string
	Status  orderbook.OrderStatus
	Filled  int64
	Trades  []*tradelog.Trade
}

func (c *PlaceOrderCommand) validate() error {
	if c.User == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidOrder)
	}
	if c.Side != orderbook.Buy && c.Side != orderbook.Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, c.Side)
	}
	if c.Qty <= 0 {
		return fmt.Errorf("%w: non-positive qty %d", ErrInvalidOrder, c.Qty)
	}
	switch c.Type {
	case orderbook.Limit:
		if c.Price <= 0 {
			return fmt.Errorf("%w: limit order needs a positive price, got %d", ErrInvalidOrder, c.Price)
		}
		// Notional is handled as a raw int64 everywhere downstream, so an
		// order whose qty*price wraps must never enter the book.
		if c.Qty > math.MaxInt64/c.Price {
			return fmt.Errorf("%w: notional %d*%d overflows", ErrInvalidOrder, c.Qty, c.Price)
		}
	case orderbook.Market:
		if c.Price != 0 {
			return fmt.Errorf("%w: market order carries a price %d", ErrInvalidOrder, c.Price)
		}
	default:
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, c.Type)
	}
	return nil
}

// PlaceOrder runs the composite operation: reserve funds, match, mutate
// book and ledger, append trades. All of it happens inside the
// instrument's critical section and is all-or-nothing: every rejection
// path returns before the first mutation.
func (e *Engine) PlaceOrder(cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	h := e.handle(cmd.Ticker)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInstrument, cmd.Ticker)
	}

	if err := h.acquire(e.lockWait); err != nil {
		return nil, err
	}
	defer h.release()

	order := &orderbook.Order{
		ID:        uuid.NewString(),
		User:      cmd.User,
		Ticker:    cmd.Ticker,
		Side:      cmd.Side,
		Type:      cmd.Type,
		Price:     cmd.Price,
		Qty:       cmd.Qty,
		Status:    orderbook.StatusNew,
		CreatedAt: time.Now().UnixMilli(),
	}

	// Plan first: the match is a pure read of the book.
	plan, _ := matching.Match(order, h.book)

	if err := e.reserveFor(order, plan); err != nil {
		return nil, err
	}

	// Committed from here on. Business rules are all checked; any failure
	// below is a coordination bug (ErrInvalidState class) or an
	// unrecoverable storage fault, logged and surfaced.
	trades, err := e.commitFills(h, order, plan)
	if err != nil {
		return nil, err
	}

	switch {
	case order.Remaining() == 0:
		order.Status = orderbook.StatusFilled
	case order.Type == orderbook.Limit:
		if order.Filled > 0 {
			order.Status = orderbook.StatusPartiallyFilled
		}
		if err := h.book.Insert(order); err != nil {
			return nil, e.fatal("rest residual", order.ID, err)
		}
	default:
		// Market residual never rests: cancel it immediately. Its cost
		// was never reserved, so there is nothing to release.
		order.Status = orderbook.StatusCancelled
	}

	e.mu.Lock()
	e.orders[order.ID] = &orderRef{ticker: cmd.Ticker, order: order}
	e.mu.Unlock()

	e.log.Info("order_placed",
		zap.String("order", order.ID),
		zap.String("user", cmd.User),
		zap.String("ticker", cmd.Ticker),
		zap.String("side", cmd.Side.String()),
		zap.String("type", cmd.Type.String()),
		zap.Int64("qty", cmd.Qty),
		zap.Int64("price", cmd.Price),
		zap.Int64("filled", order.Filled),
		zap.String("status", order.Status.String()),
	)

	return &PlaceOrderResult{
		OrderID: order.ID,
		Status:  order.Status,
		Filled:  order.Filled,
		Trades:  trades,
	}, nil
}

// reserveFor earmarks the funds the order can consume. Limit orders
// reserve their full size at the limit price; market orders reserve the
// exact cost of the fill plan (they never rest, so nothing beyond the
// plan is needed).
func (e *Engine) reserveFor(order *orderbook.Order, plan []matching.Fill) error {
	base, quote := order.Ticker, e.quoteAsset

	if order.Type == orderbook.Market {
		if len(plan) == 0 {
			return fmt.Errorf("%w: market %s has no crossing liquidity in %s", ErrInvalidOrder, order.Side, order.Ticker)
		}
		var planQty, planCost int64
		for _, f := range plan {
			// Each maker passed the notional check on insert, so the
			// per-fill product is safe; only the running sum can wrap.
			cost := f.Qty * f.Price
			if planCost > math.MaxInt64-cost {
				return fmt.Errorf("%w: market plan cost overflows", ErrInvalidOrder)
			}
			planQty += f.Qty
			planCost += cost
		}
		if order.Side == orderbook.Buy {
			return e.ledger.Reserve(order.User, quote, planCost)
		}
		return e.ledger.Reserve(order.User, base, planQty)
	}

	if order.Side == orderbook.Buy {
		return e.ledger.Reserve(order.User, quote, order.Qty*order.Price)
	}
	return e.ledger.Reserve(order.User, base, order.Qty)
}

// commitFills applies the plan: book mutation, settlement, surplus
// release, trade log append, feed notification. Caller holds the book
// lock.
func (e *Engine) commitFills(h *bookHandle, order *orderbook.Order, plan []matching.Fill) ([]*tradelog.Trade, error) {
	base, quote := order.Ticker, e.quoteAsset
	now := time.Now().UnixMilli()

	trades := make([]*tradelog.Trade, 0, len(plan))
	for _, f := range plan {
		if err := h.book.Fill(f.MakerID, f.Qty); err != nil {
			return nil, e.fatal("book fill", order.ID, err)
		}
		order.Filled += f.Qty

		buyer, seller := order.User, f.MakerUser
		if order.Side == orderbook.Sell {
			buyer, seller = f.MakerUser, order.User
		}
		if err := e.ledger.Settle(buyer, seller, base, quote, f.Qty, f.Price); err != nil {
			return nil, e.fatal("settle", order.ID, err)
		}

		// A limit buy taker reserved at its own limit; fills at a better
		// maker price free the difference immediately.
		if order.Side == orderbook.Buy && order.Type == orderbook.Limit && order.Price > f.Price {
			if err := e.ledger.Release(order.User, quote, f.Qty*(order.Price-f.Price)); err != nil {
				return nil, e.fatal("release surplus", order.ID, err)
			}
		}

		h.tradeSeq++
		trade := &tradelog.Trade{
			ID:           uuid.NewString(),
			Ticker:       order.Ticker,
			Seq:          h.tradeSeq,
			MakerOrderID: f.MakerID,
			TakerOrderID: order.ID,
			MakerUser:    f.MakerUser,
			TakerUser:    order.User,
			TakerSide:    order.Side.String(),
			Price:        f.Price,
			Qty:          f.Qty,
			Timestamp:    now,
		}
		if e.trades != nil {
			if err := e.trades.Append(trade); err != nil {
				return nil, e.fatal("trade log append", order.ID, err)
			}
		}
		if e.onTrade != nil {
			e.onTrade(trade)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// fatal wraps a commit-phase failure as an invalid-state fault.
func (e *Engine) fatal(stage, orderID string, err error) error {
	e.log.Error("commit_failed",
		zap.String("stage", stage),
		zap.String("order", orderID),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s for order %s: %v", ErrInvalidState, stage, orderID, err)
}

// CancelOrder removes a resting order and releases its reservation.
// Exactly one of cancel and a racing match wins: both run inside the
// book's critical section, and a terminal order cannot be cancelled.
// Orders of other users are reported as not found rather than revealed.
func (e *Engine) CancelOrder(user, orderID string) (orderbook.Order, error) {
	e.mu.RLock()
	ref := e.orders[orderID]
	e.mu.RUnlock()

	if ref == nil || ref.order.User != user {
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	h := e.handle(ref.ticker)
	if h == nil {
		// Instrument deleted; only possible once every order on it was
		// terminal.
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrAlreadyTerminal, orderID)
	}

	if err := h.acquire(e.lockWait); err != nil {
		return orderbook.Order{}, err
	}
	defer h.release()

	order := ref.order
	if order.Status.Terminal() {
		return orderbook.Order{}, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, orderID, order.Status)
	}

	if _, err := h.book.Remove(orderID); err != nil {
		// A non-terminal order must be resting; anything else is a
		// bookkeeping bug.
		return orderbook.Order{}, e.fatal("cancel remove", orderID, err)
	}

	remaining := order.Remaining()
	var relErr error
	if order.Side == orderbook.Buy {
		relErr = e.ledger.Release(user, e.quoteAsset, remaining*order.Price)
	} else {
		relErr = e.ledger.Release(user, order.Ticker, remaining)
	}
	if relErr != nil {
		return orderbook.Order{}, e.fatal("cancel release", orderID, relErr)
	}

	order.Status = orderbook.StatusCancelled

	e.log.Info("order_cancelled",
		zap.String("order", orderID),
		zap.String("user", user),
		zap.Int64("released_qty", remaining),
	)
	return *order, nil
}

// GetOrder returns a consistent copy of one of the user's orders.
func (e *Engine) GetOrder(user, orderID string) (orderbook.Order, error) {
	e.mu.RLock()
	ref := e.orders[orderID]
	e.mu.RUnlock()

	if ref == nil || ref.order.User != user {
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if h := e.handle(ref.ticker); h != nil {
		if err := h.acquire(e.lockWait); err != nil {
			return orderbook.Order{}, err
		}
		defer h.release()
	}
	return *ref.order, nil
}

// ListOrders returns copies of all of the user's orders, newest first.
func (e *Engine) ListOrders(user string) ([]orderbook.Order, error) {
	e.mu.RLock()
	byTicker := make(map[string][]*orderbook.Order)
	for _, ref := range e.orders {
		if ref.order.User == user {
			byTicker[ref.ticker] = append(byTicker[ref.ticker], ref.order)
		}
	}
	e.mu.RUnlock()

	out := make([]orderbook.Order, 0)
	for ticker, orders := range byTicker {
		h := e.handle(ticker)
		if h != nil {
			if err := h.acquire(e.lockWait); err != nil {
				return nil, err
			}
		}
		for _, o := range orders {
			out = append(out, *o)
		}
		if h != nil {
			h.release()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}
