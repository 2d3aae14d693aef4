package orderbook

import (
	"container/heap"
	"fmt"
	"sort"
)

// Level is an aggregate (price, total resting qty) tuple for one book side.
type Level struct {
	Price int64
	Qty   int64
}

// Book is the two-sided resting order structure for a single instrument.
//
// Best prices are tracked with min/max heaps for O(1) peek; each price level
// is a FIFO slice, so priority within a level is arrival order. An order
// index gives O(1) lookup for cancellation.
//
// The Book itself carries no lock: all mutation and reads go through the
// engine's per-instrument critical section, which is the single
// serialization point for matching, settlement and cancellation.
type Book struct {
	ticker string

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[int64][]*Order // price -> FIFO queue
	asks map[int64][]*Order

	index map[string]*Order // order ID -> resting order

	seq       uint64 // arrival counter, carries time priority
	lastPrice int64  // most recent execution price
}

func NewBook(ticker string) *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		ticker:  ticker,
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*Order),
		asks:    make(map[int64][]*Order),
		index:   make(map[string]*Order),
	}
}

func (b *Book) Ticker() string { return b.ticker }

// Insert adds a resting limit order at its priority position.
// Market orders never rest; inserting one fails with ErrInvalidOrder.
func (b *Book) Insert(o *Order) error {
	if o.Type != Limit {
		return fmt.Errorf("%w: %s orders cannot rest on the book", ErrInvalidOrder, o.Type)
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: non-positive limit price %d", ErrInvalidOrder, o.Price)
	}
	if o.Remaining() <= 0 {
		return fmt.Errorf("%w: nothing left to rest (qty=%d filled=%d)", ErrInvalidOrder, o.Qty, o.Filled)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.Side)
	}
	if _, dup := b.index[o.ID]; dup {
		return fmt.Errorf("%w: duplicate order id %s", ErrInvalidOrder, o.ID)
	}

	b.seq++
	o.Seq = b.seq

	if o.Side == Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}

	b.index[o.ID] = o
	return nil
}

// Remove takes a resting order off the book and returns it.
// Fails with ErrOrderNotFound if the order is not resting.
func (b *Book) Remove(id string) (*Order, error) {
	o, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	b.unlink(o)
	return o, nil
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// PeekBest returns the best-priority resting order for a side without
// removing it, or nil if the side is empty.
func (b *Book) PeekBest(side Side) *Order {
	if side == Buy {
		for b.bidHeap.Len() > 0 {
			q := b.bids[b.bidHeap.Peek()]
			if len(q) > 0 {
				return q[0]
			}
			// stale heap entry for an emptied level
			p := heap.Pop(b.bidHeap).(int64)
			delete(b.bids, p)
		}
		return nil
	}
	for b.askHeap.Len() > 0 {
		q := b.asks[b.askHeap.Peek()]
		if len(q) > 0 {
			return q[0]
		}
		p := heap.Pop(b.askHeap).(int64)
		delete(b.asks, p)
	}
	return nil
}

// Walk visits resting orders on a side in price-time priority order
// (best price first, earliest arrival first within a price) until the
// visitor returns false. The book is not mutated.
func (b *Book) Walk(side Side, visit func(*Order) bool) {
	var prices []int64
	var levels map[int64][]*Order

	if side == Buy {
		prices = append(prices, *b.bidHeap...)
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
		levels = b.bids
	} else {
		prices = append(prices, *b.askHeap...)
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
		levels = b.asks
	}

	for _, p := range prices {
		for _, o := range levels[p] {
			if !visit(o) {
				return
			}
		}
	}
}

// Fill applies an execution of qty lots against a resting order at its own
// price, recording the trade price as the book's last price. A fully filled
// order is unlinked and marked FILLED; a partial fill keeps the order
// resting with its original time priority.
func (b *Book) Fill(id string, qty int64) error {
	o, ok := b.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if qty <= 0 || qty > o.Remaining() {
		return fmt.Errorf("%w: fill qty %d against remaining %d", ErrInvalidOrder, qty, o.Remaining())
	}

	o.Filled += qty
	b.lastPrice = o.Price

	if o.Remaining() == 0 {
		o.Status = StatusFilled
		b.unlink(o)
	} else {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

// unlink removes an order from its level queue, the index, and the heap if
// the level empties.
func (b *Book) unlink(o *Order) {
	delete(b.index, o.ID)

	levels := b.bids
	if o.Side == Sell {
		levels = b.asks
	}

	q := levels[o.Price]
	for i, r := range q {
		if r.ID == o.ID {
			levels[o.Price] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(levels[o.Price]) == 0 {
		delete(levels, o.Price)
		if o.Side == Buy {
			b.removeFromBidHeap(o.Price)
		} else {
			b.removeFromAskHeap(o.Price)
		}
	}
}

func (b *Book) removeFromBidHeap(price int64) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price int64) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// BidLevels returns up to limit aggregate bid levels, best (highest) first.
// limit <= 0 means all levels.
func (b *Book) BidLevels(limit int) []Level {
	return aggregate(b.bids, limit, func(i, j int64) bool { return i > j })
}

// AskLevels returns up to limit aggregate ask levels, best (lowest) first.
// limit <= 0 means all levels.
func (b *Book) AskLevels(limit int) []Level {
	return aggregate(b.asks, limit, func(i, j int64) bool { return i < j })
}

func aggregate(levels map[int64][]*Order, limit int, better func(i, j int64) bool) []Level {
	out := make([]Level, 0, len(levels))
	for price, orders := range levels {
		if len(orders) == 0 {
			continue
		}
		var total int64
		for _, o := range orders {
			total += o.Remaining()
		}
		out = append(out, Level{Price: price, Qty: total})
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OpenOrders returns the number of resting orders on both sides.
func (b *Book) OpenOrders() int { return len(b.index) }

// LastPrice returns the most recent execution price, or 0 before any trade.
func (b *Book) LastPrice() int64 { return b.lastPrice }
