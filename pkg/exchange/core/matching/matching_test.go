package matching

import (
	"testing"

	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"
)

func rest(t *testing.T, book *orderbook.Book, id, user string, side orderbook.Side, price, qty int64) {
	t.Helper()
	err := book.Insert(&orderbook.Order{
		ID:     id,
		User:   user,
		Ticker: book.Ticker(),
		Side:   side,
		Type:   orderbook.Limit,
		Price:  price,
		Qty:    qty,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func taker(user string, side orderbook.Side, typ orderbook.OrderType, price, qty int64) *orderbook.Order {
	return &orderbook.Order{
		ID:     "taker",
		User:   user,
		Ticker: "AAPL",
		Side:   side,
		Type:   typ,
		Price:  price,
		Qty:    qty,
	}
}

func TestLimitBuyWalksAsksAtMakerPrice(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "a1", "maker1", orderbook.Sell, 100, 4)
	rest(t, book, "a2", "maker2", orderbook.Sell, 101, 4)
	rest(t, book, "a3", "maker3", orderbook.Sell, 105, 4)

	fills, remaining := Match(taker("taker1", orderbook.Buy, orderbook.Limit, 101, 10), book)

	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	// Fills execute at the maker's resting price, best price first.
	if fills[0].MakerID != "a1" || fills[0].Price != 100 || fills[0].Qty != 4 {
		t.Errorf("fill[0] = %+v", fills[0])
	}
	if fills[1].MakerID != "a2" || fills[1].Price != 101 || fills[1].Qty != 4 {
		t.Errorf("fill[1] = %+v", fills[1])
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
}

func TestLimitDoesNotCross(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "a1", "maker1", orderbook.Sell, 105, 10)

	fills, remaining := Match(taker("taker1", orderbook.Buy, orderbook.Limit, 100, 10), book)
	if len(fills) != 0 || remaining != 10 {
		t.Errorf("fills = %v remaining = %d, want none and 10", fills, remaining)
	}
}

func TestLimitSellCrossesDownToLimit(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "b1", "maker1", orderbook.Buy, 103, 5)
	rest(t, book, "b2", "maker2", orderbook.Buy, 101, 5)
	rest(t, book, "b3", "maker3", orderbook.Buy, 99, 5)

	fills, remaining := Match(taker("taker1", orderbook.Sell, orderbook.Limit, 100, 20), book)

	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].Price != 103 || fills[1].Price != 101 {
		t.Errorf("fill prices = %d, %d; want 103, 101", fills[0].Price, fills[1].Price)
	}
	if remaining != 10 {
		t.Errorf("remaining = %d, want 10", remaining)
	}
}

func TestMarketConsumesBookAndReportsResidual(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "a1", "maker1", orderbook.Sell, 100, 3)
	rest(t, book, "a2", "maker2", orderbook.Sell, 150, 3)

	fills, remaining := Match(taker("taker1", orderbook.Buy, orderbook.Market, 0, 10), book)

	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[1].Price != 150 {
		t.Errorf("market must lift every level: fill[1].Price = %d", fills[1].Price)
	}
	if remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}
}

func TestSelfTradeSkipped(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "own", "alice", orderbook.Sell, 100, 5)
	rest(t, book, "other", "bob", orderbook.Sell, 101, 5)

	fills, remaining := Match(taker("alice", orderbook.Buy, orderbook.Limit, 101, 5), book)

	// Alice's own resting order is skipped; matching continues at bob's.
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	if fills[0].MakerID != "other" || fills[0].Price != 101 {
		t.Errorf("fill = %+v, want other@101", fills[0])
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	// The skipped order stays on the book untouched.
	if o, ok := book.Get("own"); !ok || o.Filled != 0 {
		t.Errorf("own order mutated: %+v", o)
	}
}

func TestMatchIsPure(t *testing.T) {
	book := orderbook.NewBook("AAPL")
	rest(t, book, "a1", "maker1", orderbook.Sell, 100, 5)

	Match(taker("taker1", orderbook.Buy, orderbook.Limit, 100, 5), book)

	o, ok := book.Get("a1")
	if !ok {
		t.Fatal("maker removed by Match")
	}
	if o.Filled != 0 || o.Status != orderbook.StatusNew {
		t.Errorf("maker mutated by Match: %+v", o)
	}
}
