package tradelog

import (
	"fmt"
	"testing"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir() + "/trades")
	if err != nil {
		t.Fatalf("open trade log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func appendTrades(t *testing.T, l *Log, ticker string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		err := l.Append(&Trade{
			ID:           fmt.Sprintf("%s-t%d", ticker, i),
			Ticker:       ticker,
			Seq:          uint64(i),
			MakerOrderID: "maker-order",
			TakerOrderID: "taker-order",
			MakerUser:    "maker",
			TakerUser:    "taker",
			TakerSide:    "BUY",
			Price:        int64(100 + i),
			Qty:          int64(i),
			Timestamp:    int64(1700000000000 + i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestByInstrumentNewestFirst(t *testing.T) {
	l := newTestLog(t)
	appendTrades(t, l, "AAPL", 5)
	appendTrades(t, l, "MSFT", 2)

	trades, err := l.ByInstrument("AAPL", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("got %d trades, want 5", len(trades))
	}
	for i, tr := range trades {
		if tr.Ticker != "AAPL" {
			t.Errorf("trade %d ticker = %s", i, tr.Ticker)
		}
	}
	// Newest first by per-instrument sequence.
	if trades[0].Seq != 5 || trades[4].Seq != 1 {
		t.Errorf("order: first seq = %d, last seq = %d; want 5, 1", trades[0].Seq, trades[4].Seq)
	}
}

func TestByInstrumentLimit(t *testing.T) {
	l := newTestLog(t)
	appendTrades(t, l, "AAPL", 10)

	trades, err := l.ByInstrument("AAPL", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	if trades[0].Seq != 10 {
		t.Errorf("first seq = %d, want 10", trades[0].Seq)
	}
}

func TestByUserCoversBothSides(t *testing.T) {
	l := newTestLog(t)

	err := l.Append(&Trade{
		ID: "t1", Ticker: "AAPL", Seq: 1,
		MakerUser: "alice", TakerUser: "bob", TakerSide: "BUY",
		Price: 100, Qty: 2, Timestamp: 1700000000001,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = l.Append(&Trade{
		ID: "t2", Ticker: "AAPL", Seq: 2,
		MakerUser: "carol", TakerUser: "alice", TakerSide: "SELL",
		Price: 101, Qty: 1, Timestamp: 1700000000002,
	})
	if err != nil {
		t.Fatal(err)
	}

	for user, want := range map[string]int{"alice": 2, "bob": 1, "carol": 1} {
		trades, err := l.ByUser(user, 0)
		if err != nil {
			t.Fatalf("by user %s: %v", user, err)
		}
		if len(trades) != want {
			t.Errorf("trades for %s = %d, want %d", user, len(trades), want)
		}
	}
}

func TestEmptyQueries(t *testing.T) {
	l := newTestLog(t)

	if trades, err := l.ByInstrument("AAPL", 10); err != nil || len(trades) != 0 {
		t.Errorf("empty instrument query = %v, %v", trades, err)
	}
	if trades, err := l.ByUser("ghost", 10); err != nil || len(trades) != 0 {
		t.Errorf("empty user query = %v, %v", trades, err)
	}
}

func TestLastSeq(t *testing.T) {
	l := newTestLog(t)

	if seq, err := l.LastSeq("AAPL"); err != nil || seq != 0 {
		t.Fatalf("empty log: seq = %d, err = %v", seq, err)
	}

	appendTrades(t, l, "AAPL", 7)
	appendTrades(t, l, "MSFT", 3)

	if seq, err := l.LastSeq("AAPL"); err != nil || seq != 7 {
		t.Errorf("AAPL seq = %d, err = %v; want 7", seq, err)
	}
	if seq, err := l.LastSeq("MSFT"); err != nil || seq != 3 {
		t.Errorf("MSFT seq = %d, err = %v; want 3", seq, err)
	}
}
