package ledger

import (
	"errors"
	"sync"
	"testing"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestDepositWithdraw(t *testing.T) {
	l := newTestLedger(t)

	b, err := l.Deposit("alice", "USD", 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if b.Available != 1000 || b.Reserved != 0 {
		t.Errorf("balance = %+v", b)
	}

	b, err = l.Withdraw("alice", "USD", 400)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if b.Available != 600 {
		t.Errorf("available = %d, want 600", b.Available)
	}

	if _, err := l.Withdraw("alice", "USD", 601); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraw = %v, want ErrInsufficientBalance", err)
	}
	if _, err := l.Deposit("alice", "USD", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero deposit = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.Withdraw("alice", "USD", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative withdraw = %v, want ErrInvalidAmount", err)
	}
}

func TestReserveRelease(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", "USD", 1000)

	if err := l.Reserve("alice", "USD", 700); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got := l.Balances("alice")
	if got[0].Available != 300 || got[0].Reserved != 700 {
		t.Errorf("after reserve = %+v", got[0])
	}

	// Reserved funds are not withdrawable.
	if _, err := l.Withdraw("alice", "USD", 500); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("withdraw reserved = %v, want ErrInsufficientBalance", err)
	}

	if err := l.Reserve("alice", "USD", 301); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("over-reserve = %v, want ErrInsufficientBalance", err)
	}

	if err := l.Release("alice", "USD", 700); err != nil {
		t.Fatalf("release: %v", err)
	}
	got = l.Balances("alice")
	if got[0].Available != 1000 || got[0].Reserved != 0 {
		t.Errorf("after release = %+v", got[0])
	}

	// Releasing more than reserved is an invariant violation.
	if err := l.Release("alice", "USD", 1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("over-release = %v, want ErrInvalidState", err)
	}
}

func TestSettle(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("buyer", "USD", 1000)
	l.Deposit("seller", "AAPL", 10)

	if err := l.Reserve("buyer", "USD", 500); err != nil {
		t.Fatal(err)
	}
	if err := l.Reserve("seller", "AAPL", 5); err != nil {
		t.Fatal(err)
	}

	// 5 lots at 100 ticks.
	if err := l.Settle("buyer", "seller", "AAPL", "USD", 5, 100); err != nil {
		t.Fatalf("settle: %v", err)
	}

	buyer := l.Balances("buyer")
	if buyer[0].Asset != "AAPL" || buyer[0].Available != 5 {
		t.Errorf("buyer base = %+v", buyer[0])
	}
	if buyer[1].Asset != "USD" || buyer[1].Available != 500 || buyer[1].Reserved != 0 {
		t.Errorf("buyer quote = %+v", buyer[1])
	}

	seller := l.Balances("seller")
	if seller[0].Available != 5 || seller[0].Reserved != 0 {
		t.Errorf("seller base = %+v", seller[0])
	}
	if seller[1].Available != 500 {
		t.Errorf("seller quote = %+v", seller[1])
	}
}

func TestSettleUnderflowMutatesNothing(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("buyer", "USD", 100)
	l.Deposit("seller", "AAPL", 10)
	l.Reserve("buyer", "USD", 100)
	l.Reserve("seller", "AAPL", 10)

	// Cost 200 exceeds buyer's 100 reserved.
	if err := l.Settle("buyer", "seller", "AAPL", "USD", 2, 100); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("settle = %v, want ErrInvalidState", err)
	}

	// Neither side was touched.
	if b := l.Balances("buyer"); b[0].Reserved != 100 {
		t.Errorf("buyer mutated: %+v", b)
	}
	if s := l.Balances("seller"); s[0].Reserved != 10 {
		t.Errorf("seller mutated: %+v", s)
	}
}

// TestConservation checks that settlements never create or destroy funds,
// only deposits and withdrawals change an asset's total supply.
func TestConservation(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", "USD", 10000)
	l.Deposit("bob", "AAPL", 100)

	l.Reserve("alice", "USD", 10000)
	l.Reserve("bob", "AAPL", 100)

	for i := 0; i < 10; i++ {
		if err := l.Settle("alice", "bob", "AAPL", "USD", 10, 100); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}

	if got := l.TotalSupply("USD"); got != 10000 {
		t.Errorf("USD supply = %d, want 10000", got)
	}
	if got := l.TotalSupply("AAPL"); got != 100 {
		t.Errorf("AAPL supply = %d, want 100", got)
	}
}

// TestConcurrentSettles exercises the pair-locking with opposing user
// orders to catch lock-order deadlocks under the race detector.
func TestConcurrentSettles(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", "USD", 100000)
	l.Deposit("alice", "AAPL", 1000)
	l.Deposit("bob", "USD", 100000)
	l.Deposit("bob", "AAPL", 1000)
	l.Reserve("alice", "USD", 100000)
	l.Reserve("alice", "AAPL", 1000)
	l.Reserve("bob", "USD", 100000)
	l.Reserve("bob", "AAPL", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Settle("alice", "bob", "AAPL", "USD", 1, 10)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Settle("bob", "alice", "AAPL", "USD", 1, 10)
			}
		}()
	}
	wg.Wait()

	if got := l.TotalSupply("USD"); got != 200000 {
		t.Errorf("USD supply = %d, want 200000", got)
	}
	if got := l.TotalSupply("AAPL"); got != 2000 {
		t.Errorf("AAPL supply = %d, want 2000", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dbPath := t.TempDir() + "/balances"

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	l, err := New(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	l.Deposit("alice", "USD", 1234)
	l.Deposit("alice", "AAPL", 7)
	l.Reserve("alice", "AAPL", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	l2, err := New(store2)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	defer l2.Close()

	got := l2.Balances("alice")
	if len(got) != 2 {
		t.Fatalf("balances = %+v", got)
	}
	// Reservations belong to orders, and orders do not survive a reload:
	// the reserved 3 AAPL must come back as available funds.
	if got[0].Asset != "AAPL" || got[0].Available != 7 || got[0].Reserved != 0 {
		t.Errorf("AAPL = %+v", got[0])
	}
	if got[1].Asset != "USD" || got[1].Available != 1234 {
		t.Errorf("USD = %+v", got[1])
	}
	if total := l2.TotalSupply("AAPL"); total != 7 {
		t.Errorf("AAPL supply after reload = %d, want 7", total)
	}
}

func TestReloadTwiceKeepsFoldedReservations(t *testing.T) {
	dbPath := t.TempDir() + "/balances"

	open := func() *Ledger {
		store, err := NewStore(dbPath)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		l, err := New(store)
		if err != nil {
			t.Fatalf("new ledger: %v", err)
		}
		return l
	}

	l := open()
	l.Deposit("bob", "USD", 100)
	l.Reserve("bob", "USD", 60)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The fold-back is persisted, so a second reload sees it too.
	for i := 0; i < 2; i++ {
		l = open()
		got := l.Balances("bob")
		if len(got) != 1 || got[0].Available != 100 || got[0].Reserved != 0 {
			t.Fatalf("reload %d: balances = %+v", i, got)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}

func TestSaveNotOvertakenByQueuedRow(t *testing.T) {
	dbPath := t.TempDir() + "/balances"

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	l, err := New(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	// Interleave write-behind rows with a durable write for the same key.
	// Whatever order they were produced in, the last row must win.
	l.Deposit("carol", "USD", 500)
	l.Reserve("carol", "USD", 200)
	l.Release("carol", "USD", 200)
	if _, err := l.Withdraw("carol", "USD", 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	l2, err := New(store2)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	defer l2.Close()

	got := l2.Balances("carol")
	if len(got) != 1 || got[0].Available != 400 || got[0].Reserved != 0 {
		t.Fatalf("balances = %+v", got)
	}
}

func TestStoreCloseIdempotentAndSafe(t *testing.T) {
	store, err := NewStore(t.TempDir() + "/balances")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Late rows are dropped, not panicked on.
	store.Enqueue("dave", "USD", Balance{Available: 1})
	if err := store.Save("dave", "USD", Balance{Available: 1}); err == nil {
		t.Fatal("save after close should fail")
	}
}
