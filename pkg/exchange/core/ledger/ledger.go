// Package ledger owns per-(user, asset) balances split into available and
// reserved amounts. Rows are mutually exclusive resources: every operation
// locks the rows it touches and nothing else, so balance activity for
// unrelated users never serializes.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInsufficientBalance rejects a reservation or withdrawal that
	// exceeds the available amount. Recoverable, surfaced to the caller.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState marks a reserved-balance underflow or similar
	// invariant violation. It indicates a coordination bug and must be
	// logged and surfaced, never swallowed.
	ErrInvalidState = errors.New("invalid ledger state")

	// ErrInvalidAmount rejects non-positive deposit/withdraw amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Balance is one (user, asset) row. Amounts are integer fixed point and
// never negative.
type Balance struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

// AssetBalance is a row tagged with its asset for balance listings.
type AssetBalance struct {
	Asset     string
	Available int64
	Reserved  int64
}

// row holds all asset balances of one user behind the user's row lock.
type row struct {
	mu     sync.Mutex
	assets map[string]*Balance
}

// Ledger is the authoritative owner of balance state. An optional Store
// persists rows write-behind: the in-memory copy is the source of truth,
// disk writes never sit on the matching hot path.
type Ledger struct {
	mu    sync.Mutex // guards the users map, not row contents
	users map[string]*row

	store *Store
}

// New creates a ledger. store may be nil for a purely in-memory ledger.
// With a store, previously persisted rows are loaded back into memory.
func New(store *Store) (*Ledger, error) {
	l := &Ledger{
		users: make(map[string]*row),
		store: store,
	}
	if store != nil {
		rows, err := store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load balances: %w", err)
		}
		for user, assets := range rows {
			r := &row{assets: make(map[string]*Balance, len(assets))}
			for asset, bal := range assets {
				b := bal
				// Reservations reference open orders, and orders do not
				// survive a restart. Fold them back so no funds strand.
				if b.Reserved > 0 {
					b.Available += b.Reserved
					b.Reserved = 0
					l.persistAsync(user, asset, b)
				}
				r.assets[asset] = &b
			}
			l.users[user] = r
		}
	}
	return l, nil
}

// Close flushes pending write-behind rows and closes the store.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

func (l *Ledger) row(user string) *row {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.users[user]
	if !ok {
		r = &row{assets: make(map[string]*Balance)}
		l.users[user] = r
	}
	return r
}

// balance returns the asset entry of an already locked row.
func (r *row) balance(asset string) *Balance {
	b, ok := r.assets[asset]
	if !ok {
		b = &Balance{}
		r.assets[asset] = b
	}
	return b
}

// lockPair locks the rows of two users in ascending user-id order so that
// concurrent settlements can never deadlock. Both users may be the same
// row only through distinct ids; callers never settle a user against
// themself (self-trades are skipped at matching time).
func (l *Ledger) lockPair(a, b string) (*row, *row, func()) {
	ra, rb := l.row(a), l.row(b)
	first, second := ra, rb
	if a > b {
		first, second = rb, ra
	}
	first.mu.Lock()
	second.mu.Lock()
	return ra, rb, func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Reserve moves amount from available to reserved, earmarking funds for an
// open order. Fails with ErrInsufficientBalance when available < amount.
func (l *Ledger) Reserve(user, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative reserve %d", ErrInvalidState, amount)
	}
	if amount == 0 {
		return nil
	}

	r := l.row(user)
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.balance(asset)
	if b.Available < amount {
		return fmt.Errorf("%w: %s %s requires %d, available %d", ErrInsufficientBalance, user, asset, amount, b.Available)
	}
	b.Available -= amount
	b.Reserved += amount
	l.persistAsync(user, asset, *b)
	return nil
}

// Release reverses a reservation, moving amount back to available. A
// release larger than the reserved amount is a coordination bug and fails
// with ErrInvalidState.
func (l *Ledger) Release(user, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative release %d", ErrInvalidState, amount)
	}
	if amount == 0 {
		return nil
	}

	r := l.row(user)
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.balance(asset)
	if b.Reserved < amount {
		return fmt.Errorf("%w: release %d exceeds reserved %d for %s %s", ErrInvalidState, amount, b.Reserved, user, asset)
	}
	b.Reserved -= amount
	b.Available += amount
	l.persistAsync(user, asset, *b)
	return nil
}

// Settle applies one trade: qty base at the given price.
//
//	buyer:  reserved quote -qty*price, available base +qty
//	seller: reserved base  -qty,       available quote +qty*price
//
// Both rows are mutated under their locks in one call; a reserved
// underflow on either side fails with ErrInvalidState before anything is
// touched, so a failed settlement mutates nothing.
func (l *Ledger) Settle(buyer, seller, baseAsset, quoteAsset string, qty, price int64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("%w: settle qty=%d price=%d", ErrInvalidState, qty, price)
	}
	cost := qty * price

	rb, rs, unlock := l.lockPair(buyer, seller)
	defer unlock()

	buyerQuote := rb.balance(quoteAsset)
	sellerBase := rs.balance(baseAsset)
	if buyerQuote.Reserved < cost {
		return fmt.Errorf("%w: buyer %s reserved %s %d < cost %d", ErrInvalidState, buyer, quoteAsset, buyerQuote.Reserved, cost)
	}
	if sellerBase.Reserved < qty {
		return fmt.Errorf("%w: seller %s reserved %s %d < qty %d", ErrInvalidState, seller, baseAsset, sellerBase.Reserved, qty)
	}

	buyerBase := rb.balance(baseAsset)
	sellerQuote := rs.balance(quoteAsset)

	buyerQuote.Reserved -= cost
	sellerQuote.Available += cost
	sellerBase.Reserved -= qty
	buyerBase.Available += qty

	l.persistAsync(buyer, quoteAsset, *buyerQuote)
	l.persistAsync(buyer, baseAsset, *buyerBase)
	l.persistAsync(seller, quoteAsset, *sellerQuote)
	l.persistAsync(seller, baseAsset, *sellerBase)
	return nil
}

// Deposit credits available balance and returns the updated row.
func (l *Ledger) Deposit(user, asset string, amount int64) (Balance, error) {
	if amount <= 0 {
		return Balance{}, fmt.Errorf("%w: deposit %d", ErrInvalidAmount, amount)
	}

	r := l.row(user)
	r.mu.Lock()
	b := r.balance(asset)
	b.Available += amount
	out := *b
	r.mu.Unlock()

	// Admin-triggered and rare: persist synchronously.
	return out, l.persistSync(user, asset, out)
}

// Withdraw debits available balance. Reserved funds are not touchable:
// withdrawing more than available fails with ErrInsufficientBalance.
func (l *Ledger) Withdraw(user, asset string, amount int64) (Balance, error) {
	if amount <= 0 {
		return Balance{}, fmt.Errorf("%w: withdraw %d", ErrInvalidAmount, amount)
	}

	r := l.row(user)
	r.mu.Lock()
	b := r.balance(asset)
	if b.Available < amount {
		r.mu.Unlock()
		return Balance{}, fmt.Errorf("%w: %s %s requires %d, available %d", ErrInsufficientBalance, user, asset, amount, b.Available)
	}
	b.Available -= amount
	out := *b
	r.mu.Unlock()

	return out, l.persistSync(user, asset, out)
}

// Balances returns every asset row of a user, sorted by asset.
func (l *Ledger) Balances(user string) []AssetBalance {
	r := l.row(user)
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AssetBalance, 0, len(r.assets))
	for asset, b := range r.assets {
		out = append(out, AssetBalance{Asset: asset, Available: b.Available, Reserved: b.Reserved})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// TotalSupply sums available+reserved of one asset across all users.
// Trades only move funds between rows, so for any asset this changes only
// through deposits and withdrawals.
func (l *Ledger) TotalSupply(asset string) int64 {
	l.mu.Lock()
	users := make([]*row, 0, len(l.users))
	for _, r := range l.users {
		users = append(users, r)
	}
	l.mu.Unlock()

	var total int64
	for _, r := range users {
		r.mu.Lock()
		if b, ok := r.assets[asset]; ok {
			total += b.Available + b.Reserved
		}
		r.mu.Unlock()
	}
	return total
}

func (l *Ledger) persistAsync(user, asset string, b Balance) {
	if l.store != nil {
		l.store.Enqueue(user, asset, b)
	}
}

func (l *Ledger) persistSync(user, asset string, b Balance) error {
	if l.store == nil {
		return nil
	}
	return l.store.Save(user, asset, b)
}
