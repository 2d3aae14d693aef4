// Package exchange is the transactional core of the venue: it coordinates
// the order books, the balance ledger and the trade log so that order
// placement, cancellation and settlement appear atomic to every caller.
//
// Locking discipline: each instrument's book has one timed lock, acquired
// before any ledger row is touched; ledger rows lock internally, one pair
// at a time in ascending user order, and never call back into a book.
// State is mutated only inside these critical sections.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/instrument"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/ledger"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/orderbook"
	"github.com/ArseniiIvanov/tochka/pkg/exchange/core/tradelog"
)

const (
	defaultQuoteAsset = "USD"
	defaultLockWait   = 250 * time.Millisecond
)

// Options configures an Engine. Zero values fall back to defaults; Ledger
// is required, TradeLog and OnTrade are optional.
type Options struct {
	// QuoteAsset is the venue's settlement currency: BUY orders reserve
	// it, SELL orders receive it.
	QuoteAsset string

	// LockWait bounds how long a command waits for an instrument's book
	// lock before failing with ErrBusy.
	LockWait time.Duration

	Logger   *zap.Logger
	Ledger   *ledger.Ledger
	TradeLog *tradelog.Log

	// OnTrade is invoked after a trade is committed and logged, still
	// inside the book critical section. Keep it fast; used for feeds.
	OnTrade func(*tradelog.Trade)
}

// bookHandle pairs a book with its timed lock and trade sequence.
// tradeSeq is only touched while the lock is held.
type bookHandle struct {
	lock     chan struct{}
	book     *orderbook.Book
	tradeSeq uint64
}

func newBookHandle(ticker string) *bookHandle {
	return &bookHandle{
		lock: make(chan struct{}, 1),
		book: orderbook.NewBook(ticker),
	}
}

// acquire takes the book lock, waiting at most wait. A fast path avoids
// the timer when the lock is free.
func (h *bookHandle) acquire(wait time.Duration) error {
	select {
	case h.lock <- struct{}{}:
		return nil
	default:
	}
	select {
	case h.lock <- struct{}{}:
		return nil
	case <-time.After(wait):
		return fmt.Errorf("%w: book %s", ErrBusy, h.book.Ticker())
	}
}

func (h *bookHandle) release() { <-h.lock }

// orderRef locates an order (live or terminal) by id.
type orderRef struct {
	ticker string
	order  *orderbook.Order
}

// Engine is the lock coordinator and single entry point for all commands.
type Engine struct {
	log        *zap.Logger
	quoteAsset string
	lockWait   time.Duration

	instruments *instrument.Registry
	ledger      *ledger.Ledger
	trades      *tradelog.Log
	onTrade     func(*tradelog.Trade)

	mu     sync.RWMutex
	books  map[string]*bookHandle
	orders map[string]*orderRef
}

// New builds an engine around the given ledger and trade log.
func New(opts Options) *Engine {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = defaultQuoteAsset
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Engine{
		log:         opts.Logger,
		quoteAsset:  opts.QuoteAsset,
		lockWait:    opts.LockWait,
		instruments: instrument.NewRegistry(),
		ledger:      opts.Ledger,
		trades:      opts.TradeLog,
		onTrade:     opts.OnTrade,
		books:       make(map[string]*bookHandle),
		orders:      make(map[string]*orderRef),
	}
}

// QuoteAsset returns the venue settlement currency ticker.
func (e *Engine) QuoteAsset() string { return e.quoteAsset }

// handle returns the book handle for a ticker, or nil.
func (e *Engine) handle(ticker string) *bookHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[ticker]
}

// ==============================
// Instrument lifecycle
// ==============================

// CreateInstrument registers a new instrument and opens its book.
func (e *Engine) CreateInstrument(ticker, name string) (*instrument.Instrument, error) {
	if ticker == e.quoteAsset {
		return nil, fmt.Errorf("%w: %s is the quote asset", ErrAlreadyExists, ticker)
	}

	// Resume the trade sequence from the log so history written under an
	// earlier life of this ticker is never overwritten.
	var lastSeq uint64
	if e.trades != nil {
		var err error
		lastSeq, err = e.trades.LastSeq(ticker)
		if err != nil {
			e.log.Error("trade_seq_load_failed", zap.String("ticker", ticker), zap.Error(err))
			return nil, fmt.Errorf("%w: trade log unreadable for %s: %v", ErrInvalidState, ticker, err)
		}
	}

	ins, err := e.instruments.Create(ticker, name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	h := newBookHandle(ticker)
	h.tradeSeq = lastSeq
	e.books[ticker] = h
	e.mu.Unlock()

	e.log.Info("instrument_created", zap.String("ticker", ticker), zap.String("name", name))
	return ins, nil
}

// DeleteInstrument removes an instrument. Fails with ErrHasOpenOrders
// while any resting order references it.
func (e *Engine) DeleteInstrument(ticker string) error {
	h := e.handle(ticker)
	if h == nil {
		return fmt.Errorf("%w: %s", ErrInvalidInstrument, ticker)
	}

	if err := h.acquire(e.lockWait); err != nil {
		return err
	}
	defer h.release()

	if n := h.book.OpenOrders(); n > 0 {
		return fmt.Errorf("%w: %s has %d resting orders", ErrHasOpenOrders, ticker, n)
	}

	if err := e.instruments.Delete(ticker); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.books, ticker)
	e.mu.Unlock()

	e.log.Info("instrument_deleted", zap.String("ticker", ticker))
	return nil
}

// ListInstruments returns the catalogue sorted by ticker.
func (e *Engine) ListInstruments() []*instrument.Instrument {
	return e.instruments.List()
}

// ==============================
// Balances
// ==============================

// assetKnown accepts the quote asset and any registered instrument.
func (e *Engine) assetKnown(asset string) bool {
	return asset == e.quoteAsset || e.instruments.Exists(asset)
}

// Deposit credits a user's available balance.
func (e *Engine) Deposit(user, asset string, amount int64) (ledger.Balance, error) {
	if !e.assetKnown(asset) {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ErrInvalidInstrument, asset)
	}
	b, err := e.ledger.Deposit(user, asset, amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	e.log.Info("deposit", zap.String("user", user), zap.String("asset", asset), zap.Int64("amount", amount))
	return b, nil
}

// Withdraw debits a user's available balance; reserved funds stay put.
func (e *Engine) Withdraw(user, asset string, amount int64) (ledger.Balance, error) {
	if !e.assetKnown(asset) {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ErrInvalidInstrument, asset)
	}
	b, err := e.ledger.Withdraw(user, asset, amount)
	if err != nil {
		return ledger.Balance{}, err
	}
	e.log.Info("withdraw", zap.String("user", user), zap.String("asset", asset), zap.Int64("amount", amount))
	return b, nil
}

// GetBalance lists a user's balances sorted by asset.
func (e *Engine) GetBalance(user string) []ledger.AssetBalance {
	return e.ledger.Balances(user)
}

// ==============================
// Book and history queries
// ==============================

// BookSnapshot is an aggregate view of one instrument's book.
type BookSnapshot struct {
	Ticker    string
	Bids      []orderbook.Level
	Asks      []orderbook.Level
	LastPrice int64
	Timestamp int64
}

// GetOrderBook returns up to depth aggregate levels per side.
func (e *Engine) GetOrderBook(ticker string, depth int) (*BookSnapshot, error) {
	h := e.handle(ticker)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInstrument, ticker)
	}

	if err := h.acquire(e.lockWait); err != nil {
		return nil, err
	}
	defer h.release()

	return &BookSnapshot{
		Ticker:    ticker,
		Bids:      h.book.BidLevels(depth),
		Asks:      h.book.AskLevels(depth),
		LastPrice: h.book.LastPrice(),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// TradesByInstrument returns recent trades for a ticker, newest first.
func (e *Engine) TradesByInstrument(ticker string, limit int) ([]*tradelog.Trade, error) {
	if !e.instruments.Exists(ticker) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInstrument, ticker)
	}
	if e.trades == nil {
		return nil, nil
	}
	return e.trades.ByInstrument(ticker, limit)
}

// TradesByUser returns recent trades involving a user, newest first.
func (e *Engine) TradesByUser(user string, limit int) ([]*tradelog.Trade, error) {
	if e.trades == nil {
		return nil, nil
	}
	return e.trades.ByUser(user, limit)
}
