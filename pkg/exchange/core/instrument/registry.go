// Package instrument manages the catalogue of tradable instruments.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlreadyExists = errors.New("instrument already exists")
	ErrNotFound      = errors.New("instrument not found")
	ErrInvalidTicker = errors.New("invalid ticker")
)

// tickers are short uppercase symbols, e.g. "ABC" or "MEMCOIN".
var tickerRe = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Instrument is a tradable asset. Immutable once registered; deletion is
// guarded by the engine, which refuses while open orders reference it.
type Instrument struct {
	Ticker    string
	Name      string
	CreatedAt int64 // unix milliseconds
}

// Registry is the thread-safe instrument catalogue.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

func NewRegistry() *Registry {
	return &Registry{instruments: make(map[string]*Instrument)}
}

// ValidTicker reports whether s is an acceptable ticker symbol.
func ValidTicker(s string) bool { return tickerRe.MatchString(s) }

// Create registers a new instrument. Fails with ErrAlreadyExists when the
// ticker is taken.
func (r *Registry) Create(ticker, name string) (*Instrument, error) {
	if !ValidTicker(ticker) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[ticker]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, ticker)
	}

	ins := &Instrument{
		Ticker:    ticker,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
	}
	r.instruments[ticker] = ins
	return ins, nil
}

// Get returns an instrument by ticker.
func (r *Registry) Get(ticker string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ins, ok := r.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return ins, nil
}

// Exists reports whether a ticker is registered.
func (r *Registry) Exists(ticker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instruments[ticker]
	return ok
}

// List returns all instruments sorted by ticker.
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, ins := range r.instruments {
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Delete removes an instrument. The caller must already hold the
// instrument's book lock and have verified there are no open orders.
func (r *Registry) Delete(ticker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instruments[ticker]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	delete(r.instruments, ticker)
	return nil
}
