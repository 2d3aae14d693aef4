// Package tradelog is the append-only record of executed trades, backed by
// Pebble. It is the durable audit trail and serves transaction-history
// queries by instrument and by user.
package tradelog

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Trade is one execution. Immutable once appended. Price is always the
// maker's resting price.
type Trade struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`

	// Seq is the per-instrument execution sequence; trades of one
	// instrument are totally ordered by it.
	Seq uint64 `json:"seq"`

	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	MakerUser    string `json:"makerUser"`
	TakerUser    string `json:"takerUser"`
	TakerSide    string `json:"takerSide"` // "BUY" or "SELL"

	Price     int64 `json:"price"`
	Qty       int64 `json:"qty"`
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// Log is the append-only trade store.
type Log struct {
	db *pebble.DB
}

// Open opens (or creates) the trade log at the given path.
func Open(dbPath string) (*Log, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open trade log at %s: %w", dbPath, err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Append records a trade under both the instrument and the two user
// indexes, atomically. It fails only on storage faults, which callers
// treat as unrecoverable.
func (l *Log) Append(t *Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", t.ID, err)
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(tradeKey(t.Ticker, t.Seq), data, nil); err != nil {
		return fmt.Errorf("append trade %s: %w", t.ID, err)
	}
	if err := batch.Set(userTradeKey(t.MakerUser, t.Timestamp, t.ID), data, nil); err != nil {
		return fmt.Errorf("append trade %s: %w", t.ID, err)
	}
	if err := batch.Set(userTradeKey(t.TakerUser, t.Timestamp, t.ID), data, nil); err != nil {
		return fmt.Errorf("append trade %s: %w", t.ID, err)
	}

	// NoSync: trades flow through the hot path; durability is batched by
	// Pebble's WAL sync cadence.
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit trade %s: %w", t.ID, err)
	}
	return nil
}

// LastSeq returns the highest sequence recorded for a ticker, or 0 when
// the instrument has no trades. Book handles resume their sequence from
// here so the instrument keys stay append-only across restarts and
// delete/recreate of a ticker.
func (l *Log) LastSeq(ticker string) (uint64, error) {
	prefix := tradePrefix(ticker)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	var t Trade
	if err := json.Unmarshal(iter.Value(), &t); err != nil {
		return 0, fmt.Errorf("decode trade at %s: %w", iter.Key(), err)
	}
	return t.Seq, nil
}

// ByInstrument returns up to limit trades for a ticker, newest first.
func (l *Log) ByInstrument(ticker string, limit int) ([]*Trade, error) {
	return l.scan(tradePrefix(ticker), limit)
}

// ByUser returns up to limit trades in which the user was either side,
// newest first.
func (l *Log) ByUser(user string, limit int) ([]*Trade, error) {
	return l.scan(userTradePrefix(user), limit)
}

func (l *Log) scan(prefix []byte, limit int) ([]*Trade, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []*Trade
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip invalid entries
		}
		trades = append(trades, &t)
	}
	return trades, nil
}
