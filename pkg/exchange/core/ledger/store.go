package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Key schema: "bal:{user}:{asset}" -> JSON Balance.
// User ids are UUIDs and asset tickers are ticker-safe, so ':' cannot
// appear inside either segment.
const prefixBalance = "bal:"

func balanceKey(user, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, user, asset))
}

type flushReq struct {
	user, asset string
	bal         Balance
	opts        *pebble.WriteOptions
	done        chan error // non-nil for synchronous writes
}

// Store persists ledger rows in Pebble. Every write, synchronous or not,
// flows through the single flusher goroutine, so a newer row for a key
// can never be overtaken by a stale one queued earlier. Close must run
// after the callers have quiesced; rows handed in afterwards are dropped.
type Store struct {
	db *pebble.DB

	queue chan flushReq
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	flushErr error // first flusher fault, reported by Close
}

// NewStore opens a Pebble database at the given path and starts the
// write-behind flusher.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}

	s := &Store{
		db:    db,
		queue: make(chan flushReq, 4096),
		done:  make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	for req := range s.queue {
		err := s.write(req.user, req.asset, req.bal, req.opts)
		if err != nil && s.flushErr == nil {
			// Keep draining so Close does not hang; the first fault is
			// what Close reports.
			s.flushErr = err
		}
		if req.done != nil {
			req.done <- err
		}
	}
}

// send hands a request to the flusher unless the store is already closed.
// The queue send happens under the mutex so Close cannot close the channel
// mid-send; the flusher always drains, so the send cannot block forever.
func (s *Store) send(req flushReq) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue <- req
	return true
}

// Enqueue hands a row to the background flusher. Write-behind: NoSync
// keeps the settlement path off fsync, the in-memory ledger stays
// authoritative.
func (s *Store) Enqueue(user, asset string, b Balance) {
	s.send(flushReq{user: user, asset: asset, bal: b, opts: pebble.NoSync})
}

// Save writes a row durably, waiting for the flusher to fsync it.
func (s *Store) Save(user, asset string, b Balance) error {
	done := make(chan error, 1)
	if !s.send(flushReq{user: user, asset: asset, bal: b, opts: pebble.Sync, done: done}) {
		return errors.New("balance store closed")
	}
	return <-done
}

func (s *Store) write(user, asset string, b Balance, opt *pebble.WriteOptions) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(user, asset), data, opt); err != nil {
		return fmt.Errorf("save balance %s/%s: %w", user, asset, err)
	}
	return nil
}

// LoadAll reads every persisted row, keyed user -> asset -> balance.
func (s *Store) LoadAll() (map[string]map[string]Balance, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("balance iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[string]map[string]Balance)
	for iter.First(); iter.Valid(); iter.Next() {
		rest := strings.TrimPrefix(string(iter.Key()), prefixBalance)
		user, asset, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		var b Balance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue // skip invalid entries
		}
		if out[user] == nil {
			out[user] = make(map[string]Balance)
		}
		out[user][asset] = b
	}
	return out, nil
}

// Close drains the flusher queue and closes the database. It returns the
// first write fault the flusher hit, if any. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	err := s.flushErr
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
