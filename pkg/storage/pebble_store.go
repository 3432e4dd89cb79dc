package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Store is the node's single Pebble database. Components own disjoint key
// ranges (see keys.go) and share one Store so that a settlement can commit
// orders, balances, the treasury and the event log in one batch.
type Store struct {
	db *pebble.DB
}

// Open opens a Pebble database at the given path
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a Pebble database backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns a copy of the raw value stored under key.
// ok is false when the key does not exist.
func (s *Store) Get(key []byte) (val []byte, ok bool, err error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// GetJSON decodes the JSON value under key into v.
func (s *Store) GetJSON(key []byte, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	return true, DecodeJSON(data, v)
}

// Scan calls fn for every key with the given prefix in ascending order.
// Keys and values are only valid for the duration of the call.
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ScanReverse is Scan in descending key order. It stops after limit entries
// when limit > 0.
func (s *Store) ScanReverse(prefix []byte, limit int, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.Last(); iter.Valid() && (limit <= 0 || n < limit); iter.Prev() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
		n++
	}
	return iter.Error()
}

// Batch collects writes that are applied atomically on Commit
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) Put(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

// PutJSON adds a JSON-encoded value to the batch
func (b *Batch) PutJSON(key []byte, v any) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return b.batch.Set(key, data, nil)
}

func (b *Batch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

// Commit writes the batch to Pebble atomically
func (b *Batch) Commit() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close releases the batch. Closing after Commit is allowed and required.
func (b *Batch) Close() error {
	return b.batch.Close()
}
