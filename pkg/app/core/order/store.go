package order

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

// Store owns the order table. Reads come from memory; writes are staged into
// a caller's batch and applied to memory after that batch commits.
// Callers serialize writers.
type Store struct {
	db  *storage.Store
	log *zap.SugaredLogger

	mu     sync.RWMutex
	orders map[uint64]Order
	lastID uint64
}

// Open loads the order table and the id counter
func Open(db *storage.Store, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		db:     db,
		log:    log,
		orders: make(map[uint64]Order),
	}

	raw, ok, err := db.Get(storage.OrderSeqKey())
	if err != nil {
		return nil, fmt.Errorf("failed to load order counter: %w", err)
	}
	if ok {
		s.lastID, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse order counter %q: %w", raw, err)
		}
	}

	err = db.Scan(storage.OrderPrefix(), func(key, value []byte) error {
		var o Order
		if err := storage.DecodeJSON(value, &o); err != nil {
			return fmt.Errorf("failed to decode order %s: %w", key, err)
		}
		s.orders[o.EID] = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infow("orders_loaded", "count", len(s.orders), "last_eid", s.lastID)
	return s, nil
}

// Get returns a copy of the slot, the zero Order when empty
func (s *Store) Get(eid uint64) Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[eid].Clone()
}

// LastID is the highest id ever assigned
func (s *Store) LastID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID
}

// NextID is the id the next created order will get
func (s *Store) NextID() uint64 { return s.LastID() + 1 }

// Page returns exactly size raw slots for ids 1+size*(page-1) … size*page.
// Empty slots are zero Orders.
func (s *Store) Page(page, size int) ([]Order, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("%w: page %d", core.ErrInvalidPage, page)
	}
	if uint64(page-1) > (math.MaxUint64-1)/uint64(size) {
		return nil, fmt.Errorf("%w: page %d out of range", core.ErrInvalidPage, page)
	}

	start := 1 + uint64(size)*uint64(page-1)
	out := make([]Order, size)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range out {
		out[i] = s.orders[start+uint64(i)].Clone()
	}
	return out, nil
}

// Active returns every non-fulfilled, non-cancelled order, ascending by id.
// Expired orders are included; filter with Order.Expired.
func (s *Store) Active() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for eid := uint64(1); eid <= s.lastID; eid++ {
		o, ok := s.orders[eid]
		if ok && !o.Fulfilled {
			out = append(out, o.Clone())
		}
	}
	return out
}

// StagePut writes o into b. A new id also advances the counter.
func (s *Store) StagePut(b *storage.Batch, o Order) error {
	if o.IsZero() {
		return fmt.Errorf("cannot store order without id")
	}
	if err := b.PutJSON(storage.OrderKey(o.EID), o); err != nil {
		return fmt.Errorf("failed to stage order %d: %w", o.EID, err)
	}
	if o.EID > s.LastID() {
		if err := b.Put(storage.OrderSeqKey(), []byte(strconv.FormatUint(o.EID, 10))); err != nil {
			return fmt.Errorf("failed to stage order counter: %w", err)
		}
	}
	return nil
}

// StageDelete zeroes the slot in b
func (s *Store) StageDelete(b *storage.Batch, eid uint64) error {
	if err := b.Delete(storage.OrderKey(eid)); err != nil {
		return fmt.Errorf("failed to stage order %d delete: %w", eid, err)
	}
	return nil
}

// ApplyPut mirrors a committed StagePut
func (s *Store) ApplyPut(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.EID] = o.Clone()
	if o.EID > s.lastID {
		s.lastID = o.EID
	}
}

// ApplyDelete mirrors a committed StageDelete
func (s *Store) ApplyDelete(eid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, eid)
}
