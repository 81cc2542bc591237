// Package state stores the current pricing state of every edge.
//
// Each edge owns an atomic pointer to an immutable Entry. The single writer
// replaces the pointer; readers load it. Neither side ever blocks the other.
package state

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

var (
	ErrUnknownEdge = errors.New("state: unknown edge")
	ErrTracking    = errors.New("state: edges can only be tracked before sealing")
)

// Entry is one immutable version of an edge's state. An entry whose State
// is nil records that the edge was invalid as of Slot.
type Entry struct {
	State     dex.EdgeState
	Slot      uint64
	UpdatedAt time.Time
	// CooldownUntil hides a live entry from Get until the given time.
	CooldownUntil time.Time
}

// Live reports whether the entry can be used for quoting at now.
func (e *Entry) Live(now time.Time) bool {
	return e != nil && e.State != nil && !now.Before(e.CooldownUntil)
}

type cell struct {
	p atomic.Pointer[Entry]
}

// Store is safe for one writer and any number of concurrent readers once
// sealed. Track must be called for every edge before Seal.
type Store struct {
	cells  map[dex.EdgeID]*cell
	sealed atomic.Bool
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		cells: make(map[dex.EdgeID]*cell),
		now:   time.Now,
	}
}

// Track adds a slot for id. It is a no-op for ids already tracked.
func (s *Store) Track(id dex.EdgeID) error {
	if s.sealed.Load() {
		return ErrTracking
	}
	if _, ok := s.cells[id]; !ok {
		s.cells[id] = &cell{}
	}
	return nil
}

// Seal fixes the edge set. From here on the cell map is only read.
func (s *Store) Seal() {
	s.sealed.Store(true)
}

// Len returns the number of tracked edges.
func (s *Store) Len() int {
	return len(s.cells)
}

// Get returns the live entry of id. It returns false when the edge has never
// been loaded, was invalidated, or is cooling down.
func (s *Store) Get(id dex.EdgeID) (*Entry, bool) {
	c, ok := s.cells[id]
	if !ok {
		return nil, false
	}
	e := c.p.Load()
	if !e.Live(s.now()) {
		return nil, false
	}
	return e, true
}

// Load returns the raw entry of id, live or not.
func (s *Store) Load(id dex.EdgeID) (*Entry, bool) {
	c, ok := s.cells[id]
	if !ok {
		return nil, false
	}
	e := c.p.Load()
	return e, e != nil
}

// Replace installs state for id as of slot. An update older than the slot
// already stored is dropped and Replace returns false. Equal slots replace,
// so a re-decode at the same slot wins.
func (s *Store) Replace(id dex.EdgeID, state dex.EdgeState, slot uint64) (bool, error) {
	return s.swap(id, &Entry{State: state, Slot: slot, UpdatedAt: s.now()})
}

// Invalidate marks id as absent as of slot, under the same ordering rule as
// Replace.
func (s *Store) Invalidate(id dex.EdgeID, slot uint64) (bool, error) {
	return s.swap(id, &Entry{Slot: slot, UpdatedAt: s.now()})
}

// Cooldown hides id's current entry until until. The next Replace clears it.
func (s *Store) Cooldown(id dex.EdgeID, until time.Time) error {
	c, ok := s.cells[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEdge, id)
	}
	for {
		cur := c.p.Load()
		if cur == nil || cur.State == nil {
			return nil
		}
		next := *cur
		next.CooldownUntil = until
		if c.p.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

func (s *Store) swap(id dex.EdgeID, next *Entry) (bool, error) {
	c, ok := s.cells[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEdge, id)
	}
	for {
		cur := c.p.Load()
		if cur != nil && next.Slot < cur.Slot {
			return false, nil
		}
		if c.p.CompareAndSwap(cur, next) {
			return true, nil
		}
	}
}

// Stats counts tracked edges by condition.
type Stats struct {
	Tracked     int
	Live        int
	Invalid     int
	NeverLoaded int
	CoolingDown int
}

// Stats scans every cell. It is meant for status output, not hot paths.
func (s *Store) Stats() Stats {
	now := s.now()
	st := Stats{Tracked: len(s.cells)}
	for _, c := range s.cells {
		e := c.p.Load()
		switch {
		case e == nil:
			st.NeverLoaded++
		case e.State == nil:
			st.Invalid++
		case now.Before(e.CooldownUntil):
			st.CoolingDown++
		default:
			st.Live++
		}
	}
	return st
}
