// Package registry holds every directed edge the router knows about, keyed
// by (pool key, input mint), together with the adapter that serves it.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

var (
	ErrDuplicateEdge  = errors.New("registry: duplicate edge")
	ErrRegistryFrozen = errors.New("registry: frozen")
	ErrNilAdapter     = errors.New("registry: adapter is required")
)

// Edge is a registered directed edge. It is immutable.
type Edge struct {
	ID      dex.EdgeID
	Ident   dex.EdgeIdentifier
	Adapter dex.Adapter
	// Seq is the registration order, used for stable iteration.
	Seq int
}

func (e *Edge) InputMint() solana.PublicKey  { return e.Ident.InputMint() }
func (e *Edge) OutputMint() solana.PublicKey { return e.Ident.OutputMint() }
func (e *Edge) AccountsNeeded() int          { return e.Ident.AccountsNeeded() }
func (e *Edge) Protocol() string             { return e.Adapter.Name() }

func (e *Edge) String() string {
	return fmt.Sprintf("%s[%s %s->%s]", e.Adapter.Name(), e.Ident.Desc(), e.InputMint(), e.OutputMint())
}

// Decode builds the edge's state from the current account set.
func (e *Edge) Decode(accounts dex.AccountProvider) (dex.EdgeState, error) {
	return e.Adapter.DecodeState(e.Ident, accounts)
}

// Quote dispatches to the edge's adapter. A nil state is never forwarded.
func (e *Edge) Quote(state dex.EdgeState, inAmount uint64) (dex.Quote, error) {
	if state == nil {
		return dex.Quote{}, dex.ErrStateUnavailable
	}
	return e.Adapter.Quote(e.Ident, state, inAmount)
}

// BuildInstruction dispatches to the edge's adapter.
func (e *Edge) BuildInstruction(state dex.EdgeState, params dex.SwapParams) (dex.SwapInstruction, error) {
	if state == nil {
		return dex.SwapInstruction{}, dex.ErrStateUnavailable
	}
	return e.Adapter.BuildInstruction(e.Ident, state, params)
}

// Registry is written during initialization and read-only after Freeze.
// Reads take no lock once the registry is frozen.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool

	byID  map[dex.EdgeID]*Edge
	byKey map[solana.PublicKey][]*Edge
	all   []*Edge
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:  make(map[dex.EdgeID]*Edge),
		byKey: make(map[solana.PublicKey][]*Edge),
	}
}

// Register adds an edge. The (key, input mint) pair must be unique.
func (r *Registry) Register(ident dex.EdgeIdentifier, adapter dex.Adapter) (*Edge, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	id := dex.ID(ident)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return nil, ErrRegistryFrozen
	}
	if prev, ok := r.byID[id]; ok {
		return nil, fmt.Errorf("%w: %s already registered by %s", ErrDuplicateEdge, id, prev.Adapter.Name())
	}

	edge := &Edge{ID: id, Ident: ident, Adapter: adapter, Seq: len(r.all)}
	r.byID[id] = edge
	r.byKey[id.Key] = append(r.byKey[id.Key], edge)
	r.all = append(r.all, edge)
	return edge, nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// rlock read-locks a registry that may still be written and returns the
// matching unlock.
func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Get retrieves an edge by id.
func (r *Registry) Get(id dex.EdgeID) (*Edge, bool) {
	defer r.rlock()()
	e, ok := r.byID[id]
	return e, ok
}

// ByKey returns the edges backed by a pool key, one per direction.
func (r *Registry) ByKey(key solana.PublicKey) []*Edge {
	defer r.rlock()()
	edges := r.byKey[key]
	out := make([]*Edge, len(edges))
	copy(out, edges)
	return out
}

// Len returns the number of registered edges.
func (r *Registry) Len() int {
	defer r.rlock()()
	return len(r.all)
}

// All yields every edge in registration order. The sequence is lazy and can
// be ranged over any number of times.
func (r *Registry) All() iter.Seq[*Edge] {
	return func(yield func(*Edge) bool) {
		unlock := r.rlock()
		edges := r.all[:len(r.all):len(r.all)]
		unlock()

		for _, e := range edges {
			if !yield(e) {
				return
			}
		}
	}
}

// Protocols returns the number of edges per adapter name.
func (r *Registry) Protocols() map[string]int {
	counts := make(map[string]int)
	for e := range r.All() {
		counts[e.Protocol()]++
	}
	return counts
}
