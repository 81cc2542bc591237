package routing

import (
	"container/heap"
	"context"
	"errors"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
	"github.com/Iwinswap/iwinswap-swap-router-go/state"
)

const ctxCheckInterval = 64

// node is a partial route ending at mint. Nodes form a tree through parent.
type node struct {
	parent   *node
	edge     *registry.Edge
	entry    *state.Entry
	quote    dex.Quote
	mint     solana.PublicKey
	amount   uint64
	hops     int
	accounts int
}

func (n *node) path() []*node {
	path := make([]*node, n.hops)
	for cur := n; cur.parent != nil; cur = cur.parent {
		path[cur.hops-1] = cur
	}
	return path
}

func (n *node) usesPool(key solana.PublicKey) bool {
	for cur := n; cur.parent != nil; cur = cur.parent {
		if cur.edge.ID.Key == key {
			return true
		}
	}
	return false
}

// better orders two nodes at the same mint: more output, then fewer hops,
// then fewer accounts, then lexically smaller edge ids.
func better(a, b *node) bool {
	if a.amount != b.amount {
		return a.amount > b.amount
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	if a.accounts != b.accounts {
		return a.accounts < b.accounts
	}
	pa, pb := a.path(), b.path()
	for i := range min(len(pa), len(pb)) {
		if c := pa[i].edge.ID.Compare(pb[i].edge.ID); c != 0 {
			return c < 0
		}
	}
	return false
}

type frontier []*node

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return better(f[i], f[j]) }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)        { *f = append(*f, x.(*node)) }
func (f *frontier) Pop() any {
	old := *f
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*f = old[:len(old)-1]
	return n
}

// label is a non-dominated (hops, amount, accounts) triple reached at a mint.
type label struct {
	hops     int
	amount   uint64
	accounts int
}

type search struct {
	e      *Engine
	ctx    context.Context
	source solana.PublicKey
	dest   solana.PublicKey
	amount uint64
	budget int
	hops   int
	newest uint64

	// states memoizes one read per edge so a search sees a single version of
	// each edge. A nil value marks an excluded edge.
	states map[dex.EdgeID]*state.Entry
	labels map[solana.PublicKey][]label

	expanded           int
	overBudget         bool
	firstHopQuoted     int
	firstHopOutOfRange int
}

func (e *Engine) newSearch(ctx context.Context, in, out solana.PublicKey, amount uint64, budget, maxHops int) *search {
	return &search{
		e:      e,
		ctx:    ctx,
		source: in,
		dest:   out,
		amount: amount,
		budget: budget,
		hops:   maxHops,
		newest: e.slots.NewestSlot(),
		states: make(map[dex.EdgeID]*state.Entry),
		labels: make(map[solana.PublicKey][]label),
	}
}

// entry returns the state a search may quote edge with, or false if the edge
// is absent or too old.
func (s *search) entry(edge *registry.Edge) (*state.Entry, bool) {
	if st, ok := s.states[edge.ID]; ok {
		return st, st != nil
	}
	st, ok := s.e.store.Get(edge.ID)
	if ok && s.e.freshnessSlots > 0 && s.newest > st.Slot && s.newest-st.Slot > s.e.freshnessSlots {
		ok = false
	}
	if !ok {
		st = nil
	}
	s.states[edge.ID] = st
	return st, ok
}

// dominated reports whether a previous node reached n's mint no later, with
// no less output and no more accounts. Otherwise n's label is recorded.
func (s *search) dominated(n *node) bool {
	for _, l := range s.labels[n.mint] {
		if l.hops <= n.hops && l.amount >= n.amount && l.accounts <= n.accounts {
			return true
		}
	}
	s.labels[n.mint] = append(s.labels[n.mint], label{hops: n.hops, amount: n.amount, accounts: n.accounts})
	return false
}

// run explores partial routes best-first and returns every complete route,
// best first.
func (s *search) run() ([]*node, error) {
	root := &node{mint: s.source, amount: s.amount}
	f := &frontier{root}
	var found []*node

	for f.Len() > 0 {
		if s.expanded%ctxCheckInterval == 0 {
			if err := s.ctx.Err(); err != nil {
				return nil, err
			}
		}
		if s.expanded >= s.e.maxExpansions {
			s.e.logger.Debug("Route search hit the expansion cap", "cap", s.e.maxExpansions, "found", len(found))
			break
		}
		cur := heap.Pop(f).(*node)
		s.expanded++

		edges := s.e.graph.Outgoing(cur.mint)
		if cur.hops+1 == s.hops {
			// Only the destination can be reached on the last hop.
			edges = s.e.graph.Direct(cur.mint, s.dest)
		}
		for _, edge := range edges {
			child, ok := s.step(cur, edge)
			if !ok {
				continue
			}
			if child.mint == s.dest {
				found = append(found, child)
				continue
			}
			if child.hops < s.hops && !s.dominated(child) {
				heap.Push(f, child)
			}
		}
	}

	slices.SortStableFunc(found, func(a, b *node) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		default:
			return 0
		}
	})
	return found, nil
}

func (s *search) step(cur *node, edge *registry.Edge) (*node, bool) {
	out := edge.OutputMint()
	if out == s.source || cur.usesPool(edge.ID.Key) {
		return nil, false
	}
	accounts := cur.accounts + edge.AccountsNeeded()
	if accounts > s.budget {
		s.overBudget = true
		return nil, false
	}
	st, ok := s.entry(edge)
	if !ok {
		return nil, false
	}
	q, err := edge.Quote(st.State, cur.amount)
	if cur.hops == 0 {
		switch {
		case err == nil:
			s.firstHopQuoted++
		case errors.Is(err, dex.ErrAmountOutOfRange):
			s.firstHopOutOfRange++
		}
	}
	if err != nil || q.OutAmount == 0 {
		return nil, false
	}
	return &node{
		parent:   cur,
		edge:     edge,
		entry:    st,
		quote:    q,
		mint:     out,
		amount:   q.OutAmount,
		hops:     cur.hops + 1,
		accounts: accounts,
	}, true
}
