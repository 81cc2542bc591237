// Package graph is the mint adjacency over registered edges.
package graph

import (
	"iter"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
)

// Graph maps each mint to its outgoing edges. It is immutable once built and
// holds no pricing state; liveness is decided per search.
type Graph struct {
	out   map[solana.PublicKey][]*registry.Edge
	index map[solana.PublicKey]int
	mints []solana.PublicKey
	all   []*registry.Edge
}

// Build indexes edges by input mint, preserving their order.
func Build(edges iter.Seq[*registry.Edge]) *Graph {
	g := &Graph{
		out:   make(map[solana.PublicKey][]*registry.Edge),
		index: make(map[solana.PublicKey]int),
	}
	note := func(m solana.PublicKey) {
		if _, ok := g.index[m]; !ok {
			g.index[m] = len(g.mints)
			g.mints = append(g.mints, m)
		}
	}
	for e := range edges {
		in := e.InputMint()
		g.out[in] = append(g.out[in], e)
		g.all = append(g.all, e)
		note(in)
		note(e.OutputMint())
	}
	return g
}

// Outgoing returns the edges that consume mint. The slice must not be
// modified.
func (g *Graph) Outgoing(mint solana.PublicKey) []*registry.Edge {
	return g.out[mint]
}

// Direct returns the edges from in straight to out.
func (g *Graph) Direct(in, out solana.PublicKey) []*registry.Edge {
	var direct []*registry.Edge
	for _, e := range g.out[in] {
		if e.OutputMint() == out {
			direct = append(direct, e)
		}
	}
	return direct
}

// HasMint reports whether any edge touches mint.
func (g *Graph) HasMint(mint solana.PublicKey) bool {
	_, ok := g.index[mint]
	return ok
}

// Mints returns every mint in first-seen order.
func (g *Graph) Mints() []solana.PublicKey {
	return slices.Clone(g.mints)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.all)
}

// View is a flat, index-based snapshot of the graph suited for export and
// for consumers that run their own traversal.
type View struct {
	Mints []solana.PublicKey `json:"mints"`
	Edges []dex.EdgeID       `json:"edges"`
	// Adjacency[i] lists the indices into Edges leaving Mints[i].
	Adjacency [][]int `json:"adjacency"`
	// EdgeTargets[j] is the index into Mints that Edges[j] leads to.
	EdgeTargets []int `json:"edgeTargets"`
}

// View builds the index-based snapshot.
func (g *Graph) View() *View {
	v := &View{
		Mints:       slices.Clone(g.mints),
		Edges:       make([]dex.EdgeID, len(g.all)),
		Adjacency:   make([][]int, len(g.mints)),
		EdgeTargets: make([]int, len(g.all)),
	}
	for j, e := range g.all {
		v.Edges[j] = e.ID
		v.EdgeTargets[j] = g.index[e.OutputMint()]
		from := g.index[e.InputMint()]
		v.Adjacency[from] = append(v.Adjacency[from], j)
	}
	return v
}

// Degree returns the number of edges leaving mint in the view.
func (v *View) Degree(mint solana.PublicKey) int {
	i := slices.Index(v.Mints, mint)
	if i < 0 {
		return 0
	}
	return len(v.Adjacency[i])
}
