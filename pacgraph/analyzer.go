// Package pacgraph implements the CFG Analyzer: read-only
// traversal, topological sort, Kosaraju SCC detection, source/sink/root
// classification, and cyclomatic-number computation over a normalized
// pacblock.Graph.
package pacgraph

import "github.com/Nemoumbra/pacdisasm/pacblock"

// Options configures the edge-filtering policy shared by every analysis
// pass.
type Options struct {
	IgnoreCallbacks bool
	IgnoreSpecial   bool
}

// Analyzer runs read-only graph algorithms over a normalized pacblock.Graph.
// Vertices are indexed 0..n-1 in ascending block-start order, stable for
// the lifetime of the Analyzer.
type Analyzer struct {
	g    *pacblock.Graph
	opts Options

	order   []int // vertex index -> block ID
	indexOf map[int]int

	color []int // 0 = unvisited; DFS passes assign meaning per call
	tin   []int
	tout  []int
	timer int

	topo  []int // vertex indices in finish order
	isDAG bool

	sources, sinks, isolated []int
	nonTrivial               map[int][]int // color -> vertex indices, size > 1 only
	belongsToCycle           []bool
	condensed                *Condensation

	rootOrder  []int
	edgesCount int
}

// Condensation is the SCC-condensation graph: vertices are the original
// graph's vertex indices, but edges are populated only at each SCC's
// representative ("root") vertex.
type Condensation struct {
	Graph  [][]int // adjacency list, indexed like the original graph
	ToRoot []int   // vertex index -> its SCC's representative vertex
	Roots  []int   // one representative vertex per SCC, in discovery order
	Size   int
}

// New builds an Analyzer over g's current (normalized) block set.
func New(g *pacblock.Graph, opts Options) *Analyzer {
	order := append([]int(nil), g.StartOffsets...)
	indexOf := make(map[int]int, len(order))
	blockIDOrder := make([]int, len(order))
	for i, start := range order {
		bid, _ := g.BlockAtStart(start)
		blockIDOrder[i] = bid.ID
		indexOf[bid.ID] = i
	}
	n := len(blockIDOrder)
	return &Analyzer{
		g:       g,
		opts:    opts,
		order:   blockIDOrder,
		indexOf: indexOf,
		color:   make([]int, n),
		tin:     make([]int, n),
		tout:    make([]int, n),
	}
}

// Size returns the vertex count (number of normalized blocks).
func (a *Analyzer) Size() int { return len(a.order) }

// BlockIDAt returns the block ID for vertex v.
func (a *Analyzer) BlockIDAt(v int) int { return a.order[v] }

// IsDAG reports the result of the most recent ComputeTopsort call.
func (a *Analyzer) IsDAG() bool { return a.isDAG }

// Roots returns the flow-root vertex set computed by FindRoots.
func (a *Analyzer) Roots() []int { return a.rootOrder }

// NonTrivialComponents returns color -> member-vertex-list for every SCC of
// size > 1, as computed by the most recent KosarajuSCC/FindComponents call.
func (a *Analyzer) NonTrivialComponents() map[int][]int { return a.nonTrivial }

// BelongsToCycle reports whether vertex v is a member of a non-trivial SCC.
func (a *Analyzer) BelongsToCycle(v int) bool {
	if a.belongsToCycle == nil {
		return false
	}
	return a.belongsToCycle[v]
}

func (a *Analyzer) resetColor() {
	for i := range a.color {
		a.color[i] = 0
	}
}

func (a *Analyzer) block(v int) *pacblock.Block { return a.g.Blocks[a.order[v]] }

// outgoingVertices returns the destination vertices of v's outgoing edges,
// filtered by the analyzer's ignore policy.
func (a *Analyzer) outgoingVertices(v int) []int {
	block := a.block(v)
	var out []int
	for _, edgeID := range block.Exit.WhereTo {
		e := a.g.Edges[edgeID]
		if a.opts.IgnoreCallbacks && e.Transition.Callback {
			continue
		}
		if a.opts.IgnoreSpecial && e.Transition.Special {
			continue
		}
		out = append(out, a.indexOf[e.EntryBlockID])
	}
	return out
}

// incomingVertices returns the source vertices of v's incoming edges,
// filtered by the analyzer's ignore policy.
func (a *Analyzer) incomingVertices(v int) []int {
	block := a.block(v)
	entry := block.SingleEntry()
	if entry == nil {
		return nil
	}
	var in []int
	for _, edgeID := range entry.WhereFrom {
		e := a.g.Edges[edgeID]
		if a.opts.IgnoreCallbacks && e.Transition.Callback {
			continue
		}
		if a.opts.IgnoreSpecial && e.Transition.Special {
			continue
		}
		in = append(in, a.indexOf[e.ExitBlockID])
	}
	return in
}
