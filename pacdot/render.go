// Package pacdot renders a CFG Analyzer's read-only view as a Graphviz DOT
// document: nodes colored by source/sink/cycle classification, clusters per
// non-trivial SCC and per fallthrough chain. It never mutates the graph it
// renders.
package pacdot

import (
	"fmt"
	"sort"

	"github.com/emicklei/dot"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacgraph"
)

const (
	colorSource   = "lightblue"
	colorSink     = "salmon"
	colorIsolated = "gray"
	colorCycle    = "gold"
	colorOrdinary = "white"

	edgeColorTaken     = "black"
	edgeColorFall      = "blue"
	edgeColorPotential = "orange"
	edgeColorSpecial   = "purple"
	edgeColorCallback  = "green"
)

// Render builds a DOT graph from a's classification over g, labeling nodes
// with their block's start offset and instruction count. A node belongs to
// at most one cluster; SCC membership wins over fallthrough-chain membership
// since Graphviz clusters cannot overlap.
func Render(file *pacentity.File, g *pacblock.Graph, a *pacgraph.Analyzer) *dot.Graph {
	gr := dot.NewGraph(dot.Directed)
	gr.Attr("rankdir", "TB")

	owner := make(map[int]*dot.Graph, a.Size())
	declareSCCSubgraphs(gr, a, owner)
	declareFallthroughSubgraphs(gr, g, a, owner)

	nodes := make(map[int]dot.Node, a.Size())
	for v := 0; v < a.Size(); v++ {
		blockID := a.BlockIDAt(v)
		block := g.Blocks[blockID]
		parent := gr
		if sub, ok := owner[blockID]; ok {
			parent = sub
		}
		n := parent.Node(fmt.Sprintf("b%d", blockID))
		n.Label(blockLabel(block))
		n.Attr("style", "filled")
		n.Attr("fillcolor", blockColor(a, v, block))
		n.Attr("shape", "box")
		nodes[blockID] = n
	}

	for _, e := range g.Edges {
		from, okF := nodes[e.ExitBlockID]
		to, okT := nodes[e.EntryBlockID]
		if !okF || !okT {
			continue
		}
		color, style := edgeColorStyle(e.Transition)
		edge := gr.Edge(from, to)
		edge.Attr("color", color)
		edge.Attr("style", style)
	}

	return gr
}

func blockLabel(block *pacblock.Block) string {
	return fmt.Sprintf("0x%06X (%d instrs)", block.Start, len(block.Instructions))
}

func blockColor(a *pacgraph.Analyzer, v int, block *pacblock.Block) string {
	switch {
	case containsVertex(a.Isolated(), v):
		return colorIsolated
	case containsVertex(a.Sources(), v):
		return colorSource
	case containsVertex(a.Sinks(), v):
		return colorSink
	case a.BelongsToCycle(v):
		return colorCycle
	default:
		return colorOrdinary
	}
}

func containsVertex(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// edgeColorStyle maps a transition descriptor to a DOT color/style pair.
func edgeColorStyle(t pacblock.Transition) (color, style string) {
	switch {
	case t.Callback:
		return edgeColorCallback, "dashed"
	case t.Special:
		return edgeColorSpecial, "dotted"
	case t.Potential:
		return edgeColorPotential, "dashed"
	case t.Fallthrough:
		return edgeColorFall, "solid"
	default:
		return edgeColorTaken, "solid"
	}
}

// declareSCCSubgraphs creates one DOT cluster per non-trivial SCC and
// records each member block's owning subgraph. Components are walked in
// color order so the cluster numbering is deterministic.
func declareSCCSubgraphs(gr *dot.Graph, a *pacgraph.Analyzer, owner map[int]*dot.Graph) {
	components := a.NonTrivialComponents()
	colors := make([]int, 0, len(components))
	for c := range components {
		colors = append(colors, c)
	}
	sort.Ints(colors)

	for i, c := range colors {
		sub := gr.Subgraph(fmt.Sprintf("scc_%d", i), dot.ClusterOption{})
		sub.Attr("label", fmt.Sprintf("SCC %d", i))
		sub.Attr("style", "dashed")
		for _, v := range components[c] {
			owner[a.BlockIDAt(v)] = sub
		}
	}
}

// declareFallthroughSubgraphs creates one DOT cluster per split (normalized)
// fallthrough chain. Blocks already claimed by an SCC cluster keep that
// assignment.
func declareFallthroughSubgraphs(gr *dot.Graph, g *pacblock.Graph, a *pacgraph.Analyzer, owner map[int]*dot.Graph) {
	visited := make(map[int]bool)
	chainID := 0
	for v := 0; v < a.Size(); v++ {
		blockID := a.BlockIDAt(v)
		block := g.Blocks[blockID]
		if !block.IsSplit || visited[blockID] {
			continue
		}
		chain := []int{blockID}
		visited[blockID] = true
		cur := block
		for cur.IsSplit && len(cur.Exit.WhereTo) == 1 {
			e := g.Edges[cur.Exit.WhereTo[0]]
			if !e.Transition.Fallthrough {
				break
			}
			next, ok := g.Blocks[e.EntryBlockID]
			if !ok || visited[next.ID] {
				break
			}
			chain = append(chain, next.ID)
			visited[next.ID] = true
			cur = next
		}
		if len(chain) < 2 {
			continue
		}
		sub := gr.Subgraph(fmt.Sprintf("chain_%d", chainID), dot.ClusterOption{})
		sub.Attr("label", fmt.Sprintf("chain %d", chainID))
		sub.Attr("style", "dotted")
		for _, id := range chain {
			if _, claimed := owner[id]; !claimed {
				owner[id] = sub
			}
		}
		chainID++
	}
}
