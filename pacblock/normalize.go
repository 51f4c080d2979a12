package pacblock

import (
	"sort"

	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// Normalize splits every block that acquired more than one EntryPoint
// during edge resolution into a fallthrough chain of single-entry blocks.
// Post-condition: every block has exactly one EntryPoint.
func Normalize(g *Graph) {
	starts := append([]int(nil), g.StartOffsets...)
	for _, start := range starts {
		blockID, ok := g.blockByStart[start]
		if !ok {
			continue // already the head of a chain split out from a later iteration
		}
		block := g.Blocks[blockID]
		if len(block.EntryPoints) <= 1 {
			continue
		}
		splitBlock(g, block)
	}
	g.resortStarts()
	g.sortIncomingEdges()
}

// splitBlock peels off one successor block per extra entry point, from the
// highest offset down to (but excluding) the block's own start, mirroring
// normalize_entrypoints's suffix-peeling loop.
func splitBlock(g *Graph, block *Block) {
	offsets := make([]int, 0, len(block.EntryPoints))
	for off := range block.EntryPoints {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	for i := len(offsets) - 1; i >= 1; i-- {
		offset := offsets[i]
		idx, exact := block.instrIndexAtOrAfter(offset)
		if !exact {
			continue
		}
		// The first peel (highest offset) carves off the chain's tail: it
		// inherits the block's real outgoing edges, not a synthetic
		// fallthrough, so it is not itself a split node.
		isTail := i == len(offsets)-1
		peelSuffix(g, block, idx, offset, isTail)
	}
	block.IsSplit = true
	if entry := block.SingleEntry(); entry != nil && len(entry.WhereFrom) == 0 {
		block.IsSource = true
	}
}

// peelSuffix moves block.Instructions[idx:] into a new successor block
// starting at offset, migrates the exit point's outgoing edges to it, links
// the shrunk prefix to it with a synthetic fallthrough edge, and re-points
// any edges that targeted the mid-block entry point.
func peelSuffix(g *Graph, block *Block, idx, offset int, isTail bool) {
	successor := &Block{
		Start:        offset,
		Instructions: cloneInstrs(block.Instructions[idx:]),
		offsets:      cloneOffsets(block.offsets[idx:]),
		EntryPoints:  make(map[int]*EntryPoint),
	}
	successor.Size = block.End() - offset
	last := successor.Instructions[len(successor.Instructions)-1]
	successor.Exit = &ExitPoint{Position: last.Offset}

	g.registerBlock(successor)
	successor.Exit.BlockID = successor.ID

	// Migrate the original block's outgoing edges to the new tail block.
	for _, edgeID := range block.Exit.WhereTo {
		e := g.Edges[edgeID]
		e.ExitBlockID = successor.ID
		successor.Exit.WhereTo = append(successor.Exit.WhereTo, edgeID)
	}
	block.Exit.WhereTo = nil

	// Shrink the prefix block.
	block.Instructions = block.Instructions[:idx]
	block.offsets = block.offsets[:idx]
	block.Size = offset - block.Start
	if len(block.Instructions) > 0 {
		prevLast := block.Instructions[len(block.Instructions)-1]
		block.Exit.Position = prevLast.Offset
	}

	// Synthetic fallthrough edge linking prefix -> successor.
	oldEntry := block.EntryPoints[offset]
	successorEntry := &EntryPoint{Position: offset, BlockID: successor.ID}
	synthetic := g.newEdge(block.ID, successor.ID, offset, Transition{Fallthrough: true})
	block.Exit.WhereTo = []int{synthetic.ID}
	successorEntry.WhereFrom = []int{synthetic.ID}

	// Re-point edges that targeted the mid-block entry point.
	if oldEntry != nil {
		for _, edgeID := range oldEntry.WhereFrom {
			g.Edges[edgeID].EntryBlockID = successor.ID
			successorEntry.WhereFrom = append(successorEntry.WhereFrom, edgeID)
		}
	}
	successor.EntryPoints[offset] = successorEntry
	delete(block.EntryPoints, offset)

	successor.IsSource = false
	// Only interior successors continue the fallthrough chain; the tail
	// carries the block's migrated real exits and is not a split node.
	successor.IsSplit = !isTail
}

func cloneInstrs(src []*pacinstr.Instruction) []*pacinstr.Instruction {
	out := make([]*pacinstr.Instruction, len(src))
	copy(out, src)
	return out
}

func cloneOffsets(src []int) []int {
	out := make([]int, len(src))
	copy(out, src)
	return out
}

// sortIncomingEdges orders each entry point's WhereFrom list by the source
// exit's position.
func (g *Graph) sortIncomingEdges() {
	for _, b := range g.Blocks {
		entry := b.SingleEntry()
		if entry == nil || len(entry.WhereFrom) < 2 {
			continue
		}
		sort.Slice(entry.WhereFrom, func(i, j int) bool {
			ei, ej := g.Edges[entry.WhereFrom[i]], g.Edges[entry.WhereFrom[j]]
			exitI := g.Blocks[ei.ExitBlockID].Exit.Position
			exitJ := g.Blocks[ej.ExitBlockID].Exit.Position
			return exitI < exitJ
		})
	}
}
