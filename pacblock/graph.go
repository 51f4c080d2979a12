// Package pacblock implements the Block Partitioner, Edge Resolver, and
// Block Normalizer: cutting a decoded instruction
// stream into basic blocks, resolving control-transfer edges between them,
// and splitting any block that acquired more than one entry point.
package pacblock

import (
	"sort"

	"github.com/Nemoumbra/pacdisasm/pacbytes"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// Transition is the 5-boolean descriptor carried by every edge.
type Transition struct {
	SaveAddress bool
	Fallthrough bool
	Potential   bool
	Special     bool
	Callback    bool
}

// EntryPoint owns a block's entry position and the edges arriving there.
type EntryPoint struct {
	Position  int
	BlockID   int
	WhereFrom []int // edge IDs
}

// ExitPoint owns a block's exit position and the edges leaving it.
type ExitPoint struct {
	Position int
	BlockID  int
	WhereTo  []int // edge IDs
}

// Edge connects an ExitPoint to an EntryPoint, carrying the transition
// descriptor. Endpoints are stored as block IDs into the Graph arena rather
// than pointers.
type Edge struct {
	ID           int
	ExitBlockID  int
	EntryBlockID int
	EntryOffset  int
	Transition   Transition
}

// Block is a basic block: a contiguous run of instructions bounded by one
// or more entry points and a single exit point.
type Block struct {
	ID           int
	Start        int
	Size         int
	Instructions []*pacinstr.Instruction
	offsets      []int // parallel to Instructions, kept sorted

	EntryPoints map[int]*EntryPoint // keyed by offset
	Exit        *ExitPoint

	IsDummy  bool
	IsSplit  bool
	IsSource bool
}

// End returns the offset one past the block's last byte.
func (b *Block) End() int { return b.Start + b.Size }

// SingleEntry returns the block's one entry point. Only meaningful after
// normalization.
func (b *Block) SingleEntry() *EntryPoint {
	for _, e := range b.EntryPoints {
		return e
	}
	return nil
}

// instrIndexAtOrAfter returns the index of the first instruction whose
// offset is >= target, and whether an instruction starts exactly there.
func (b *Block) instrIndexAtOrAfter(target int) (idx int, exact bool) {
	idx = sort.SearchInts(b.offsets, target)
	exact = idx < len(b.offsets) && b.offsets[idx] == target
	return
}

// Graph is the arena owning every Block and Edge produced for one File.
type Graph struct {
	File *pacentity.File

	Blocks       map[int]*Block
	blockByStart map[int]int
	StartOffsets []int // sorted, kept in sync with blockByStart

	Edges       []*Edge
	nextBlockID int
}

func newGraph(file *pacentity.File) *Graph {
	return &Graph{
		File:         file,
		Blocks:       make(map[int]*Block),
		blockByStart: make(map[int]int),
	}
}

func (g *Graph) registerBlock(b *Block) {
	b.ID = g.nextBlockID
	g.nextBlockID++
	g.Blocks[b.ID] = b
	g.blockByStart[b.Start] = b.ID
	g.StartOffsets = append(g.StartOffsets, b.Start)
}

// resortStarts rebuilds StartOffsets in ascending order; called after
// normalization inserts new block-start offsets out of order.
func (g *Graph) resortStarts() {
	sort.Ints(g.StartOffsets)
}

// BlockAtStart returns the block whose Start equals offset, if any.
func (g *Graph) BlockAtStart(offset int) (*Block, bool) {
	id, ok := g.blockByStart[offset]
	if !ok {
		return nil, false
	}
	return g.Blocks[id], true
}

// getBlockByOffset finds the block containing offset. If offset falls in
// an inter-block gap, the next block is returned. Offsets before the first
// block's start or past the last block's end are not found.
func (g *Graph) getBlockByOffset(offset int) (int, bool) {
	if len(g.StartOffsets) == 0 {
		return 0, false
	}
	idx := pacbytes.BinarySearch(g.StartOffsets, offset)
	if idx < 0 {
		return 0, false
	}
	start := g.StartOffsets[idx]
	blockID := g.blockByStart[start]
	block := g.Blocks[blockID]
	if offset < block.End() {
		return blockID, true
	}
	if idx != len(g.StartOffsets)-1 {
		nextStart := g.StartOffsets[idx+1]
		return g.blockByStart[nextStart], true
	}
	return 0, false
}

func (g *Graph) newEdge(exitBlockID, entryBlockID, entryOffset int, t Transition) *Edge {
	e := &Edge{ID: len(g.Edges), ExitBlockID: exitBlockID, EntryBlockID: entryBlockID, EntryOffset: entryOffset, Transition: t}
	g.Edges = append(g.Edges, e)
	return e
}

func (g *Graph) connectEdge(entry *EntryPoint, exitBlockID int, t Transition) *Edge {
	exitBlock := g.Blocks[exitBlockID]
	edge := g.newEdge(exitBlockID, entry.BlockID, entry.Position, t)
	exitBlock.Exit.WhereTo = append(exitBlock.Exit.WhereTo, edge.ID)
	entry.WhereFrom = append(entry.WhereFrom, edge.ID)
	g.Blocks[entry.BlockID].IsSource = false
	return edge
}

func (g *Graph) addEntryPointAt(block *Block, offset int) *EntryPoint {
	ep := &EntryPoint{Position: offset, BlockID: block.ID}
	block.EntryPoints[offset] = ep
	return ep
}

// acceptJumpTo resolves a jump landing at offset `to` within `block`,
// materializing an EntryPoint if necessary. Returns false if `to` cannot be
// resolved within this block (past its last instruction).
func (g *Graph) acceptJumpTo(block *Block, to int, exitBlockID int, t Transition) bool {
	if len(block.offsets) == 0 {
		return false
	}
	last := block.offsets[len(block.offsets)-1]
	if to > last {
		return false
	}
	if to < block.offsets[0] {
		entry := block.EntryPoints[block.Start]
		g.connectEdge(entry, exitBlockID, t)
		return true
	}
	idx, exact := block.instrIndexAtOrAfter(to)
	if !exact {
		// `to` falls strictly between two instruction starts (idx-1 and idx):
		// check it doesn't land inside idx-1's instruction body, then advance
		// to the next instruction start.
		prevIdx := idx - 1
		if prevIdx >= 0 {
			prevOffset := block.offsets[prevIdx]
			prevInstr := block.Instructions[prevIdx]
			if to < prevOffset+prevInstr.Size {
				return false
			}
		}
		to = block.offsets[idx]
	}
	entry, ok := block.EntryPoints[to]
	if !ok {
		entry = g.addEntryPointAt(block, to)
	}
	g.connectEdge(entry, exitBlockID, t)
	return true
}

// connectLocationToOffset resolves an edge from the instruction at
// `location` to `offset`. Returns true iff the edge was created.
func (g *Graph) connectLocationToOffset(location, offset int, t Transition) bool {
	destBlockID, ok := g.getBlockByOffset(offset)
	if !ok {
		return false
	}
	srcBlockID, ok := g.getBlockByOffset(location)
	if !ok {
		return false
	}
	destBlock := g.Blocks[destBlockID]
	return g.acceptJumpTo(destBlock, offset, srcBlockID, t)
}

// InstructionAt returns the instruction entity starting exactly at offset.
func (g *Graph) InstructionAt(offset int) (*pacinstr.Instruction, bool) {
	e, ok := g.File.GetEntityByOffset(offset)
	if !ok || e.Kind != pacentity.KindInstruction {
		return nil, false
	}
	return e.Instr, true
}
