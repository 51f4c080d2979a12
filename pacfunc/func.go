// Package pacfunc implements function blocks, a coarser
// subroutine-boundary partition layered over an already-resolved
// pacblock.Graph. Start offsets come from the graph's edges; each function
// block's instructions are taken from the decoded file's instruction
// stream, not from the basic blocks.
package pacfunc

import (
	"sort"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// FunctionBlock is one coarse, non-overlapping [Start, End) partition of
// the entity stream, approximating a subroutine.
type FunctionBlock struct {
	Start        int
	End          int
	Instructions []*pacinstr.Instruction
}

// Options bundles the classification tables needed to derive possible
// subroutine starts.
type Options struct {
	Returning pacinstr.SignatureSet
	SavingRA  pacinstr.SignatureSet
	Important *pacinstr.ImportantSignatures
}

func isJumpEdge(t pacblock.Transition) bool {
	return !t.Fallthrough && !t.Potential && !t.Special && !t.Callback
}

// PossibleStarts computes the union of the four subroutine-start criteria.
func PossibleStarts(file *pacentity.File, g *pacblock.Graph, opts Options) []int {
	set := make(map[int]struct{})
	size := file.Size()

	// (1) edge destinations, excluding step-over edges: potential edges
	// whose exit instruction is RA-saving (cmd_call/cmd_callLabel/
	// cmd_callLabelId reached only via a call, not a jump).
	for _, e := range g.Edges {
		if e.Transition.Potential && exitInstructionSaves(file, g, e, opts) {
			continue
		}
		set[e.EntryOffset] = struct{}{}
	}

	// (2) offset after every non-RA-saving jump instruction.
	for _, e := range g.Edges {
		if e.Transition.SaveAddress || !isJumpEdge(e.Transition) {
			continue
		}
		block := g.Blocks[e.ExitBlockID]
		instr, ok := file.GetEntityByOffset(block.Exit.Position)
		if !ok || instr.Kind != pacentity.KindInstruction {
			continue
		}
		off := instr.End()
		if off != size {
			set[off] = struct{}{}
		}
	}

	// (3) offset after every returning instruction.
	for sig := range opts.Returning {
		for _, instr := range file.InstructionsBySignature(sig) {
			off := instr.End()
			if off != size {
				set[off] = struct{}{}
			}
		}
	}

	// (4) offset 4 bytes past every flow-truncator among cmd_end/
	// cmd_stkDec/cmd_stkClr.
	for _, sig := range []uint32{opts.Important.CmdEnd, opts.Important.CmdStkDec, opts.Important.CmdStkClr} {
		if sig == 0 {
			continue
		}
		for _, instr := range file.InstructionsBySignature(sig) {
			// cmd_end/cmd_stkDec/cmd_stkClr are always 4 bytes (no params),
			// so offset+4 is the instruction's own end.
			off := instr.Offset + 4
			if off != size {
				set[off] = struct{}{}
			}
		}
	}

	starts := make([]int, 0, len(set))
	for off := range set {
		starts = append(starts, off)
	}
	sort.Ints(starts)
	return starts
}

func exitInstructionSaves(file *pacentity.File, g *pacblock.Graph, e *pacblock.Edge, opts Options) bool {
	block := g.Blocks[e.ExitBlockID]
	ent, ok := file.GetEntityByOffset(block.Exit.Position)
	if !ok || ent.Kind != pacentity.KindInstruction {
		return false
	}
	return opts.SavingRA.Contains(ent.Instr.Signature())
}

// Build constructs one FunctionBlock per consecutive pair of possible
// starts, reusing the Entity Decoder's instruction stream directly via
// binary search rather than re-partitioning.
func Build(file *pacentity.File, starts []int) []*FunctionBlock {
	var blocks []*FunctionBlock
	for i := 0; i+1 < len(starts); i++ {
		s, e := starts[i], starts[i+1]
		si := sort.SearchInts(file.InstructionOffsets, s)
		ei := sort.SearchInts(file.InstructionOffsets, e)
		var instrs []*pacinstr.Instruction
		for _, off := range file.InstructionOffsets[si:ei] {
			ent, _ := file.GetEntityByOffset(off)
			instrs = append(instrs, ent.Instr)
		}
		blocks = append(blocks, &FunctionBlock{Start: s, End: e, Instructions: instrs})
	}
	return blocks
}
