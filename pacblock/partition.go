package pacblock

import (
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// PartitionOptions selects the flow-truncating signature set used to cut
// blocks.
type PartitionOptions struct {
	Returning        pacinstr.SignatureSet
	Jumping          pacinstr.SignatureIndex // generic jumping-instruction list
	Callback         pacinstr.SignatureIndex
	Important        *pacinstr.ImportantSignatures
	IncludeCallbacks bool
}

func (o PartitionOptions) truncators() map[uint32]struct{} {
	set := make(map[uint32]struct{})
	for sig := range o.Returning {
		set[sig] = struct{}{}
	}
	for sig := range o.Jumping {
		set[sig] = struct{}{}
	}
	set[o.Important.CmdEnd] = struct{}{}
	set[o.Important.CmdStkDec] = struct{}{}
	set[o.Important.CmdStkClr] = struct{}{}
	if o.IncludeCallbacks {
		for sig := range o.Callback {
			set[sig] = struct{}{}
		}
	}
	return set
}

// Partition reads file's ordered instruction stream and cuts a block at
// every flow-truncating instruction. The truncating instruction is the last
// instruction of its block.
func Partition(file *pacentity.File, opts PartitionOptions) *Graph {
	g := newGraph(file)
	truncators := opts.truncators()

	var cur *Block
	instrs := file.Instructions()
	for _, instr := range instrs {
		if cur == nil {
			cur = &Block{Start: instr.Offset, IsSource: true, EntryPoints: make(map[int]*EntryPoint)}
		}
		cur.Instructions = append(cur.Instructions, instr)
		cur.offsets = append(cur.offsets, instr.Offset)

		if _, truncates := truncators[instr.Signature()]; truncates {
			finishBlock(g, cur)
			cur = nil
		}
	}
	if cur != nil {
		finishBlock(g, cur)
	}
	g.resortStarts()
	return g
}

func finishBlock(g *Graph, b *Block) {
	last := b.Instructions[len(b.Instructions)-1]
	b.Size = last.End() - b.Start
	b.Exit = &ExitPoint{Position: last.Offset}
	g.registerBlock(b)
	b.Exit.BlockID = b.ID
	b.EntryPoints[b.Start] = &EntryPoint{Position: b.Start, BlockID: b.ID}
}
