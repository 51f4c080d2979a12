package pacblock

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

const (
	sigNop    uint32 = 0x25000001
	sigJmp    uint32 = 0x25000002
	sigCmdEnd uint32 = 0x25000003
	sigUnused uint32 = 0x25FFFFFF
)

func testCatalog() *pacinstr.Catalog {
	c := pacinstr.NewCatalog()
	c.Add(&pacinstr.Template{Signature: sigNop, Name: "nop"})
	c.Add(&pacinstr.Template{Signature: sigJmp, Name: "cmd_jmp", Params: []pacinstr.ParamDesc{{TypeTag: "uint32_t", Name: "target"}}})
	c.Add(&pacinstr.Template{Signature: sigCmdEnd, Name: "cmd_end"})
	return c
}

func testImportant() *pacinstr.ImportantSignatures {
	return &pacinstr.ImportantSignatures{
		CmdEnd:    sigCmdEnd,
		CmdCall:   sigUnused,
		CmdInxJmp: sigUnused,
		CmdStkDec: sigUnused,
		CmdStkClr: sigUnused,
	}
}

// instr is one test-fixture instruction: a signature plus its uint32_t args.
type instr struct {
	sig  uint32
	args []uint32
}

func assemble(instrs []instr) []byte {
	var raw []byte
	for _, i := range instrs {
		sig := make([]byte, 4)
		binary.BigEndian.PutUint32(sig, i.sig)
		raw = append(raw, sig...)
		for _, a := range i.args {
			arg := make([]byte, 4)
			binary.LittleEndian.PutUint32(arg, a)
			raw = append(raw, arg...)
		}
	}
	return raw
}

func decodeFixture(t *testing.T, instrs []instr) *pacentity.File {
	t.Helper()
	raw := assemble(instrs)
	file, err := pacentity.Decode(raw, "fixture", pacentity.Options{
		Catalog:                 testCatalog(),
		FindUnknownInstructions: true,
	})
	require.NoError(t, err)
	return file
}

func TestPartitionSingleBlock(t *testing.T) {
	file := decodeFixture(t, []instr{
		{sig: sigNop}, {sig: sigNop}, {sig: sigCmdEnd},
	})
	g := Partition(file, PartitionOptions{Important: testImportant()})
	require.Len(t, g.Blocks, 1)
	b, ok := g.BlockAtStart(0)
	require.True(t, ok)
	assert.Len(t, b.Instructions, 3)
	assert.Equal(t, 12, b.Size)
}

func TestPartitionCutsOnJumpingSignature(t *testing.T) {
	file := decodeFixture(t, []instr{
		{sig: sigJmp, args: []uint32{8}},
		{sig: sigNop},
		{sig: sigCmdEnd},
	})
	g := Partition(file, PartitionOptions{
		Important: testImportant(),
		Jumping:   pacinstr.SignatureIndex{sigJmp: 0},
	})
	require.Len(t, g.Blocks, 2)
	b0, ok := g.BlockAtStart(0)
	require.True(t, ok)
	assert.Len(t, b0.Instructions, 1)
	b1, ok := g.BlockAtStart(8)
	require.True(t, ok)
	assert.Len(t, b1.Instructions, 2)
}

// buildTwoBlockJump assembles jmp@0, [nop,nop,nop,cmd_end]@8, with the jump
// targeting the second nop (offset 12), a mid-block landing that forces a
// new EntryPoint and, after Normalize, a block split.
func buildTwoBlockJump(t *testing.T) *pacentity.File {
	t.Helper()
	return decodeFixture(t, []instr{
		{sig: sigJmp, args: []uint32{12}},
		{sig: sigNop}, // 8
		{sig: sigNop}, // 12 <- jump target
		{sig: sigNop}, // 16
		{sig: sigCmdEnd}, // 20
	})
}

func TestResolveEdgesUnconditionalJump(t *testing.T) {
	file := buildTwoBlockJump(t)
	g := Partition(file, PartitionOptions{
		Important: testImportant(),
		Jumping:   pacinstr.SignatureIndex{sigJmp: 0},
	})
	hints := ResolveEdges(g, ResolverOptions{
		Unconditional: pacinstr.SignatureIndex{sigJmp: 0},
		Important:     testImportant(),
	})
	assert.Empty(t, hints)

	b1, ok := g.BlockAtStart(8)
	require.True(t, ok)
	require.Len(t, b1.EntryPoints, 2, "jump landing mid-block materializes a second entry point")
	entry, ok := b1.EntryPoints[12]
	require.True(t, ok)
	require.Len(t, entry.WhereFrom, 1)
	edge := g.Edges[entry.WhereFrom[0]]
	assert.Equal(t, 0, edge.ExitBlockID)
	assert.False(t, edge.Transition.Fallthrough)
}

func TestAcceptJumpToFailsInsideInstructionBody(t *testing.T) {
	file := decodeFixture(t, []instr{
		{sig: sigJmp, args: []uint32{1}}, // offset 0, spans [0,8)
		{sig: sigCmdEnd},                 // offset 8
	})
	g := Partition(file, PartitionOptions{Important: testImportant()})
	// Landing at offset 1 is inside the jmp instruction's own body: illegal.
	ok := g.connectLocationToOffset(0, 1, Transition{})
	assert.False(t, ok)
}

func TestNormalizeSplitsMultiEntryBlock(t *testing.T) {
	file := buildTwoBlockJump(t)
	g := Partition(file, PartitionOptions{
		Important: testImportant(),
		Jumping:   pacinstr.SignatureIndex{sigJmp: 0},
	})
	_ = ResolveEdges(g, ResolverOptions{
		Unconditional: pacinstr.SignatureIndex{sigJmp: 0},
		Important:     testImportant(),
	})

	original, ok := g.BlockAtStart(8)
	require.True(t, ok)
	require.Len(t, original.EntryPoints, 2)
	jumpEdgeID := original.EntryPoints[12].WhereFrom[0]

	Normalize(g)

	require.Len(t, g.Blocks, 3, "jmp block + shrunk prefix + peeled successor")

	prefix, ok := g.BlockAtStart(8)
	require.True(t, ok)
	assert.Len(t, prefix.Instructions, 1)
	assert.Len(t, prefix.EntryPoints, 1)
	assert.True(t, prefix.IsSource)

	successor, ok := g.BlockAtStart(12)
	require.True(t, ok)
	assert.Len(t, successor.Instructions, 3)
	require.Len(t, successor.EntryPoints, 1)
	entry := successor.EntryPoints[12]
	assert.Len(t, entry.WhereFrom, 2, "synthetic fallthrough edge plus the re-pointed jump edge")

	edge := g.Edges[jumpEdgeID]
	assert.Equal(t, successor.ID, edge.EntryBlockID, "original jump edge must be re-pointed to the peeled successor")

	assert.Equal(t, []int{0, 8, 12}, g.StartOffsets)
}

func TestResolveEdgesConditionalJumpTakenAndFallthrough(t *testing.T) {
	// Conditional jump at 0 whose documented jump-arg targets the next
	// instruction at 8, which is a cmd_end: two blocks, two outgoing edges
	// from block 0 (taken + fallthrough), both arriving at block 8.
	file := decodeFixture(t, []instr{
		{sig: sigJmp, args: []uint32{8}},
		{sig: sigCmdEnd},
	})
	g := Partition(file, PartitionOptions{
		Important: testImportant(),
		Jumping:   pacinstr.SignatureIndex{sigJmp: 0},
	})
	_ = ResolveEdges(g, ResolverOptions{
		Conditional: pacinstr.SignatureIndex{sigJmp: 0},
		Important:   testImportant(),
	})

	require.Len(t, g.Blocks, 2)
	b0, ok := g.BlockAtStart(0)
	require.True(t, ok)
	require.Len(t, b0.Exit.WhereTo, 2)

	b1, ok := g.BlockAtStart(8)
	require.True(t, ok)
	entry := b1.EntryPoints[8]
	require.Len(t, entry.WhereFrom, 2)

	var taken, fall int
	for _, id := range entry.WhereFrom {
		if g.Edges[id].Transition.Fallthrough {
			fall++
		} else {
			taken++
		}
	}
	assert.Equal(t, 1, taken)
	assert.Equal(t, 1, fall)
	assert.False(t, b1.IsSource)
}
