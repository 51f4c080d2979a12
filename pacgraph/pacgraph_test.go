package pacgraph

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

const sigJmp uint32 = 0x25000002

type fixtureInstr struct {
	sig    uint32
	target uint32
}

func assemble(instrs []fixtureInstr) []byte {
	var raw []byte
	for _, i := range instrs {
		sig := make([]byte, 4)
		binary.BigEndian.PutUint32(sig, i.sig)
		raw = append(raw, sig...)
		arg := make([]byte, 4)
		binary.LittleEndian.PutUint32(arg, i.target)
		raw = append(raw, arg...)
	}
	return raw
}

// buildGraph decodes a sequence of 8-byte jmp instructions (each cuts its
// own block) and resolves their unconditional-jump edges, producing a
// pacblock.Graph with one block per instruction.
func buildGraph(t *testing.T, instrs []fixtureInstr) *pacblock.Graph {
	t.Helper()
	catalog := pacinstr.NewCatalog()
	catalog.Add(&pacinstr.Template{Signature: sigJmp, Name: "cmd_jmp", Params: []pacinstr.ParamDesc{{TypeTag: "uint32_t", Name: "target"}}})
	important := &pacinstr.ImportantSignatures{CmdCall: 0x25FFFFFF, CmdInxJmp: 0x25FFFFFF, CmdStkDec: 0x25FFFFFF, CmdStkClr: 0x25FFFFFF, CmdEnd: 0x25FFFFFF}

	raw := assemble(instrs)
	file, err := pacentity.Decode(raw, "fixture", pacentity.Options{Catalog: catalog, FindUnknownInstructions: true})
	require.NoError(t, err)

	g := pacblock.Partition(file, pacblock.PartitionOptions{
		Important: important,
		Jumping:   pacinstr.SignatureIndex{sigJmp: 0},
	})
	_ = pacblock.ResolveEdges(g, pacblock.ResolverOptions{
		Unconditional: pacinstr.SignatureIndex{sigJmp: 0},
		Important:     important,
	})
	pacblock.Normalize(g)
	return g
}

func TestAnalyzerAcyclicChain(t *testing.T) {
	// A@0 -> B@8 -> C@16, no back edges. C's target lies past the last
	// instruction, so its edge is unrecoverable (logged, not created) and C
	// is a sink.
	g := buildGraph(t, []fixtureInstr{
		{sig: sigJmp, target: 8},
		{sig: sigJmp, target: 16},
		{sig: sigJmp, target: 24},
	})
	a := New(g, Options{})
	require.Equal(t, 3, a.Size())

	a.ComputeSourcesSinks()
	blockA, _ := g.BlockAtStart(0)
	assert.Equal(t, []int{a.indexOf[blockA.ID]}, a.Sources())

	isDAG := a.ComputeTopsort()
	assert.True(t, isDAG)

	a.KosarajuSCC(false)
	assert.Empty(t, a.NonTrivialComponents())

	edges := a.CountEdges()
	assert.Equal(t, 2, edges)
	assert.Equal(t, edges-a.Size()+2, a.CyclomaticNumber())

	a.FindRoots()
	assert.Equal(t, []int{a.indexOf[blockA.ID]}, a.Roots())
}

func TestAnalyzerCycleDetection(t *testing.T) {
	// A@0 -> B@8 -> C@16 -> B@8 (B and C form a cycle).
	g := buildGraph(t, []fixtureInstr{
		{sig: sigJmp, target: 8},
		{sig: sigJmp, target: 16},
		{sig: sigJmp, target: 8},
	})
	a := New(g, Options{})
	blockA, _ := g.BlockAtStart(0)
	blockB, _ := g.BlockAtStart(8)
	blockC, _ := g.BlockAtStart(16)

	a.ComputeSourcesSinks()
	assert.Equal(t, []int{a.indexOf[blockA.ID]}, a.Sources())
	assert.Empty(t, a.Sinks())

	isDAG := a.ComputeTopsort()
	assert.False(t, isDAG, "B<->C is a cycle")

	nonTrivial := a.KosarajuSCC(true)
	require.Len(t, nonTrivial, 1)
	for _, members := range nonTrivial {
		assert.ElementsMatch(t, []int{a.indexOf[blockB.ID], a.indexOf[blockC.ID]}, members)
	}
	assert.True(t, a.BelongsToCycle(a.indexOf[blockB.ID]))
	assert.True(t, a.BelongsToCycle(a.indexOf[blockC.ID]))
	assert.False(t, a.BelongsToCycle(a.indexOf[blockA.ID]))

	edges := a.CountEdges()
	assert.Equal(t, 3, edges)

	a.FindRoots()
	require.Len(t, a.Roots(), 1, "the whole graph is reachable from A alone")
	assert.Equal(t, a.indexOf[blockA.ID], a.Roots()[0])
	assert.Equal(t, a.CyclomaticNumber(), a.CyclomaticNumberWithRoots())
}

func TestForwardDFSReachesWholeChain(t *testing.T) {
	g := buildGraph(t, []fixtureInstr{
		{sig: sigJmp, target: 8},
		{sig: sigJmp, target: 16},
		{sig: sigJmp, target: 24},
	})
	a := New(g, Options{})
	blockA, _ := g.BlockAtStart(0)
	depth, size, ok := a.ForwardDFS(blockA.ID, 1, 0)
	require.True(t, ok)
	assert.Equal(t, 3, size)
	assert.GreaterOrEqual(t, depth, 1)
}

func TestForwardDFSUnknownStartFails(t *testing.T) {
	g := buildGraph(t, []fixtureInstr{{sig: sigJmp, target: 0}})
	a := New(g, Options{})
	_, _, ok := a.ForwardDFS(999999, 1, 0)
	assert.False(t, ok)
}
