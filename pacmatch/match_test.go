package pacmatch

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nemoumbra/pacdisasm/pacblock"
	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

const (
	sigA   uint32 = 0x25000100
	sigB   uint32 = 0x25000200
	sigC   uint32 = 0x25000300
	sigEnd uint32 = 0x25FFFF00
)

func testCatalog() *pacinstr.Catalog {
	c := pacinstr.NewCatalog()
	c.Add(&pacinstr.Template{Signature: sigA, Name: "a", Params: []pacinstr.ParamDesc{{TypeTag: "uint32_t", Name: "x"}}})
	c.Add(&pacinstr.Template{Signature: sigB, Name: "b", Params: []pacinstr.ParamDesc{{TypeTag: "uint32_t", Name: "x"}}})
	c.Add(&pacinstr.Template{Signature: sigC, Name: "c", Params: []pacinstr.ParamDesc{{TypeTag: "uint32_t", Name: "x"}}})
	c.Add(&pacinstr.Template{Signature: sigEnd, Name: "cmd_end"})
	return c
}

func testImportant() *pacinstr.ImportantSignatures {
	return &pacinstr.ImportantSignatures{
		CmdEnd:    sigEnd,
		CmdCall:   0x25FFFFFE,
		CmdInxJmp: 0x25FFFFFD,
		CmdStkDec: 0x25FFFFFC,
		CmdStkClr: 0x25FFFFFB,
	}
}

// buildFile assembles [sigA(argA), sigB(argB), sigC(argC), cmd_end] so that
// instruction-signature hashing ignores the differing argument values.
func buildFile(t *testing.T, argA, argB, argC uint32) (*pacentity.File, *pacblock.Graph) {
	t.Helper()
	var raw []byte
	for _, pair := range []struct {
		sig uint32
		arg uint32
	}{{sigA, argA}, {sigB, argB}, {sigC, argC}} {
		sig := make([]byte, 4)
		binary.BigEndian.PutUint32(sig, pair.sig)
		raw = append(raw, sig...)
		arg := make([]byte, 4)
		binary.LittleEndian.PutUint32(arg, pair.arg)
		raw = append(raw, arg...)
	}
	end := make([]byte, 4)
	binary.BigEndian.PutUint32(end, sigEnd)
	raw = append(raw, end...)

	file, err := pacentity.Decode(raw, "fixture", pacentity.Options{
		Catalog:                 testCatalog(),
		FindUnknownInstructions: true,
	})
	require.NoError(t, err)

	g := pacblock.Partition(file, pacblock.PartitionOptions{Important: testImportant()})
	return file, g
}

func TestMatchCodeBlocksBySignatureIgnoresArguments(t *testing.T) {
	fileA, gA := buildFile(t, 1, 2, 3)
	fileB, gB := buildFile(t, 99, 100, 101)

	matches := MatchCodeBlocks(fileA, gA, fileB, gB, ModeSignatures, Settings{UniqueMatches: true})
	require.Len(t, matches, 1, "same signature sequence, different args, still one unique match")
	assert.Equal(t, 1, matches[0].FirstCount)
	assert.Equal(t, 1, matches[0].SecondCount)
	assert.Equal(t, 0, matches[0].FirstAddress)
	assert.Equal(t, 0, matches[0].SecondAddress)
}

func TestMatchCodeBlocksByBytesDistinguishesArguments(t *testing.T) {
	fileA, gA := buildFile(t, 1, 2, 3)
	fileB, gB := buildFile(t, 99, 100, 101)

	matches := MatchCodeBlocks(fileA, gA, fileB, gB, ModeBytes, Settings{UniqueMatches: true, NonUniqueMatches: true})
	assert.Empty(t, matches, "differing argument bytes must not hash-match under ModeBytes")
}

func TestMatchCodeBlocksSizeThresholdExcludesBlock(t *testing.T) {
	fileA, gA := buildFile(t, 1, 2, 3)
	fileB, gB := buildFile(t, 1, 2, 3)

	matches := MatchCodeBlocks(fileA, gA, fileB, gB, ModeSignatures, Settings{
		UniqueMatches:      true,
		MinBlockInstrCount: 999,
	})
	assert.Empty(t, matches, "block falls under the minimum instruction-count threshold")
}

func TestMatchDeterminism(t *testing.T) {
	fileA, gA := buildFile(t, 1, 2, 3)
	fileB, gB := buildFile(t, 1, 2, 3)
	settings := Settings{UniqueMatches: true, NonUniqueMatches: true}

	first := MatchCodeBlocks(fileA, gA, fileB, gB, ModeSignatures, settings)
	second := MatchCodeBlocks(fileA, gA, fileB, gB, ModeSignatures, settings)
	assert.ElementsMatch(t, first, second, "identical inputs must yield identical match sets")
}

func TestMatchRawDataBlocks(t *testing.T) {
	// Both files decode the same buffer: one 7-byte raw-memory gap followed
	// by a single cmd_end. Seven non-zero bytes fit neither the decoder's
	// padding, message-table nor left-out-args classifications, so the gap
	// falls back to raw data.
	raw := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}

	var bufA []byte
	bufA = append(bufA, raw...)
	sigEndBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(sigEndBytes, sigEnd)
	bufA = append(bufA, sigEndBytes...)

	fileA, err := pacentity.Decode(bufA, "a", pacentity.Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	fileB, err := pacentity.Decode(bufA, "b", pacentity.Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	matches := MatchRawDataBlocks(fileA, fileB, Settings{UniqueMatches: true})
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].FirstAddress)
	assert.Equal(t, 0, matches[0].SecondAddress)
}
