package pacentity

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

const (
	sigNop    uint32 = 0x25000001
	sigCmdEnd uint32 = 0x25000002
	sigString uint32 = 0x25000003
)

func testCatalog() *pacinstr.Catalog {
	c := pacinstr.NewCatalog()
	c.Add(&pacinstr.Template{Signature: sigNop, Name: "nop"})
	c.Add(&pacinstr.Template{Signature: sigCmdEnd, Name: "cmd_end"})
	c.Add(&pacinstr.Template{Signature: sigString, Name: "cmd_print", Params: []pacinstr.ParamDesc{{TypeTag: "string", Name: "msg"}}})
	return c
}

func bigEndianSig(sig uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, sig)
	return b
}

func TestDecodeEmptyInputFails(t *testing.T) {
	_, err := Decode(nil, "empty", Options{Catalog: testCatalog()})
	assert.Error(t, err)
}

func TestDecodeSimpleInstructionStream(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	assert.Len(t, file.InstructionOffsets, 3)
	assert.Equal(t, []int{0, 4, 8}, file.InstructionOffsets)
	assert.Equal(t, 0, file.UnknownInstructionsCount)
}

func TestDecodeRawDataGapBetweenInstructions(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	gap := []byte{0x41, 0x42, 0x43, 0x44}
	raw = append(raw, gap...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	require.Equal(t, KindRawData, ent.Kind)
	assert.True(t, ent.RawData.Decoded)
	assert.Equal(t, "ABCD", ent.RawData.ShiftJIS)
}

func TestDecodeUnknownInstructionHeuristic(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(0x25001100)...) // unrecognized but heuristically instruction-shaped
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	assert.Equal(t, KindUnknownInstruction, ent.Kind)
	assert.Equal(t, 1, file.UnknownInstructionsCount)
}

func TestDecodeMessageTableClassification(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	table := make([]byte, 12)
	binary.LittleEndian.PutUint32(table[0:4], 0)
	binary.LittleEndian.PutUint32(table[4:8], 1)
	binary.LittleEndian.PutUint32(table[8:12], 2)
	raw = append(raw, table...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	require.Equal(t, KindMessageTable, ent.Kind)
	assert.Equal(t, 3, ent.MessageTable.MessageCount)
}

func TestDecodeStringArgumentTriggersAlignmentPadding(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigString)...)
	raw = append(raw, []byte("hi")...)
	raw = append(raw, 0x00) // terminator, total string instruction = 4+3 = 7 bytes, needs 1 pad byte
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	instr, ok := file.GetEntityByOffset(0)
	require.True(t, ok)
	assert.Equal(t, 7, instr.Size)

	pad, ok := file.GetEntityByOffset(7)
	require.True(t, ok, "decoder must emit a padding entity to realign to the next 4-byte boundary")
	assert.Equal(t, KindPadding, pad.Kind)
	assert.Equal(t, 1, pad.Size)
}

func TestFileStatsCountsKindsAndCutOff(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	stats := file.Stats()
	assert.Equal(t, 2, stats.KindCounts[KindInstruction])
	assert.Equal(t, 0, stats.CutOffCount)
}

func TestInstructionsBySignatureIndexesByOffset(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)
	nops := file.InstructionsBySignature(sigNop)
	assert.Len(t, nops, 2)
	_, ok := nops[0]
	assert.True(t, ok)
	_, ok = nops[4]
	assert.True(t, ok)
}

func TestDefaultMayBeInstructionHeuristic(t *testing.T) {
	assert.True(t, DefaultMayBeInstruction(0x25001100))
	assert.False(t, DefaultMayBeInstruction(0x25000125), "low byte above 0x24 is rejected")
	assert.False(t, DefaultMayBeInstruction(0x25000000), "second-lowest byte zero is rejected")
}

func TestDecodeSwitchCaseTableAfterInxJmp(t *testing.T) {
	c := testCatalog()
	sigInx := uint32(0x25002F00)
	c.Add(&pacinstr.Template{Signature: sigInx, Name: "cmd_inxJmp"})

	var raw []byte
	raw = append(raw, bigEndianSig(sigInx)...)
	table := make([]byte, 8)
	binary.LittleEndian.PutUint32(table[0:4], 0xDDCCBBAA)
	binary.LittleEndian.PutUint32(table[4:8], 0x00000000)
	raw = append(raw, table...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{
		Catalog:                 c,
		FindUnknownInstructions: true,
		JumpTableNextToSwitch:   true,
		CmdInxJmpSignature:      sigInx,
	})
	require.NoError(t, err)

	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	require.Equal(t, KindSwitchCaseTable, ent.Kind)
	assert.Equal(t, []uint32{0xDDCCBBAA, 0}, ent.SwitchCaseTable.Targets)
}

func TestEntityStreamPartitionsFileLosslessly(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, 0x41, 0x42, 0x43, 0x44, 0x45)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)
	raw = append(raw, 0x01, 0x02)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	var rebuilt []byte
	next := 0
	for _, off := range file.EntityOffsets {
		require.Equal(t, next, off, "entity offsets must partition the file with no gap or overlap")
		e, ok := file.GetEntityByOffset(off)
		require.True(t, ok)
		rebuilt = append(rebuilt, e.Raw...)
		next = off + e.Size
	}
	require.Equal(t, len(raw), next)
	assert.Equal(t, raw, rebuilt)
}

func TestTrailingTruncatedSignatureBecomesRawData(t *testing.T) {
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, 0x25, 0x00, 0x00) // 3 trailing bytes cannot hold a signature

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	assert.Equal(t, KindRawData, ent.Kind)
	assert.Equal(t, 3, ent.Size)
}

func TestDecodeTrailingZeroWordIsPadding(t *testing.T) {
	// A no-param instruction followed by one all-zero word: the trailing
	// word is alignment filler, not a one-entry message table.
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, 0x00, 0x00, 0x00, 0x00)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	instr, ok := file.GetEntityByOffset(0)
	require.True(t, ok)
	require.Equal(t, KindInstruction, instr.Kind)
	assert.Equal(t, 4, instr.Size)

	pad, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	require.Equal(t, KindPadding, pad.Kind)
	assert.Equal(t, 4, pad.Size)
	assert.True(t, pad.Padding.ZeroesOnly)
	assert.Equal(t, 4, pad.Padding.MachineWordLength)
}

func TestDecodeMultiWordZeroGapIsNotPadding(t *testing.T) {
	// Two or more words keep the regular gap classification; 0,1,2,... runs
	// stay message tables and zero-only 8-byte runs after an instruction
	// stay left-out argument candidates.
	var raw []byte
	raw = append(raw, bigEndianSig(sigNop)...)
	raw = append(raw, make([]byte, 8)...)
	raw = append(raw, bigEndianSig(sigCmdEnd)...)

	file, err := Decode(raw, "fixture", Options{Catalog: testCatalog(), FindUnknownInstructions: true})
	require.NoError(t, err)

	ent, ok := file.GetEntityByOffset(4)
	require.True(t, ok)
	assert.NotEqual(t, KindPadding, ent.Kind)
	assert.Equal(t, 8, ent.Size)
}
