// Package pacentity implements the Entity Decoder: the
// top-to-bottom scan that turns a raw byte buffer into the ordered entity
// stream of instructions, unknown instructions, padding, message tables,
// switch-case tables, left-out argument runs, and raw memory blocks.
package pacentity

import (
	"sort"

	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// Kind tags the Entity sum type.
type Kind int

// Entity kinds.
const (
	KindInstruction Kind = iota
	KindUnknownInstruction
	KindPadding
	KindMessageTable
	KindSwitchCaseTable
	KindLeftOutArgs
	KindRawData
)

func (k Kind) String() string {
	switch k {
	case KindInstruction:
		return "Instruction"
	case KindUnknownInstruction:
		return "UnknownInstruction"
	case KindPadding:
		return "Padding"
	case KindMessageTable:
		return "MessageTable"
	case KindSwitchCaseTable:
		return "SwitchCaseTable"
	case KindLeftOutArgs:
		return "LeftOutArgs"
	case KindRawData:
		return "RawData"
	default:
		return "Unknown"
	}
}

// UnknownInstructionData is the kind-specific payload for an unknown
// instruction entity.
type UnknownInstructionData struct {
	Signature uint32
}

// PaddingData is the kind-specific payload for a padding entity.
type PaddingData struct {
	MachineWordLength int
	ZeroesOnly        bool
}

// MessageTableData is the kind-specific payload for a message table entity.
type MessageTableData struct {
	MessageCount int
}

// SwitchCaseTableData is the kind-specific payload for a switch-case table.
type SwitchCaseTableData struct {
	Targets []uint32
}

// LeftOutArgsData is the kind-specific payload for a left-out-arguments run.
type LeftOutArgsData struct {
	ParentSignature uint32
	ParentName      string
	ParentStart     int
}

// RawDataData is the kind-specific payload for a raw memory block.
type RawDataData struct {
	ShiftJIS string
	Decoded  bool
}

// Entity is one element of the ordered entity stream. Shared fields
// (offset, size, raw bytes) live on this envelope; exactly one of the
// kind-specific pointer fields below is populated, per the kind tag.
type Entity struct {
	Kind   Kind
	Offset int
	Size   int
	Raw    []byte

	Instr           *pacinstr.Instruction
	Unknown         *UnknownInstructionData
	Padding         *PaddingData
	MessageTable    *MessageTableData
	SwitchCaseTable *SwitchCaseTableData
	LeftOutArgs     *LeftOutArgsData
	RawData         *RawDataData
}

// End returns the offset one past the entity's last byte.
func (e *Entity) End() int { return e.Offset + e.Size }

// File owns a fully decoded PAC blob: raw bytes, the ordered entity stream,
// and secondary lookup indexes.
type File struct {
	Name string
	Raw  []byte

	// EntityOffsets is the authoritative ordered list of entity start
	// offsets; byOffset backs random access.
	EntityOffsets []int
	byOffset      map[int]*Entity

	// InstructionOffsets preserves decode order for instructions only.
	InstructionOffsets      []int
	instructionsBySignature map[uint32]map[int]*pacinstr.Instruction

	UnknownInstructionsCount int
	CutInstructionsCount     int
}

// NewFile returns an empty File wrapping raw.
func NewFile(name string, raw []byte) *File {
	return &File{
		Name:                    name,
		Raw:                     raw,
		byOffset:                make(map[int]*Entity),
		instructionsBySignature: make(map[uint32]map[int]*pacinstr.Instruction),
	}
}

// Size is the total byte length of the decoded blob.
func (f *File) Size() int { return len(f.Raw) }

// GetEntityByOffset looks up the entity starting exactly at offset.
func (f *File) GetEntityByOffset(offset int) (*Entity, bool) {
	e, ok := f.byOffset[offset]
	return e, ok
}

// EntityBefore returns the entity immediately preceding the one starting at
// offset in the ordered entity stream, if any. Used by the Edge Resolver's
// getGateInfo lookback.
func (f *File) EntityBefore(offset int) (*Entity, bool) {
	i := sort.SearchInts(f.EntityOffsets, offset)
	if i == 0 || i >= len(f.EntityOffsets) || f.EntityOffsets[i] != offset {
		return nil, false
	}
	prev := f.EntityOffsets[i-1]
	return f.byOffset[prev], true
}

// Instructions returns the ordered list of decoded instructions.
func (f *File) Instructions() []*pacinstr.Instruction {
	instrs := make([]*pacinstr.Instruction, 0, len(f.InstructionOffsets))
	for _, off := range f.InstructionOffsets {
		e := f.byOffset[off]
		instrs = append(instrs, e.Instr)
	}
	return instrs
}

// InstructionsBySignature returns the offset->Instruction map for one
// signature. Map iteration order is unspecified; callers that need offset
// order sort the keys.
func (f *File) InstructionsBySignature(sig uint32) map[int]*pacinstr.Instruction {
	return f.instructionsBySignature[sig]
}

func (f *File) addEntity(e *Entity) {
	f.EntityOffsets = append(f.EntityOffsets, e.Offset)
	f.byOffset[e.Offset] = e
}

func (f *File) addInstruction(e *Entity) {
	f.addEntity(e)
	f.InstructionOffsets = append(f.InstructionOffsets, e.Offset)
	sig := e.Instr.Signature()
	if f.instructionsBySignature[sig] == nil {
		f.instructionsBySignature[sig] = make(map[int]*pacinstr.Instruction)
	}
	f.instructionsBySignature[sig][e.Offset] = e.Instr
	if e.Instr.CutOff {
		f.CutInstructionsCount++
	}
}
