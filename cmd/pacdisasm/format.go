package main

import (
	"fmt"
	"strings"

	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// formatEntity renders one decoded entity as one disassembly line,
// `XXXXXXXX  <entity description>`.
func formatEntity(e *pacentity.Entity, verbose bool) string {
	return fmt.Sprintf("%08X  %s", e.Offset, describeEntity(e, verbose))
}

func describeEntity(e *pacentity.Entity, verbose bool) string {
	switch e.Kind {
	case pacentity.KindInstruction:
		return formatInstruction(e.Instr, verbose)
	case pacentity.KindUnknownInstruction:
		return fmt.Sprintf("UNKNOWN %08X (%d bytes)", e.Unknown.Signature, e.Size)
	case pacentity.KindPadding:
		return fmt.Sprintf("PADDING (%d bytes, zeroes_only=%v)", e.Size, e.Padding.ZeroesOnly)
	case pacentity.KindMessageTable:
		return fmt.Sprintf("MESSAGE_TABLE (%d messages)", e.MessageTable.MessageCount)
	case pacentity.KindSwitchCaseTable:
		return fmt.Sprintf("SWITCH_TABLE %v", e.SwitchCaseTable.Targets)
	case pacentity.KindLeftOutArgs:
		return fmt.Sprintf("LEFT_OUT_ARGS parent=%s@0x%06X (%d bytes)", e.LeftOutArgs.ParentName, e.LeftOutArgs.ParentStart, e.Size)
	case pacentity.KindRawData:
		if e.RawData.Decoded {
			return fmt.Sprintf("RAW %q", e.RawData.ShiftJIS)
		}
		return fmt.Sprintf("RAW (%d bytes, shift-jis decode failed)", e.Size)
	default:
		return "???"
	}
}

func formatInstruction(instr *pacinstr.Instruction, verbose bool) string {
	args := make([]string, len(instr.Args))
	for i, a := range instr.Args {
		args[i] = formatArg(a, verbose)
	}
	cutOff := ""
	if instr.CutOff {
		cutOff = " [cut_off]"
	}
	return fmt.Sprintf("%08X:%s(%s)%s", instr.Signature(), instr.Name(), strings.Join(args, ", "), cutOff)
}

func formatArg(a pacinstr.Arg, verbose bool) string {
	if verbose {
		return fmt.Sprintf("{%s; %s}=%s", a.Desc.TypeTag, a.Desc.Name, formatValue(a.Value))
	}
	if prefix := terseTypePrefix(a); prefix != "" {
		return fmt.Sprintf("%s:%s", prefix, formatValue(a.Value))
	}
	return formatValue(a.Value)
}

// terseTypePrefix returns the type-prefix code for an integer-class
// argument: plain integers (uint32_t, uint32_t_P, and the ID types) print
// as `2`, the same code as an 0x2 composite immediate. Floats and strings
// carry no prefix.
func terseTypePrefix(a pacinstr.Arg) string {
	switch a.Value.Kind {
	case pacinstr.KindInt:
		return "2"
	case pacinstr.KindVarRef:
		switch a.Value.Class {
		case pacinstr.VarIntImmediate:
			return "2"
		case pacinstr.VarImmediateByte:
			return "1"
		case pacinstr.VarUnknown:
			return "0x00"
		default:
			return fmt.Sprintf("0x%02X", byte(a.Value.Class))
		}
	default:
		return ""
	}
}

func formatValue(v pacinstr.Value) string {
	switch v.Kind {
	case pacinstr.KindInt, pacinstr.KindVarRef:
		return fmt.Sprintf("0x%X", v.Int)
	case pacinstr.KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case pacinstr.KindString:
		return fmt.Sprintf("%q", v.Str)
	default:
		return "?"
	}
}
