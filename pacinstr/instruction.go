package pacinstr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Nemoumbra/pacdisasm/pacbytes"
)

// Arg is one decoded (ParamDesc, Value) pair in an instruction's ordered
// argument list.
type Arg struct {
	Desc  ParamDesc
	Value Value
}

// Instruction is a fully decoded instruction entity.
type Instruction struct {
	Offset   int
	Size     int
	Raw      []byte
	Template *Template

	Args []Arg

	// CutOff is set when argument decoding stopped early because the
	// decoder recognized the start of the next instruction.
	CutOff bool

	// ContinuousUnfinished marks an instruction whose final param was a
	// CONTINOUS_* type_tag, decoded with the consume-to-next-boundary
	// heuristic.
	ContinuousUnfinished bool
}

// Signature returns the instruction's 4-byte signature.
func (i *Instruction) Signature() uint32 { return i.Template.Signature }

// Name returns the instruction's catalog name.
func (i *Instruction) Name() string { return i.Template.Name }

// End returns the offset one past the instruction's last byte.
func (i *Instruction) End() int { return i.Offset + i.Size }

// isPACInstruction reports whether the 4 bytes at offset look like a valid
// PAC instruction signature: first byte 0x25, fourth byte <= 0x23.
func isPACInstruction(data []byte, offset int) bool {
	if offset < 0 || offset+4 > len(data) {
		return false
	}
	return data[offset] == 0x25 && data[offset+3] <= 0x23
}

// decodeComposite parses a composite argument (type byte already consumed,
// cur pointing at its value slot). Returns the decoded value and the
// synthesized ParamDesc used for the ordered argument list, or stop=true to
// signal a cut-off.
func decodeComposite(data []byte, cur int, argType byte, sizeof int, desc ParamDesc) (val Value, outDesc ParamDesc, stop bool, err error) {
	switch argType {
	case 0x40:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarFloatGlobal, int64(v)), ParamDesc{"0x40 variable", desc.Name}, false, e
	case 0x20:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarFloatLocal, int64(v)), ParamDesc{"0x20 variable", desc.Name}, false, e
	case 0x10:
		if sizeof == 2 {
			return Value{}, ParamDesc{}, false, errors.Errorf("decode error: cannot decode 2-byte float value at 0x%06X", cur)
		}
		f, e := pacbytes.ReadFloat32LE(data, cur)
		return FloatValue(f), ParamDesc{"float", desc.Name}, false, e
	case 0x8:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarIntGlobal, int64(v)), ParamDesc{"0x8 variable", desc.Name}, false, e
	case 0x4:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarIntLocal, int64(v)), ParamDesc{"0x4 variable", desc.Name}, false, e
	case 0x2:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarIntImmediate, int64(v)), ParamDesc{"uint32_t", desc.Name}, false, e
	case 0x1:
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarImmediateByte, int64(v)), ParamDesc{"0x1 value", desc.Name}, false, e
	default:
		if isPACInstruction(data, cur-sizeof) {
			if sizeof == 2 {
				return Value{}, ParamDesc{}, false, errors.Errorf("decode error: cut-off is illegal for a 2-byte composite value at 0x%06X", cur)
			}
			return Value{}, ParamDesc{}, true, nil
		}
		v, e := pacbytes.ReadCustomUint(data, cur, sizeof)
		return VarRefValue(VarUnknown, int64(v)), ParamDesc{"Unknown", desc.Name}, false, e
	}
}

// decodeCount parses a COUNT_<count_kind>_<elem_kind> argument group.
func decodeCount(data []byte, cur int, desc ParamDesc) (args []Arg, newOffset int, cutoff bool, err error) {
	parts := strings.Split(desc.TypeTag, "_")
	if len(parts) < 3 {
		return nil, cur, false, errors.Errorf("malformed count type_tag %q", desc.TypeTag)
	}
	countKind, elemKind := parts[1], parts[2]

	var count int
	switch countKind {
	case "byte":
		if cur >= len(data) {
			return nil, cur, false, errors.Wrapf(pacbytes.ErrOutOfRange, "count header at 0x%06X", cur)
		}
		count = int(data[cur])
		cur += 4
	case "uint32t":
		if cur >= len(data) {
			return nil, cur, false, errors.Wrapf(pacbytes.ErrOutOfRange, "count header at 0x%06X", cur)
		}
		argType := data[cur]
		if argType != 0x1 && argType != 0x2 {
			return nil, cur, false, errors.Errorf("cannot parse %s argument at offset 0x%06X", desc.TypeTag, cur)
		}
		cur += 4
		v, e := pacbytes.ReadUint32LE(data, cur)
		if e != nil {
			return nil, cur, false, e
		}
		count = int(v)
		cur += 4
	case "uint32tP":
		v, e := pacbytes.ReadUint32LE(data, cur)
		if e != nil {
			return nil, cur, false, e
		}
		count = int(v)
		cur += 4
	default:
		return nil, cur, false, errors.Errorf("unknown count kind %q", countKind)
	}

	for i := 0; i < count; i++ {
		switch elemKind {
		case "uint32t":
			if cur >= len(data) {
				return args, cur, false, errors.Wrapf(pacbytes.ErrOutOfRange, "count element at 0x%06X", cur)
			}
			argType := data[cur]
			cur += 4
			val, elemDesc, stop, e := decodeComposite(data, cur, argType, 4, desc)
			if e != nil {
				return args, cur, false, e
			}
			if stop {
				cur -= 4
				return args, cur, true, nil
			}
			countDesc := ParamDesc{
				TypeTag: fmt.Sprintf("count_%s %s %d", countKind, elemDesc.TypeTag, i),
				Name:    desc.Name,
			}
			args = append(args, Arg{countDesc, val})
			cur += 4
		case "uint32tP":
			v, e := pacbytes.ReadUint32LE(data, cur)
			if e != nil {
				return args, cur, false, e
			}
			countDesc := ParamDesc{TypeTag: fmt.Sprintf("count_%s_%d", countKind, i), Name: "Unknown"}
			args = append(args, Arg{countDesc, IntValue(int64(v))})
			cur += 4
		default:
			return args, cur, false, errors.Errorf("unknown count element kind %q", elemKind)
		}
	}
	return args, cur, false, nil
}

// Decode parses one instruction at offset against tmpl.
func Decode(data []byte, offset int, tmpl *Template) (*Instruction, error) {
	instr := &Instruction{Offset: offset, Template: tmpl}
	cur := offset + 4 // skip the 4-byte signature

paramLoop:
	for _, p := range tmpl.Params {
		switch {
		case p.TypeTag == "uintX_t":
			cur = pacbytes.AlignUp4(cur)
			v, err := pacbytes.ReadUint32LE(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "uintX_t arg %q", p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, IntValue(int64(v))})
			cur += 4

		case strings.HasPrefix(p.TypeTag, "uintX_t_T"):
			cur = pacbytes.AlignUp4(cur)
			if cur >= len(data) {
				return nil, errors.Wrapf(pacbytes.ErrOutOfRange, "uintX_t_T type byte at 0x%06X", cur)
			}
			argType := data[cur]
			cur += 4
			val, desc, stop, err := decodeComposite(data, cur, argType, 4, p)
			if err != nil {
				return nil, errors.Wrapf(err, "uintX_t_T arg %q", p.Name)
			}
			if stop {
				cur -= 4
				instr.CutOff = true
				break paramLoop
			}
			instr.Args = append(instr.Args, Arg{desc, val})
			cur += 4

		case strings.HasPrefix(p.TypeTag, "uintXC_t_T"):
			step := 4 - (cur % 4)
			if cur >= len(data) {
				return nil, errors.Wrapf(pacbytes.ErrOutOfRange, "uintXC_t_T type byte at 0x%06X", cur)
			}
			argType := data[cur]
			cur += step
			val, desc, stop, err := decodeComposite(data, cur, argType, 4, p)
			if err != nil {
				return nil, errors.Wrapf(err, "uintXC_t_T arg %q", p.Name)
			}
			if stop {
				return nil, errors.Errorf("decode error: cut-off is illegal for uintXC_t_T (arg %q at 0x%06X)", p.Name, cur)
			}
			instr.Args = append(instr.Args, Arg{desc, val})
			cur += 4

		case strings.HasPrefix(p.TypeTag, "uint32_t_T"):
			if cur >= len(data) {
				return nil, errors.Wrapf(pacbytes.ErrOutOfRange, "uint32_t_T type byte at 0x%06X", cur)
			}
			argType := data[cur]
			cur += 4
			val, desc, stop, err := decodeComposite(data, cur, argType, 4, p)
			if err != nil {
				return nil, errors.Wrapf(err, "uint32_t_T arg %q", p.Name)
			}
			if stop {
				cur -= 4
				instr.CutOff = true
				break paramLoop
			}
			instr.Args = append(instr.Args, Arg{desc, val})
			cur += 4

		case strings.HasPrefix(p.TypeTag, "uint16_t_T"):
			if cur >= len(data) {
				return nil, errors.Wrapf(pacbytes.ErrOutOfRange, "uint16_t_T type byte at 0x%06X", cur)
			}
			argType := data[cur]
			cur += 2
			val, desc, stop, err := decodeComposite(data, cur, argType, 2, p)
			if err != nil {
				return nil, errors.Wrapf(err, "uint16_t_T arg %q", p.Name)
			}
			if stop {
				// sizeof==2 guards this branch out of decodeComposite; a
				// true cut-off here is an internal invariant violation.
				return nil, errors.Errorf("decode error: unexpected cut-off for uint16_t_T (arg %q at 0x%06X)", p.Name, cur)
			}
			instr.Args = append(instr.Args, Arg{desc, val})
			cur += 2

		case p.TypeTag == "float":
			f, err := pacbytes.ReadFloat32LE(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "float arg %q", p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, FloatValue(f)})
			cur += 4

		case p.TypeTag == "string":
			s, n, err := pacbytes.ReadShiftJISCString(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "string arg %q", p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, StringValue(strings.ReplaceAll(s, "\x00", ""))})
			cur += n

		case strings.HasPrefix(p.TypeTag, "COUNT_"):
			countArgs, newCur, stop, err := decodeCount(data, cur, p)
			instr.Args = append(instr.Args, countArgs...)
			cur = newCur
			if err != nil {
				return nil, errors.Wrapf(err, "count arg %q", p.Name)
			}
			if stop {
				instr.CutOff = true
				break paramLoop
			}

		case p.TypeTag == "uint32_t" || p.TypeTag == "uint32_t_P":
			v, err := pacbytes.ReadUint32LE(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "uint32_t arg %q", p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, IntValue(int64(v))})
			cur += 4

		case strings.HasPrefix(p.TypeTag, "CONTINOUS_"):
			// Consume up to the next apparent instruction boundary
			// rather than to end of buffer and flag the instruction.
			instr.ContinuousUnfinished = true
			i := 0
			for cur+4 <= len(data) && !isPACInstruction(data, cur) {
				v, _ := pacbytes.ReadUint32LE(data, cur)
				continuousDesc := ParamDesc{TypeTag: fmt.Sprintf("continuous_%d", i), Name: "Unknown"}
				instr.Args = append(instr.Args, Arg{continuousDesc, IntValue(int64(v))})
				cur += 4
				i++
			}

		case p.TypeTag == "ENTITY_ID" || p.TypeTag == "EQUIP_ID":
			cur += 4 // skip the initial padding word
			v, err := pacbytes.ReadUint32LE(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "%s arg %q", p.TypeTag, p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, IntValue(int64(v))})
			cur += 4

		case p.TypeTag == "KEYBIND_ID":
			v, err := pacbytes.ReadUint32LE(data, cur)
			if err != nil {
				return nil, errors.Wrapf(err, "KEYBIND_ID arg %q", p.Name)
			}
			instr.Args = append(instr.Args, Arg{p, IntValue(int64(v))})
			cur += 4

		default:
			// Unrecognized type_tag: skip.
		}
	}

	if cur > len(data) {
		return nil, errors.Wrapf(pacbytes.ErrOutOfRange, "instruction at 0x%06X overruns buffer", offset)
	}
	instr.Size = cur - offset
	instr.Raw = data[offset:cur]
	return instr, nil
}
