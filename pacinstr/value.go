// Package pacinstr implements the Instruction Catalog and the per-instruction
// argument decoder: loading signature->template
// mappings and decoding one instruction's argument list against its
// template, including composite-argument and count-argument handling and
// cut-off detection.
package pacinstr

// VarClass tags the value-class byte produced by a composite argument.
type VarClass byte

// Composite argument type-byte classes.
const (
	VarUnknown        VarClass = 0x00
	VarImmediateByte  VarClass = 0x1
	VarIntImmediate   VarClass = 0x2
	VarIntLocal       VarClass = 0x4
	VarIntGlobal      VarClass = 0x8
	VarFloatImmediate VarClass = 0x10
	VarFloatLocal     VarClass = 0x20
	VarFloatGlobal    VarClass = 0x40
)

// ValueKind tags the Value sum type.
type ValueKind int

// Value kinds.
const (
	KindInt ValueKind = iota
	KindFloat
	KindString
	KindVarRef
)

// Value is the tagged variant carried by every decoded instruction argument.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float32
	Str   string
	Class VarClass // meaningful for KindVarRef and the bare integer classes produced by composite decoding
}

// IntValue builds a plain integer Value (bare uint32/uint32_t_P/ID args).
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue builds a plain float Value (the `float` type_tag).
func FloatValue(v float32) Value { return Value{Kind: KindFloat, Float: v} }

// StringValue builds a string Value (Shift-JIS decoded `string` arguments).
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// VarRefValue builds a composite-argument Value tagged with its VarClass.
func VarRefValue(class VarClass, v int64) Value {
	return Value{Kind: KindVarRef, Class: class, Int: v}
}

// IsImmediateConstant reports whether the value is a constant known at
// decode time, as required by the callback edge rule.
func (v Value) IsImmediateConstant() bool {
	if v.Kind == KindInt {
		return true
	}
	return v.Kind == KindVarRef && v.Class == VarImmediateByte
}

// ParamDesc describes one formal argument slot: a decoding directive
// (TypeTag) plus a human name. Never reused as the runtime type of the
// decoded value itself.
type ParamDesc struct {
	TypeTag string
	Name    string
}

// Template is the parsed shape of one instruction signature as loaded from
// the catalog file.
type Template struct {
	Signature       uint32
	Name            string
	Overlay         int
	FunctionAddress uint32
	InstrClass      int
	InstrIndex      int
	Params          []ParamDesc
}
