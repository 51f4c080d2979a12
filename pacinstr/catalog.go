package pacinstr

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Catalog maps a signature to its InstructionTemplate and to its human name,
// as loaded from a semicolon-delimited catalog file.
type Catalog struct {
	bySignature map[uint32]*Template
	// Signatures preserves file order for deterministic iteration, since Go
	// map iteration order is unspecified.
	Signatures []uint32
}

// NewCatalog returns an empty catalog, ready for Load or Add.
func NewCatalog() *Catalog {
	return &Catalog{bySignature: make(map[uint32]*Template)}
}

// Lookup returns the template registered for sig, if any.
func (c *Catalog) Lookup(sig uint32) (*Template, bool) {
	t, ok := c.bySignature[sig]
	return t, ok
}

// Name returns the human name registered for sig, if any.
func (c *Catalog) Name(sig uint32) (string, bool) {
	t, ok := c.bySignature[sig]
	if !ok {
		return "", false
	}
	return t.Name, true
}

// Add registers a template, overwriting any previous template for the same
// signature (later catalog lines win).
func (c *Catalog) Add(t *Template) {
	if _, exists := c.bySignature[t.Signature]; !exists {
		c.Signatures = append(c.Signatures, t.Signature)
	}
	c.bySignature[t.Signature] = t
}

// Len returns the number of distinct signatures in the catalog.
func (c *Catalog) Len() int { return len(c.bySignature) }

// ParseTemplateLine parses one catalog line of the form
// `signature_hex;name;overlay_decimal;function_address_hex;param1_type;param1_name;...`.
// Lines with fewer than 4 semicolon-delimited fields are ignored (ok=false,
// err=nil).
func ParseTemplateLine(line string) (tmpl *Template, ok bool, err error) {
	fields := strings.Split(strings.TrimSpace(line), ";")
	if len(fields) < 4 {
		return nil, false, nil
	}

	sig, err := strconv.ParseUint(fields[0], 16, 32)
	if err != nil {
		return nil, false, errors.Wrapf(err, "catalog: bad signature %q", fields[0])
	}
	overlay, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, false, errors.Wrapf(err, "catalog: bad overlay %q", fields[2])
	}
	addr, err := strconv.ParseUint(fields[3], 16, 32)
	if err != nil {
		return nil, false, errors.Wrapf(err, "catalog: bad function address %q", fields[3])
	}

	argsInfo := fields[4:]
	var params []ParamDesc
	for i := 0; i+1 < len(argsInfo); i += 2 {
		params = append(params, ParamDesc{TypeTag: argsInfo[i], Name: argsInfo[i+1]})
	}

	sig32 := uint32(sig)
	return &Template{
		Signature:       sig32,
		Name:            fields[1],
		Overlay:         overlay,
		FunctionAddress: uint32(addr),
		InstrClass:      int((sig32 >> 16) % 256),
		InstrIndex:      int(sig32 % 65536),
		Params:          params,
	}, true, nil
}

// LoadCatalog reads a full catalog file, ignoring lines with fewer than 4
// fields.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	cat := NewCatalog()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		tmpl, ok, err := ParseTemplateLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog line %d", lineNo)
		}
		if !ok {
			continue
		}
		cat.Add(tmpl)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "catalog: read failure")
	}
	return cat, nil
}

// SignatureSet is a whitespace-separated classification list of bare
// signatures, one per line, `#` comments and blank lines allowed (the
// returning and RA-saving instruction lists).
type SignatureSet map[uint32]struct{}

// Contains reports whether sig is a member of the set.
func (s SignatureSet) Contains(sig uint32) bool {
	_, ok := s[sig]
	return ok
}

// LoadSignatureSet reads a classification list of bare signatures.
func LoadSignatureSet(r io.Reader) (SignatureSet, error) {
	set := make(SignatureSet)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		sig, err := strconv.ParseUint(fields[0], 16, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "signature list line %d", lineNo)
		}
		set[uint32(sig)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "signature list: read failure")
	}
	return set, nil
}

// SignatureIndex is a whitespace-separated classification list of
// `signature_hex jump_arg_index` pairs (the conditional, unconditional,
// generic jump, and callback lists).
type SignatureIndex map[uint32]int

// ArgIndex returns the documented argument index for sig, if classified.
func (s SignatureIndex) ArgIndex(sig uint32) (int, bool) {
	idx, ok := s[sig]
	return idx, ok
}

// LoadSignatureIndex reads a classification list of signature/arg-index pairs.
func LoadSignatureIndex(r io.Reader) (SignatureIndex, error) {
	set := make(SignatureIndex)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("signature/index list line %d: expected 2 fields, got %d", lineNo, len(fields))
		}
		sig, err := strconv.ParseUint(fields[0], 16, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "signature/index list line %d", lineNo)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "signature/index list line %d", lineNo)
		}
		set[uint32(sig)] = idx
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "signature/index list: read failure")
	}
	return set, nil
}

// ImportantSignatures is the fixed, ordered list of signature roles the
// Block Partitioner and Edge Resolver key off of.
type ImportantSignatures struct {
	CmdEnd         uint32
	CmdJmp         uint32
	CmdCall        uint32
	CmdInxJmp      uint32
	CmdStkDec      uint32
	CmdStkClr      uint32
	CmdSetLabelID  uint32
	CmdCallLabelID uint32
	CmdJmpLabelID  uint32
	CmdCallLabel   uint32
	CmdJmpLabel    uint32
	DoSelect       uint32
	DoSelectCursor uint32
}

// importantNames is the fixed role order of the important-signatures list.
var importantNames = []string{
	"cmd_end", "cmd_jmp", "cmd_call", "cmd_inxJmp", "cmd_stkDec", "cmd_stkClr",
	"cmd_setLabelId", "cmd_callLabelId", "cmd_jmpLabelId", "cmd_callLabel",
	"cmd_jmpLabel", "doSelect", "doSelectCursor",
}

// LoadImportantSignatures reads the ordered important-signature list:
// one signature_hex per line, in the fixed documented order.
func LoadImportantSignatures(r io.Reader) (*ImportantSignatures, error) {
	scanner := bufio.NewScanner(r)
	var sigs []uint32
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseUint(line, 16, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "important signatures: bad value %q", line)
		}
		sigs = append(sigs, uint32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "important signatures: read failure")
	}
	if len(sigs) != len(importantNames) {
		return nil, errors.Errorf("important signatures: expected %d entries, got %d", len(importantNames), len(sigs))
	}
	return &ImportantSignatures{
		CmdEnd: sigs[0], CmdJmp: sigs[1], CmdCall: sigs[2], CmdInxJmp: sigs[3],
		CmdStkDec: sigs[4], CmdStkClr: sigs[5], CmdSetLabelID: sigs[6],
		CmdCallLabelID: sigs[7], CmdJmpLabelID: sigs[8], CmdCallLabel: sigs[9],
		CmdJmpLabel: sigs[10], DoSelect: sigs[11], DoSelectCursor: sigs[12],
	}, nil
}
