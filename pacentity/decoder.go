package pacentity

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Nemoumbra/pacdisasm/pacbytes"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// DefaultMayBeInstruction is the heuristic used to classify an unrecognized
// 4-byte big-endian candidate as a plausible unknown instruction: low byte
// <= 0x24 and second-lowest byte nonzero.
func DefaultMayBeInstruction(signature uint32) bool {
	if signature&0xFF > 0x24 {
		return false
	}
	return (signature>>8)&0xFF != 0
}

// Options configures the Entity Decoder.
type Options struct {
	Catalog *pacinstr.Catalog

	// FindUnknownInstructions enables the heuristic fallback when a
	// candidate signature has no catalog entry. The zero value (false)
	// disables it.
	FindUnknownInstructions bool

	// JumpTableNextToSwitch enables consuming a Switch-case table entity
	// immediately following a cmd_inxJmp instruction. The zero value
	// (false) disables it.
	JumpTableNextToSwitch bool

	// CmdInxJmpSignature is the signature that triggers switch-table
	// consumption; zero disables the feature even if JumpTableNextToSwitch
	// is set.
	CmdInxJmpSignature uint32

	// Heuristic overrides DefaultMayBeInstruction if non-nil.
	Heuristic func(uint32) bool

	Logger logrus.FieldLogger
}

func (o *Options) heuristic() func(uint32) bool {
	if o.Heuristic != nil {
		return o.Heuristic
	}
	return DefaultMayBeInstruction
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type decoder struct {
	opts Options
	file *File

	curOffset          int
	lastOffset         int
	lastWasInstruction bool
	curSignature       uint32

	log logrus.FieldLogger
}

// Decode scans raw top-to-bottom and returns the resulting File.
func Decode(raw []byte, name string, opts Options) (*File, error) {
	if len(raw) == 0 {
		return nil, errors.New("pacentity: input is empty")
	}
	d := &decoder{
		opts: opts,
		file: NewFile(name, raw),
		log:  opts.logger(),
	}
	if err := d.parse(); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", name)
	}
	return d.file, nil
}

// findNextInstruction advances curOffset to the next candidate instruction
// start (catalog hit or heuristic match). Returns false if the remaining
// bytes cannot contain one.
func (d *decoder) findNextInstruction() bool {
	raw := d.file.Raw
	size := d.file.Size()
	for {
		for d.curOffset < size && raw[d.curOffset] != 0x25 {
			d.curOffset++
		}
		if d.curOffset+3 >= size {
			return false
		}
		sig, err := pacbytes.ReadUint32BE(raw, d.curOffset)
		if err != nil {
			return false
		}
		if _, ok := d.opts.Catalog.Lookup(sig); ok {
			return true
		}
		if !d.opts.FindUnknownInstructions {
			d.curOffset++
			continue
		}
		if d.opts.heuristic()(sig) {
			return true
		}
		d.curOffset++
	}
}

func isMessageTable(raw []byte) bool {
	if len(raw)%4 != 0 {
		return false
	}
	for i := 0; i*4 < len(raw); i++ {
		v, err := pacbytes.ReadUint32LE(raw, i*4)
		if err != nil || int(v) != i {
			return false
		}
	}
	return true
}

// isShortZeroRun reports a zero-only gap of less than two machine words.
// A single zero word also satisfies the message-table predicate (word 0 at
// index 0), but alignment filler is the right reading for it: a one-entry
// message table carries no information, and the zero word after a trailing
// instruction is emitted by the assembler as padding.
func isShortZeroRun(raw []byte) bool {
	if len(raw) >= 8 {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

func isLeftOutArgs(raw []byte) bool {
	if len(raw)%8 != 0 {
		return false
	}
	wordCount := len(raw) / 4
	for i := 0; i < wordCount; i += 2 {
		v, err := pacbytes.ReadUint32LE(raw, 4*i)
		if err != nil {
			return false
		}
		if v > 64 || (v != 0 && v&(v-1) != 0) {
			return false
		}
	}
	return true
}

// processRawData classifies the gap [lastOffset, curOffset) as a message
// table, a left-out-arguments run, or raw memory, and appends the resulting
// entity.
func (d *decoder) processRawData() {
	if d.curOffset == d.lastOffset {
		return
	}
	raw := d.file.Raw[d.lastOffset:d.curOffset]

	var e *Entity
	switch {
	case isShortZeroRun(raw):
		e = &Entity{
			Kind: KindPadding, Offset: d.lastOffset, Size: len(raw), Raw: raw,
			Padding: &PaddingData{MachineWordLength: 4, ZeroesOnly: true},
		}
	case isMessageTable(raw):
		e = &Entity{
			Kind: KindMessageTable, Offset: d.lastOffset, Size: len(raw), Raw: raw,
			MessageTable: &MessageTableData{MessageCount: len(raw) / 4},
		}
	case d.lastWasInstruction && isLeftOutArgs(raw):
		lastInstrOffset := d.file.InstructionOffsets[len(d.file.InstructionOffsets)-1]
		lastInstr := d.file.byOffset[lastInstrOffset].Instr
		e = &Entity{
			Kind: KindLeftOutArgs, Offset: d.lastOffset, Size: len(raw), Raw: raw,
			LeftOutArgs: &LeftOutArgsData{
				ParentSignature: lastInstr.Signature(),
				ParentName:      lastInstr.Name(),
				ParentStart:     lastInstrOffset,
			},
		}
	default:
		shiftJIS, decoded := pacbytes.TryDecodeShiftJIS(raw)
		if !decoded {
			d.log.WithField("offset", d.lastOffset).Debug("raw data: shift-jis decode failed, keeping hex only")
		}
		e = &Entity{
			Kind: KindRawData, Offset: d.lastOffset, Size: len(raw), Raw: raw,
			RawData: &RawDataData{ShiftJIS: shiftJIS, Decoded: decoded},
		}
	}
	d.file.addEntity(e)
	d.lastOffset = d.curOffset
	d.lastWasInstruction = false
}

func (d *decoder) processInstruction() error {
	tmpl, _ := d.opts.Catalog.Lookup(d.curSignature)
	instr, err := pacinstr.Decode(d.file.Raw, d.curOffset, tmpl)
	if err != nil {
		return errors.Wrapf(err, "instruction at 0x%06X", d.curOffset)
	}
	e := &Entity{Kind: KindInstruction, Offset: d.curOffset, Size: instr.Size, Raw: instr.Raw, Instr: instr}
	d.file.addInstruction(e)

	d.curOffset += instr.Size
	d.lastOffset += instr.Size

	if d.opts.JumpTableNextToSwitch && d.opts.CmdInxJmpSignature != 0 && d.curSignature == d.opts.CmdInxJmpSignature {
		d.findNextInstruction()
		d.processAddressTable()
	}

	if n := len(tmpl.Params); n > 0 && tmpl.Params[n-1].TypeTag == "string" {
		d.fixAlignment()
	}

	d.lastWasInstruction = true
	return nil
}

func (d *decoder) processUnknownInstruction() {
	d.curOffset += 4
	found := d.findNextInstruction()
	if !found {
		d.curOffset = d.file.Size()
	}
	raw := d.file.Raw[d.lastOffset:d.curOffset]
	e := &Entity{
		Kind: KindUnknownInstruction, Offset: d.lastOffset, Size: len(raw), Raw: raw,
		Unknown: &UnknownInstructionData{Signature: d.curSignature},
	}
	d.file.addEntity(e)
	d.file.UnknownInstructionsCount++
	d.lastOffset = d.curOffset
}

func (d *decoder) fixAlignment() {
	if d.curOffset%4 == 0 {
		return
	}
	padLen := 4 - (d.curOffset % 4)
	raw := d.file.Raw[d.curOffset : d.curOffset+padLen]
	zeroesOnly := true
	for _, b := range raw {
		if b != 0 {
			zeroesOnly = false
			break
		}
	}
	e := &Entity{
		Kind: KindPadding, Offset: d.curOffset, Size: padLen, Raw: raw,
		Padding: &PaddingData{MachineWordLength: 4, ZeroesOnly: zeroesOnly},
	}
	d.file.addEntity(e)
	d.curOffset += padLen
	d.lastOffset += padLen
}

func (d *decoder) processAddressTable() {
	if d.curOffset == d.lastOffset {
		return
	}
	raw := d.file.Raw[d.lastOffset:d.curOffset]
	var targets []uint32
	for off := 0; off+4 <= len(raw); off += 4 {
		v, err := pacbytes.ReadUint32LE(raw, off)
		if err != nil {
			break
		}
		targets = append(targets, v)
	}
	e := &Entity{
		Kind: KindSwitchCaseTable, Offset: d.lastOffset, Size: len(raw), Raw: raw,
		SwitchCaseTable: &SwitchCaseTableData{Targets: targets},
	}
	d.file.addEntity(e)
	d.lastOffset = d.curOffset
}

func (d *decoder) parse() error {
	for d.curOffset < d.file.Size() {
		found := d.findNextInstruction()
		if !found {
			d.curOffset = d.file.Size()
			d.processRawData()
			break
		}
		d.processRawData()

		sig, err := pacbytes.ReadUint32BE(d.file.Raw, d.curOffset)
		if err != nil {
			return err
		}
		d.curSignature = sig

		if _, ok := d.opts.Catalog.Lookup(sig); ok {
			if err := d.processInstruction(); err != nil {
				return err
			}
		} else {
			if !d.opts.FindUnknownInstructions {
				// findNextInstruction only returns true here when the
				// signature is in the catalog, so this branch is
				// unreachable with discovery disabled.
				continue
			}
			d.processUnknownInstruction()
		}
	}
	return nil
}
