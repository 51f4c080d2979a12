package pacblock

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Nemoumbra/pacdisasm/pacentity"
	"github.com/Nemoumbra/pacdisasm/pacinstr"
)

// gateInfoSignatures are the two documented getGateInfo signatures whose
// presence immediately before an unrecovered runtime jump earns a
// GateInfoHint.
var gateInfoSignatures = map[uint32]struct{}{
	0x2516BE00: {},
	0x2516BD00: {},
}

// GateInfoHint annotates an intermediate runtime jump that could not be
// resolved but was immediately preceded by a getGateInfo call. It does not
// resolve the jump; it is metadata for manual analysis.
type GateInfoHint struct {
	JumpOffset      int
	PrecedingOffset int
	PrecedingSig    uint32
}

// ResolverOptions bundles the classification tables the Edge Resolver
// consults.
type ResolverOptions struct {
	Conditional   pacinstr.SignatureIndex
	Unconditional pacinstr.SignatureIndex
	Callback      pacinstr.SignatureIndex
	Returning     pacinstr.SignatureSet
	SavingRA      pacinstr.SignatureSet
	Important     *pacinstr.ImportantSignatures
	Log           logrus.FieldLogger
}

func (o *ResolverOptions) logger() logrus.FieldLogger {
	if o.Log != nil {
		return o.Log
	}
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func argOffset(a pacinstr.Arg) int { return int(a.Value.Int) }

func sortedOffsets(m map[int]*pacinstr.Instruction) []int {
	offs := make([]int, 0, len(m))
	for off := range m {
		offs = append(offs, off)
	}
	sort.Ints(offs)
	return offs
}

// ResolveEdges runs the edge-resolution passes in their fixed order,
// mutating g in place.
func ResolveEdges(g *Graph, opts ResolverOptions) []GateInfoHint {
	log := opts.logger()
	applyConditionalJumps(g, opts, log)
	applyUnconditionalJumps(g, opts, log)
	applySwitchTables(g, opts, log)
	applyElementaryLabelStudy(g, opts, log)
	applyElementaryRuntimeJump(g, opts, log)
	hints := applyIntermediateRuntimeJump(g, opts, log)
	applyReturns(g, opts, log)
	applyCallbacks(g, opts, log)
	return hints
}

func applyConditionalJumps(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	for sig, argIdx := range opts.Conditional {
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if argIdx >= len(instr.Args) {
				log.WithField("offset", loc).Warn("conditional jump: jump arg missing (cut-off instruction)")
				continue
			}
			t := Transition{SaveAddress: opts.SavingRA.Contains(sig)}
			target := argOffset(instr.Args[argIdx])
			if !g.connectLocationToOffset(loc, target, t) {
				log.WithField("offset", loc).Warn("conditional jump: unrecoverable target")
			}
			if !g.connectLocationToOffset(loc, loc+instr.Size, Transition{Fallthrough: true}) {
				log.WithField("offset", loc).Warn("conditional jump: unrecoverable fallthrough")
			}
		}
	}
}

func applyUnconditionalJumps(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	for sig, argIdx := range opts.Unconditional {
		saveRA := opts.SavingRA.Contains(sig)
		isCall := sig == opts.Important.CmdCall
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if argIdx >= len(instr.Args) {
				log.WithField("offset", loc).Warn("unconditional jump: jump arg missing (cut-off instruction)")
				continue
			}
			target := argOffset(instr.Args[argIdx])
			if !g.connectLocationToOffset(loc, target, Transition{SaveAddress: saveRA}) {
				log.WithField("offset", loc).Warn("unconditional jump: unrecoverable target")
			}
			if isCall {
				if !g.connectLocationToOffset(loc, loc+instr.Size, Transition{Potential: true}) {
					log.WithField("offset", loc).Warn("call: unrecoverable fallthrough")
				}
			}
		}
	}
}

func applySwitchTables(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	sig := opts.Important.CmdInxJmp
	if sig == 0 {
		return
	}
	for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
		instr := g.File.InstructionsBySignature(sig)[loc]
		tableOffset := loc + instr.Size
		ent, ok := g.File.GetEntityByOffset(tableOffset)
		if !ok || ent.Kind != pacentity.KindSwitchCaseTable {
			continue
		}
		for _, target := range ent.SwitchCaseTable.Targets {
			if !g.connectLocationToOffset(loc, int(target), Transition{}) {
				log.WithField("offset", loc).WithField("target", target).Warn("switch-table: unrecoverable branch target")
			}
		}
	}
}

// applyElementaryLabelStudy builds label_id -> set(offset) from
// cmd_setLabelId and connects every cmd_jmpLabelId/cmd_callLabelId with a
// constant label-id argument to every recorded offset for that label.
func applyElementaryLabelStudy(g *Graph, opts ResolverOptions, log logrus.FieldLogger) map[int64][]int {
	labels := make(map[int64][]int)
	setSig := opts.Important.CmdSetLabelID
	if setSig != 0 {
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(setSig)) {
			instr := g.File.InstructionsBySignature(setSig)[loc]
			if len(instr.Args) < 2 {
				continue
			}
			idArg := instr.Args[0]
			offArg := instr.Args[1]
			if idArg.Desc.TypeTag != "uint32_t" {
				continue
			}
			id := idArg.Value.Int
			labels[id] = append(labels[id], argOffset(offArg))
		}
	}

	resolveLabelJumps := func(sig uint32) {
		if sig == 0 {
			return
		}
		saveRA := opts.SavingRA.Contains(sig)
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if len(instr.Args) == 0 {
				continue
			}
			idArg := instr.Args[0]
			if idArg.Desc.TypeTag != "uint32_t" {
				continue
			}
			for _, target := range labels[idArg.Value.Int] {
				if !g.connectLocationToOffset(loc, target, Transition{SaveAddress: saveRA}) {
					log.WithField("offset", loc).Warn("label jump: unrecoverable target")
				}
			}
		}
	}
	resolveLabelJumps(opts.Important.CmdJmpLabelID)
	resolveLabelJumps(opts.Important.CmdCallLabelID)
	return labels
}

func applyElementaryRuntimeJump(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	resolve := func(sig uint32) {
		if sig == 0 || !opts.SavingRA.Contains(sig) {
			return
		}
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if !g.connectLocationToOffset(loc, loc+instr.Size, Transition{Potential: true}) {
				log.WithField("offset", loc).Warn("runtime jump: unrecoverable fallthrough")
			}
		}
	}
	resolve(opts.Important.CmdJmpLabel)
	resolve(opts.Important.CmdCallLabel)
}

// varUse records one instruction's reference to an int-local variable,
// keyed on variable index.
type varUse struct {
	offset int
	instr  *pacinstr.Instruction
}

func buildIntLocalIndex(file *pacentity.File) map[int64][]varUse {
	index := make(map[int64][]varUse)
	for _, instr := range file.Instructions() {
		for _, a := range instr.Args {
			if a.Value.Kind == pacinstr.KindVarRef && a.Value.Class == pacinstr.VarIntLocal {
				index[a.Value.Int] = append(index[a.Value.Int], varUse{offset: instr.Offset, instr: instr})
			}
		}
	}
	return index
}

// used0x1Values collects every 0x1-typed ("one-byte immediate") argument
// value present in instr's argument list.
func used0x1Values(instr *pacinstr.Instruction) []int64 {
	var vals []int64
	for _, a := range instr.Args {
		if a.Value.Kind == pacinstr.KindVarRef && a.Value.Class == pacinstr.VarImmediateByte {
			vals = append(vals, a.Value.Int)
		}
	}
	return vals
}

// applyIntermediateRuntimeJump resolves cmd_jmpLabel/cmd_callLabel
// instructions whose target is carried in an int-local variable, following
// attempt_variable_recovery/intermediate_runtime_jump_study.
func applyIntermediateRuntimeJump(g *Graph, opts ResolverOptions, log logrus.FieldLogger) []GateInfoHint {
	var hints []GateInfoHint
	index := buildIntLocalIndex(g.File)

	resolve := func(sig uint32) {
		if sig == 0 {
			return
		}
		saveRA := opts.SavingRA.Contains(sig)
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if len(instr.Args) == 0 {
				log.WithField("offset", loc).Debug("intermediate runtime jump: no arguments decoded")
				continue
			}
			jumpArg := instr.Args[0]
			if jumpArg.Value.Kind != pacinstr.KindVarRef || jumpArg.Value.Class != pacinstr.VarIntLocal {
				log.WithField("offset", loc).Debug("intermediate runtime jump: target not an int-local variable")
				continue
			}
			varIdx := jumpArg.Value.Int

			var readers []varUse
			for _, use := range index[varIdx] {
				if use.offset == loc {
					continue
				}
				readers = append(readers, use)
			}

			var target int
			recovered := false
			if len(readers) == 1 {
				vals := used0x1Values(readers[0].instr)
				if len(vals) == 1 {
					target = int(vals[0])
					recovered = true
				}
			}

			if recovered {
				if !g.connectLocationToOffset(loc, target, Transition{SaveAddress: saveRA}) {
					log.WithField("offset", loc).Warn("intermediate runtime jump: recovered target unresolvable in CFG")
				}
				continue
			}

			log.WithField("offset", loc).Warn("intermediate runtime jump: could not uniquely recover target variable")
			if prev, ok := g.File.EntityBefore(loc); ok && prev.Kind == pacentity.KindInstruction {
				if _, isGateInfo := gateInfoSignatures[prev.Instr.Signature()]; isGateInfo {
					hints = append(hints, GateInfoHint{
						JumpOffset:      loc,
						PrecedingOffset: prev.Offset,
						PrecedingSig:    prev.Instr.Signature(),
					})
				}
			}
		}
	}
	resolve(opts.Important.CmdJmpLabel)
	resolve(opts.Important.CmdCallLabel)
	return hints
}

func applyReturns(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	for sig := range opts.Returning {
		if sig == opts.Important.DoSelect || sig == opts.Important.DoSelectCursor {
			for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
				instr := g.File.InstructionsBySignature(sig)[loc]
				if len(instr.Args) == 0 {
					log.WithField("offset", loc).Warn("doSelect: target arg missing")
					continue
				}
				target := argOffset(instr.Args[0])
				if _, ok := g.BlockAtStart(target); !ok {
					log.WithField("offset", loc).Warn("doSelect: target is not a block start")
					continue
				}
				if !g.connectLocationToOffset(loc, target, Transition{Special: true}) {
					log.WithField("offset", loc).Warn("doSelect: unrecoverable target")
				}
			}
			continue
		}
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if !g.connectLocationToOffset(loc, loc+instr.Size, Transition{Potential: true}) {
				log.WithField("offset", loc).Warn("return: unrecoverable fallthrough")
			}
		}
	}
}

// isCallbackTargetConstant reports whether the arg carries an
// immediate-constant encoding (variable type 0x1, or a bare integer as
// produced by uint32_t_P and uintX_t params).
func isCallbackTargetConstant(a pacinstr.Arg) bool {
	if a.Value.Kind == pacinstr.KindInt {
		return true
	}
	return a.Value.Kind == pacinstr.KindVarRef && a.Value.Class == pacinstr.VarImmediateByte
}

func applyCallbacks(g *Graph, opts ResolverOptions, log logrus.FieldLogger) {
	for sig, argIdx := range opts.Callback {
		for _, loc := range sortedOffsets(g.File.InstructionsBySignature(sig)) {
			instr := g.File.InstructionsBySignature(sig)[loc]
			if blockID, ok := g.getBlockByOffset(loc); ok {
				if g.connectLocationToOffset(loc, loc+instr.Size, Transition{Fallthrough: true}) {
					g.Blocks[blockID].IsSplit = true
				} else {
					log.WithField("offset", loc).Warn("callback: unrecoverable fallthrough")
				}
			}
			if argIdx >= len(instr.Args) {
				continue
			}
			arg := instr.Args[argIdx]
			if isCallbackTargetConstant(arg) {
				target := argOffset(arg)
				if !g.connectLocationToOffset(loc, target, Transition{Callback: true}) {
					log.WithField("offset", loc).Warn("callback: unrecoverable target")
				}
			}
		}
	}
}
