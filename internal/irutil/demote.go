package irutil

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// entryBlock returns the entry block of f (f.Blocks[0]), used as
// the insertion point for every stack slot this package allocates — mem2reg
// in reverse, the same place a real frontend would allocate locals.
func entryBlock(f *ir.Func) *ir.Block {
	return f.Blocks[0]
}

// prependInst inserts inst at the very front of b, after any existing PHI
// nodes (so PHI-prefix-contiguity, an invariant spec_full.md §3 calls out,
// survives insertion).
func prependInst(b *ir.Block, inst ir.Instruction) {
	i := 0
	for i < len(b.Insts) {
		if _, ok := b.Insts[i].(*ir.InstPhi); !ok {
			break
		}
		i++
	}
	b.Insts = append(b.Insts[:i:i], append([]ir.Instruction{inst}, b.Insts[i:]...)...)
}

// insertBefore inserts inst immediately before target within b.
func insertBefore(b *ir.Block, target ir.Instruction, inst ir.Instruction) {
	for i, cur := range b.Insts {
		if cur == target {
			b.Insts = append(b.Insts[:i:i], append([]ir.Instruction{inst}, b.Insts[i:]...)...)
			return
		}
	}
	b.Insts = append(b.Insts, inst)
}

// DemotePHIs rewrites every PHI instruction in f into a stack slot plus a
// store in each predecessor and a load at the top of the PHI's block,
// exactly the "demote all PHIs to stack-resident loads/stores" step every
// structural pass (flattening, virtualization's legalize step) depends on
// (spec_full.md §4.2 step 1, §4.12.2 step 1).
func DemotePHIs(f *ir.Func) bool {
	entry := entryBlock(f)
	changed := false

	for _, b := range f.Blocks {
		var phis []*ir.InstPhi
		for _, inst := range b.Insts {
			if phi, ok := inst.(*ir.InstPhi); ok {
				phis = append(phis, phi)
			} else {
				break
			}
		}
		if len(phis) == 0 {
			continue
		}

		for n, phi := range phis {
			slot := entry.NewAlloca(phi.Typ)
			slot.SetName(fmt.Sprintf("%s.phi.slot.%d", b.LocalIdent.Name(), n))

			for _, inc := range phi.Incs {
				pred := inc.Pred
				store := ir.NewStore(inc.X, slot)
				insertBeforeTerm(pred, store)
			}

			load := ir.NewLoad(phi.Typ, slot)
			ReplaceAllUsesInFunc(f, phi, load)
			prependInst(b, load)
			changed = true
		}

		b.Insts = b.Insts[len(phis):]
	}
	return changed
}

// insertBeforeTerm appends inst to the end of b's instruction list, i.e.
// immediately before its terminator (terminators are stored separately from
// Insts in llir/llvm, so "before the terminator" is simply "at the end").
func insertBeforeTerm(b *ir.Block, inst ir.Instruction) {
	b.Insts = append(b.Insts, inst)
}

// DemoteCrossBlockValues finds every instruction result used outside its
// defining block and gives it a stack slot, so that after this pass no
// register crosses a block boundary — the invariant the virtualization
// compiler's legalize step and the flattening pass both require before they
// restructure control flow (spec_full.md §4.2 step 9, §4.12.2 step 1).
func DemoteCrossBlockValues(f *ir.Func) bool {
	entry := entryBlock(f)
	changed := false

	defBlock := make(map[value.Value]*ir.Block)
	var defined []value.Value
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if v, ok := inst.(value.Value); ok {
				if !hasVoidResult(inst) {
					defBlock[v] = b
					defined = append(defined, v)
				}
			}
		}
	}

	for _, v := range defined {
		def := defBlock[v]
		usedElsewhere := false
		for _, b := range f.Blocks {
			for _, inst := range b.Insts {
				if inst.(ir.Instruction) == v {
					continue
				}
				for _, op := range Operands(inst) {
					if op == v && b != def {
						usedElsewhere = true
					}
				}
			}
			if b.Term != nil && termUses(b.Term, v) && b != def {
				usedElsewhere = true
			}
		}
		if !usedElsewhere {
			continue
		}

		slot := entry.NewAlloca(v.Type())
		store := ir.NewStore(v, slot)
		insertAfter(def, v.(ir.Instruction), store)

		for _, b := range f.Blocks {
			if b == def {
				continue
			}
			needsLoad := false
			for _, inst := range b.Insts {
				for _, op := range Operands(inst) {
					if op == v {
						needsLoad = true
					}
				}
			}
			if b.Term != nil && termUses(b.Term, v) {
				needsLoad = true
			}
			if !needsLoad {
				continue
			}
			load := ir.NewLoad(v.Type(), slot)
			prependInst(b, load)
			for _, inst := range b.Insts {
				if inst == load {
					continue
				}
				ReplaceOperand(inst, v, load)
			}
			if b.Term != nil {
				ReplaceTermOperand(b.Term, v, load)
			}
		}
		changed = true
	}
	return changed
}

func insertAfter(b *ir.Block, target ir.Instruction, inst ir.Instruction) {
	for i, cur := range b.Insts {
		if cur == target {
			rest := append([]ir.Instruction{inst}, b.Insts[i+1:]...)
			b.Insts = append(b.Insts[:i+1:i+1], rest...)
			return
		}
	}
	b.Insts = append(b.Insts, inst)
}

func hasVoidResult(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.InstStore:
		return true
	default:
		return false
	}
}

func termUses(term ir.Terminator, v value.Value) bool {
	switch t := term.(type) {
	case *ir.TermRet:
		return t.X == v
	case *ir.TermCondBr:
		return t.Cond == v
	case *ir.TermSwitch:
		return t.X == v
	case *ir.TermIndirectBr:
		return t.Addr == v
	}
	return false
}
