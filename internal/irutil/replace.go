package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// ReplaceOperand rewrites every occurrence of old with new among inst's
// operands, returning whether anything changed. llir/llvm, unlike the
// abstract IR layer spec_full.md §6 assumes, exposes operands as typed
// struct fields rather than a generic accessor, so this switches on the
// concrete instruction kinds the passes in this module actually emit.
func ReplaceOperand(inst ir.Instruction, old, new value.Value) bool {
	changed := false
	replace := func(v *value.Value) {
		if *v == old {
			*v = new
			changed = true
		}
	}

	switch i := inst.(type) {
	case *ir.InstAdd:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstSub:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstMul:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstUDiv:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstSDiv:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstURem:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstSRem:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstAnd:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstOr:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstXor:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstShl:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstLShr:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstAShr:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstICmp:
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstLoad:
		replace(&i.Src)
	case *ir.InstStore:
		replace(&i.Src)
		replace(&i.Dst)
	case *ir.InstGetElementPtr:
		replace(&i.Src)
		for idx := range i.Indices {
			if named, ok := i.Indices[idx].(value.Value); ok && named == old {
				i.Indices[idx] = new
				changed = true
			}
		}
	case *ir.InstZExt:
		replace(&i.From)
	case *ir.InstSExt:
		replace(&i.From)
	case *ir.InstTrunc:
		replace(&i.From)
	case *ir.InstPtrToInt:
		replace(&i.From)
	case *ir.InstIntToPtr:
		replace(&i.From)
	case *ir.InstBitCast:
		replace(&i.From)
	case *ir.InstSelect:
		replace(&i.Cond)
		replace(&i.X)
		replace(&i.Y)
	case *ir.InstCall:
		if named, ok := i.Callee.(value.Value); ok && named == old {
			i.Callee = new
			changed = true
		}
		for idx := range i.Args {
			if i.Args[idx] == old {
				i.Args[idx] = new
				changed = true
			}
		}
	case *ir.InstPhi:
		for _, inc := range i.Incs {
			if inc.X == old {
				inc.X = new
				changed = true
			}
		}
	}
	return changed
}

// ReplaceTermOperand is ReplaceOperand's counterpart for terminators.
func ReplaceTermOperand(term ir.Terminator, old, new value.Value) bool {
	changed := false
	switch t := term.(type) {
	case *ir.TermRet:
		if t.X == old {
			t.X = new
			changed = true
		}
	case *ir.TermCondBr:
		if t.Cond == old {
			t.Cond = new
			changed = true
		}
	case *ir.TermSwitch:
		if t.X == old {
			t.X = new
			changed = true
		}
	case *ir.TermIndirectBr:
		if t.Addr == old {
			t.Addr = new
			changed = true
		}
	}
	return changed
}

// ReplaceAllUsesInFunc replaces every use of old with new across every
// instruction and terminator in f, the function-scoped version of the IR
// layer's documented "replace-all-uses-with" primitive (spec_full.md §6).
func ReplaceAllUsesInFunc(f *ir.Func, old, new value.Value) {
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			ReplaceOperand(inst, old, new)
		}
		if b.Term != nil {
			ReplaceTermOperand(b.Term, old, new)
		}
	}
}

// Operands returns the value operands of inst in a fixed but instruction-
// specific order — used by dead-code elimination and by the verifier to
// discover what a given instruction uses.
func Operands(inst ir.Instruction) []value.Value {
	var ops []value.Value
	add := func(v value.Value) {
		if v != nil {
			ops = append(ops, v)
		}
	}
	switch i := inst.(type) {
	case *ir.InstAdd:
		add(i.X)
		add(i.Y)
	case *ir.InstSub:
		add(i.X)
		add(i.Y)
	case *ir.InstMul:
		add(i.X)
		add(i.Y)
	case *ir.InstAnd:
		add(i.X)
		add(i.Y)
	case *ir.InstOr:
		add(i.X)
		add(i.Y)
	case *ir.InstXor:
		add(i.X)
		add(i.Y)
	case *ir.InstICmp:
		add(i.X)
		add(i.Y)
	case *ir.InstLoad:
		add(i.Src)
	case *ir.InstStore:
		add(i.Src)
		add(i.Dst)
	case *ir.InstCall:
		for _, a := range i.Args {
			add(a)
		}
	case *ir.InstPhi:
		for _, inc := range i.Incs {
			add(inc.X)
		}
	case *ir.InstGetElementPtr:
		add(i.Src)
	}
	return ops
}
