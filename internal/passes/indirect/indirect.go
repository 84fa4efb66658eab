// Package indirect implements spec_full.md §4.4: indirect branch and
// indirect call rewriting. Both variants replace a direct control-transfer
// instruction with an equivalent one routed through a runtime-computed
// pointer, grounded on the teacher's internal/ir/optimizations.go pattern
// of rewriting one instruction at a time inside a block while leaving the
// rest of the function untouched.
package indirect

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const (
	BranchName = "IndirectBranch"
	CallName   = "IndirectCall"
)

func init() {
	passframework.Register(BranchInfo(), func() passframework.AnyPass { return NewBranchPass() })
	passframework.Register(CallInfo(), func() passframework.AnyPass { return NewCallPass() })
}

func BranchInfo() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         BranchName,
		Description:  "[Pluto] rewrites direct branches through a stack-resident block-address jump table",
		IsModulePass: false,
	}
}

func CallInfo() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         CallName,
		Description:  "[Pluto] rewrites direct calls through a masked function-pointer load",
		IsModulePass: false,
	}
}

// --- Indirect Branch ---------------------------------------------------

type BranchPass struct{}

func NewBranchPass() *BranchPass { return &BranchPass{} }

func (p *BranchPass) Info() passframework.PassInfo { return BranchInfo() }

func (p *BranchPass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	if len(f.Blocks) == 0 {
		return false, nil
	}
	entry := f.Blocks[0]
	changed := false

	blocks := append([]*ir.Block(nil), f.Blocks...)
	for _, blk := range blocks {
		switch term := blk.Term.(type) {
		case *ir.TermBr:
			rewriteUnconditional(f, entry, blk, term, ctx)
			changed = true
		case *ir.TermCondBr:
			rewriteConditional(f, entry, blk, term, ctx)
			changed = true
		}
	}
	return changed, nil
}

// jumpTable allocates a fresh 2-slot [2 x ptr] stack table at the entry
// block's head, pre-populated with the two block-address constants, and
// returns its alloca.
func jumpTable(entry *ir.Block, targets [2]*ir.Block) *ir.InstAlloca {
	ptrType := types.NewPointer(types.I8)
	arrType := types.NewArray(2, ptrType)
	alloc := ir.NewAlloca(arrType)
	entry.Insts = append([]ir.Instruction{alloc}, entry.Insts...)

	zero := constant.NewInt(types.I32, 0)
	for i, t := range targets {
		idx := constant.NewInt(types.I32, int64(i))
		gep := ir.NewGetElementPtr(arrType, alloc, zero, idx)
		entry.Insts = append(entry.Insts, gep)
		store := ir.NewStore(constant.NewBlockAddress(entry.Parent, t), gep)
		entry.Insts = append(entry.Insts, store)
	}
	return alloc
}

func rewriteUnconditional(f *ir.Func, entry, blk *ir.Block, term *ir.TermBr, ctx *passframework.Context) {
	target := term.Target
	table := jumpTable(entry, [2]*ir.Block{target, target})
	idx := constant.NewInt(types.I32, 0)
	zero := constant.NewInt(types.I32, 0)
	gep := ir.NewGetElementPtr(table.ElemType, table, zero, idx)
	blk.Insts = append(blk.Insts, gep)
	load := ir.NewLoad(types.NewPointer(types.I8), gep)
	blk.Insts = append(blk.Insts, load)
	blk.Term = ir.NewIndirectBr(load, target)
}

func rewriteConditional(f *ir.Func, entry, blk *ir.Block, term *ir.TermCondBr, ctx *passframework.Context) {
	trueT, falseT := term.TargetTrue, term.TargetFalse
	table := jumpTable(entry, [2]*ir.Block{trueT, falseT})

	// obfuscated index: index = !cond. (~a & r) | (a & ~r) for a random bit
	// r equals a ^ r; XORing that with ~r leaves !a for either value of r.
	condExt := zextTo32(blk, term.Cond)
	r := constant.NewInt(types.I32, int64(ctx.Rand.Intn(2)))
	notA := ir.NewXor(condExt, constant.NewInt(types.I32, 1))
	blk.Insts = append(blk.Insts, notA)
	notR := ir.NewXor(r, constant.NewInt(types.I32, 1))
	blk.Insts = append(blk.Insts, notR)
	left := ir.NewAnd(notA, r)
	blk.Insts = append(blk.Insts, left)
	right := ir.NewAnd(condExt, notR)
	blk.Insts = append(blk.Insts, right)
	aXorR := ir.NewOr(left, right)
	blk.Insts = append(blk.Insts, aXorR)
	idx := ir.NewXor(aXorR, notR)
	blk.Insts = append(blk.Insts, idx)

	zero := constant.NewInt(types.I32, 0)
	gep := ir.NewGetElementPtr(table.ElemType, table, zero, idx)
	blk.Insts = append(blk.Insts, gep)
	load := ir.NewLoad(types.NewPointer(types.I8), gep)
	blk.Insts = append(blk.Insts, load)
	blk.Term = ir.NewIndirectBr(load, trueT, falseT)
}

func zextTo32(blk *ir.Block, v value.Value) value.Value {
	if it, ok := v.Type().(*types.IntType); ok && it.BitSize == 32 {
		return v
	}
	ext := ir.NewZExt(v, types.I32)
	blk.Insts = append(blk.Insts, ext)
	return ext
}

// --- Indirect Call ------------------------------------------------------

type CallPass struct{}

func NewCallPass() *CallPass { return &CallPass{} }

func (p *CallPass) Info() passframework.PassInfo { return CallInfo() }

// RunOnFunction implements the per-site masked variant of spec_full.md
// §4.4: one private global function-pointer slot per call site, loaded,
// masked through an add/sub round-trip, and called through.
func (p *CallPass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	changed := false
	for _, blk := range f.Blocks {
		insts := append([]ir.Instruction(nil), blk.Insts...)
		for _, inst := range insts {
			call, ok := inst.(*ir.InstCall)
			if !ok {
				continue
			}
			callee, ok := call.Callee.(*ir.Func)
			if !ok || len(callee.Blocks) == 0 {
				continue
			}
			maskCallSite(f.Parent, blk, call, callee, ctx)
			changed = true
		}
	}
	return changed, nil
}

func maskCallSite(m *ir.Module, blk *ir.Block, call *ir.InstCall, callee *ir.Func, ctx *passframework.Context) {
	g := m.NewGlobalDef("__polaris_icall_"+callee.GlobalName+"_"+uniqueSuffix(ctx), callee)
	g.Linkage = enum.LinkagePrivate
	g.Immutable = false

	pos := indexOf(blk.Insts, call)
	mask := constant.NewInt(types.I64, int64(uint32(ctx.Rand.Uint32())))

	load := ir.NewLoad(callee.Type(), g)
	toInt := ir.NewPtrToInt(load, types.I64)
	added := ir.NewAdd(toInt, mask)
	subbed := ir.NewSub(added, mask)
	toPtr := ir.NewIntToPtr(subbed, callee.Type())

	newCall := ir.NewCall(toPtr, call.Args...)
	newCall.CallConv = call.CallConv

	insertBefore(blk, pos, load, toInt, added, subbed, toPtr)
	replaceInst(blk, call, newCall)
	irutil.ReplaceAllUsesInFunc(blk.Parent, call, newCall)
}

func uniqueSuffix(ctx *passframework.Context) string {
	return itoa(int(ctx.Rand.Uint32() & 0xffff))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func indexOf(insts []ir.Instruction, target ir.Instruction) int {
	for i, in := range insts {
		if in == target {
			return i
		}
	}
	return -1
}

func insertBefore(blk *ir.Block, pos int, newInsts ...ir.Instruction) {
	head := append([]ir.Instruction(nil), blk.Insts[:pos]...)
	head = append(head, newInsts...)
	blk.Insts = append(head, blk.Insts[pos:]...)
}

func replaceInst(blk *ir.Block, old, new ir.Instruction) {
	for i, in := range blk.Insts {
		if in == old {
			blk.Insts[i] = new
			return
		}
	}
}
