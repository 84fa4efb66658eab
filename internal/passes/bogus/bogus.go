// Package bogus implements bogus control flow, spec_full.md §4.3: each
// eligible block is split into head/body/tail, body is cloned, and an
// opaque always-true predicate wires head to branch between the real body
// and its clone while the clone always falls back into the real body.
// Grounded on the teacher's internal/ir/optimizations.go block-rewrite
// shape and irutil's operand-replacement helpers.
package bogus

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const Name = "BogusControlFlow"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] wires opaque-predicate bogus branches around cloned block bodies",
		IsModulePass: false,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

func (p *Pass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	changed := false
	original := append([]*ir.Block(nil), f.Blocks...)

	for _, blk := range original {
		if _, ok := blk.Term.(*ir.TermInvoke); ok {
			continue
		}
		firstNonPHI := -1
		for i, inst := range blk.Insts {
			if _, ok := inst.(*ir.InstPhi); !ok {
				firstNonPHI = i
				break
			}
		}
		if firstNonPHI < 0 {
			continue
		}

		splitBogusBlock(f, blk, firstNonPHI, ctx)
		changed = true
	}
	return changed, nil
}

// splitBogusBlock implements the head|body|tail split and clone-wiring
// spec_full.md §4.3 describes.
func splitBogusBlock(f *ir.Func, blk *ir.Block, bodyStart int, ctx *passframework.Context) {
	body := f.NewBlock("")
	tail := f.NewBlock("")
	clone := f.NewBlock("")

	body.Insts = append([]ir.Instruction(nil), blk.Insts[bodyStart:]...)
	tail.Term = blk.Term

	blk.Insts = blk.Insts[:bodyStart]
	blk.Term = nil

	remap := make(map[value.Value]value.Value, len(body.Insts))
	clone.Insts = make([]ir.Instruction, 0, len(body.Insts))
	for _, inst := range body.Insts {
		cloned := cloneInst(inst)
		clone.Insts = append(clone.Insts, cloned)
		remap[inst.(value.Value)] = cloned.(value.Value)
	}
	for _, inst := range clone.Insts {
		for old, new := range remap {
			irutil.ReplaceOperand(inst, old, new)
		}
	}

	p1 := opaquePredicate(f, blk, ctx)
	blk.Term = ir.NewCondBr(p1, body, clone)

	p2 := opaquePredicate(f, body, ctx)
	body.Term = ir.NewCondBr(p2, tail, clone)

	clone.Term = ir.NewBr(body)

	// clone is a new predecessor of body; any PHI that body might receive
	// downstream (none at construction time, since bodyStart skipped past
	// the original PHI prefix) would need an undef incoming from clone —
	// recorded here for completeness though this split never introduces one.
}

// opaquePredicate builds `y < 10 OR (x*(x+1)) mod 2 == 0`, a condition that
// is always true (spec_full.md §4.3's worked example), seeded from two
// fresh private globals so different call sites don't share state.
func opaquePredicate(f *ir.Func, blk *ir.Block, ctx *passframework.Context) value.Value {
	i32 := types.I32
	xGlobal := f.Parent.NewGlobalDef(fmt.Sprintf(".bcf.x.%d", ctx.Rand.Uint32()), constant.NewInt(i32, int64(ctx.Rand.Uint32()&0x7fffffff)))
	xGlobal.Linkage = enum.LinkagePrivate
	yGlobal := f.Parent.NewGlobalDef(fmt.Sprintf(".bcf.y.%d", ctx.Rand.Uint32()), constant.NewInt(i32, int64(ctx.Rand.Intn(5))))
	yGlobal.Linkage = enum.LinkagePrivate
	xVal := blk.NewLoad(i32, xGlobal)
	yVal := blk.NewLoad(i32, yGlobal)

	ten := constant.NewInt(i32, 10)
	cmp1 := blk.NewICmp(enum.IPredSLT, yVal, ten)

	one := constant.NewInt(i32, 1)
	two := constant.NewInt(i32, 2)
	xPlus1 := blk.NewAdd(xVal, one)
	prod := blk.NewMul(xVal, xPlus1)
	rem := blk.NewSRem(prod, two)
	cmp2 := blk.NewICmp(enum.IPredEQ, rem, constant.NewInt(i32, 0))

	return blk.NewOr(cmp1, cmp2)
}

func cloneInst(inst ir.Instruction) ir.Instruction {
	switch i := inst.(type) {
	case *ir.InstAdd:
		c := *i
		return &c
	case *ir.InstSub:
		c := *i
		return &c
	case *ir.InstMul:
		c := *i
		return &c
	case *ir.InstAnd:
		c := *i
		return &c
	case *ir.InstOr:
		c := *i
		return &c
	case *ir.InstXor:
		c := *i
		return &c
	case *ir.InstICmp:
		c := *i
		return &c
	case *ir.InstLoad:
		c := *i
		return &c
	case *ir.InstStore:
		c := *i
		return &c
	case *ir.InstGetElementPtr:
		c := *i
		return &c
	case *ir.InstCall:
		c := *i
		return &c
	case *ir.InstZExt:
		c := *i
		return &c
	case *ir.InstSExt:
		c := *i
		return &c
	case *ir.InstTrunc:
		c := *i
		return &c
	case *ir.InstBitCast:
		c := *i
		return &c
	case *ir.InstAlloca:
		c := *i
		return &c
	default:
		return inst
	}
}
