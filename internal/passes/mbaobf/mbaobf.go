// Package mbaobf implements mixed boolean-arithmetic obfuscation,
// spec_full.md §4.7: a 2-operand integer binop is replaced by a linear
// combination of the 15 two-input Boolean truth tables whose coefficients
// sum to zero over {0,1}^2 except for one coefficient adjusted to absorb
// the original operation, optionally wrapped in an invertible univariate
// polynomial for narrow types. Grounded on internal/mba's coefficient
// generator and polynomial-pair builder.
package mbaobf

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/mba"
	"polaris/internal/passframework"
)

const Name = "MBAObfuscation"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] replaces binops with mixed boolean-arithmetic expressions over the 15 two-input truth tables",
		IsModulePass: false,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

// Table index meanings, matching mba.TruthTables' declared order exactly
// (spec_full.md §4.7: "for Add set c[x]+=1, c[y]+=1").
const (
	idxAnd  = 0  // x & y
	idxX    = 2  // x
	idxY    = 4  // y
	idxXor  = 5  // x ^ y
	idxOr   = 6  // x | y
	idxNand = mba.NegatedAnd // ~(x & y), index 13
)

func (p *Pass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	changed := false
	for _, blk := range f.Blocks {
		insts := append([]ir.Instruction(nil), blk.Insts...)
		for _, inst := range insts {
			repl := rewrite(blk, inst, ctx)
			if repl == nil {
				continue
			}
			irutil.ReplaceAllUsesInFunc(f, inst.(value.Value), repl)
			changed = true
		}
	}
	if substituteConstants(f, f.Parent, ctx) {
		changed = true
	}
	return changed, nil
}

// substituteConstants folds every integer-constant operand of a Store or
// ICmp into a dummy-global-backed linear MBA expression whose coefficient
// 14 (the all-ones truth table) absorbs the literal (spec_full.md §4.7's
// closing paragraph; reference's _substitute_constant: "coeffs[14] -=
// const_val").
func substituteConstants(f *ir.Func, m *ir.Module, ctx *passframework.Context) bool {
	changed := false
	for _, blk := range f.Blocks {
		insts := append([]ir.Instruction(nil), blk.Insts...)
		for _, inst := range insts {
			switch ins := inst.(type) {
			case *ir.InstStore:
				if v, ok := substituteConstOperand(blk, m, ins, ins.Src, ctx); ok {
					ins.Src = v
					changed = true
				}
			case *ir.InstICmp:
				if v, ok := substituteConstOperand(blk, m, ins, ins.X, ctx); ok {
					ins.X = v
					changed = true
				}
				if v, ok := substituteConstOperand(blk, m, ins, ins.Y, ctx); ok {
					ins.Y = v
					changed = true
				}
			}
		}
	}
	return changed
}

// substituteConstOperand replaces a single integer-constant operand with an
// MBA expression built over two freshly-declared private dummy globals,
// inserted directly before target (reference's dummy `.mba.x`/`.mba.y`
// globals, loaded fresh for every substituted constant).
func substituteConstOperand(blk *ir.Block, m *ir.Module, target ir.Instruction, operand value.Value, ctx *passframework.Context) (value.Value, bool) {
	ci, ok := operand.(*constant.Int)
	if !ok {
		return nil, false
	}
	it := ci.Typ
	if it.BitSize > 64 {
		return nil, false
	}

	xGlobal := m.NewGlobalDef(fmt.Sprintf(".mba.x.%d", ctx.Rand.Uint32()), constant.NewInt(it, int64(ctx.Rand.Uint32())))
	xGlobal.Linkage = enum.LinkagePrivate
	yGlobal := m.NewGlobalDef(fmt.Sprintf(".mba.y.%d", ctx.Rand.Uint32()), constant.NewInt(it, int64(ctx.Rand.Uint32())))
	yGlobal.Linkage = enum.LinkagePrivate

	var built []ir.Instruction
	append1 := func(i ir.Instruction) ir.Instruction { built = append(built, i); return i }
	x := append1(ir.NewLoad(it, xGlobal)).(value.Value)
	y := append1(ir.NewLoad(it, yGlobal)).(value.Value)

	coeffs := ctx.GenerateMBA(15)
	coeffs[14] -= int(ci.X.Int64())

	linInsts, result := buildLinearMBA(it, x, y, coeffs)
	built = append(built, linInsts...)
	if it.BitSize <= 32 {
		var polyInsts []ir.Instruction
		polyInsts, result = buildPolynomialWrap(it, result, ctx)
		built = append(built, polyInsts...)
	}

	insertBefore(blk, target, built)
	return result, true
}

// absorbDelta names a truth-table index and the signed adjustment applied
// to its coefficient so the linear MBA sum absorbs the original operation
// (spec_full.md §4.7; reference's _substitute_binary coefficient deltas per
// opcode).
type absorbDelta struct {
	idx   int
	delta int
}

func rewrite(blk *ir.Block, inst ir.Instruction, ctx *passframework.Context) value.Value {
	pos := indexOf(blk, inst)
	if pos < 0 {
		return nil
	}

	var x, y value.Value
	var deltas []absorbDelta
	switch i := inst.(type) {
	case *ir.InstAdd:
		x, y = i.X, i.Y
		deltas = []absorbDelta{{idxX, 1}, {idxY, 1}}
	case *ir.InstSub:
		x, y = i.X, i.Y
		deltas = []absorbDelta{{idxX, 1}, {idxY, -1}}
	case *ir.InstXor:
		x, y = i.X, i.Y
		deltas = []absorbDelta{{idxXor, 1}}
	case *ir.InstAnd:
		x, y = i.X, i.Y
		deltas = []absorbDelta{{idxAnd, 1}}
	case *ir.InstOr:
		x, y = i.X, i.Y
		deltas = []absorbDelta{{idxOr, 1}}
	default:
		return nil
	}

	it, ok := x.Type().(*types.IntType)
	if !ok {
		return nil
	}

	coeffs := ctx.GenerateMBA(15)
	for _, d := range deltas {
		coeffs[d.idx] += d.delta
	}

	built, result := buildLinearMBA(it, x, y, coeffs)
	if it.BitSize <= 32 {
		var polyInsts []ir.Instruction
		polyInsts, result = buildPolynomialWrap(it, result, ctx)
		built = append(built, polyInsts...)
	}
	return insertSplice(blk, pos, built, result)
}

// buildPolynomialWrap wraps a linear MBA expression in the invertible
// univariate polynomial bijection used for narrow types (spec_full.md
// §4.7; reference's _insert_polynomial_mba: "result = a1 * (b1 * expr +
// b0) + a0", where (b0, b1) and (a0, a1) are mutual modular inverses from
// internal/mba.UnivariatePair).
func buildPolynomialWrap(it *types.IntType, expr value.Value, ctx *passframework.Context) ([]ir.Instruction, value.Value) {
	f, g := mba.UnivariatePair(int(it.BitSize), ctx.Rand)

	var built []ir.Instruction
	append1 := func(i ir.Instruction) ir.Instruction { built = append(built, i); return i }

	inner := append1(ir.NewMul(expr, constant.NewInt(it, int64(g.A1)))).(value.Value)
	inner = append1(ir.NewAdd(inner, constant.NewInt(it, int64(g.A0)))).(value.Value)
	outer := append1(ir.NewMul(inner, constant.NewInt(it, int64(f.A1)))).(value.Value)
	outer = append1(ir.NewAdd(outer, constant.NewInt(it, int64(f.A0)))).(value.Value)
	return built, outer
}

// buildLinearMBA builds sum_i coeffs[i] * B_i(x,y), returning the
// instructions generated (not yet spliced into any block) and the final
// value.
func buildLinearMBA(it *types.IntType, x, y value.Value, coeffs [15]int) ([]ir.Instruction, value.Value) {
	var built []ir.Instruction
	append1 := func(i ir.Instruction) ir.Instruction { built = append(built, i); return i }

	terms := make([]value.Value, 0, 15)
	for idx, c := range coeffs {
		if c == 0 {
			continue
		}
		term := buildTruthTableExpr(it, x, y, idx, append1)
		if c != 1 {
			scaled := append1(ir.NewMul(term, constant.NewInt(it, int64(c)))).(value.Value)
			term = scaled
		}
		terms = append(terms, term)
	}

	if len(terms) == 0 {
		return built, constant.NewInt(it, 0)
	}

	acc := terms[0]
	for _, t := range terms[1:] {
		acc = append1(ir.NewAdd(acc, t)).(value.Value)
	}
	return built, acc
}

// buildTruthTableExpr materializes B_idx(x, y) using the canonical boolean
// basis AND/OR/XOR/NOT, one case per row of mba.TruthTables (0..14).
func buildTruthTableExpr(it *types.IntType, x, y value.Value, idx int, emit func(ir.Instruction) ir.Instruction) value.Value {
	notX := func() value.Value { return emit(ir.NewXor(x, constant.NewInt(it, -1))).(value.Value) }
	notY := func() value.Value { return emit(ir.NewXor(y, constant.NewInt(it, -1))).(value.Value) }

	switch idx {
	case 0: // x & y
		return emit(ir.NewAnd(x, y)).(value.Value)
	case 1: // x & ~y
		return emit(ir.NewAnd(x, notY())).(value.Value)
	case 2: // x
		return x
	case 3: // ~x & y
		return emit(ir.NewAnd(notX(), y)).(value.Value)
	case 4: // y
		return y
	case 5: // x ^ y
		return emit(ir.NewXor(x, y)).(value.Value)
	case 6: // x | y
		return emit(ir.NewOr(x, y)).(value.Value)
	case 7: // ~(x | y)
		or := emit(ir.NewOr(x, y)).(value.Value)
		return emit(ir.NewXor(or, constant.NewInt(it, -1))).(value.Value)
	case 8: // ~(x ^ y)
		xor := emit(ir.NewXor(x, y)).(value.Value)
		return emit(ir.NewXor(xor, constant.NewInt(it, -1))).(value.Value)
	case 9: // ~y
		return notY()
	case 10: // x | ~y
		return emit(ir.NewOr(x, notY())).(value.Value)
	case 11: // ~x
		return notX()
	case 12: // ~x | y
		return emit(ir.NewOr(notX(), y)).(value.Value)
	case idxNand: // ~(x & y)
		and := emit(ir.NewAnd(x, y)).(value.Value)
		return emit(ir.NewXor(and, constant.NewInt(it, -1))).(value.Value)
	default: // 14: all-ones
		return constant.NewInt(it, -1)
	}
}

func indexOf(blk *ir.Block, inst ir.Instruction) int {
	for i, c := range blk.Insts {
		if c == inst {
			return i
		}
	}
	return -1
}

func insertSplice(blk *ir.Block, pos int, newInsts []ir.Instruction, result value.Value) value.Value {
	head := append([]ir.Instruction(nil), blk.Insts[:pos]...)
	head = append(head, newInsts...)
	tail := append([]ir.Instruction(nil), blk.Insts[pos+1:]...)
	blk.Insts = append(head, tail...)
	return result
}

// insertBefore splices newInsts into blk immediately before target, leaving
// target itself in place (unlike insertSplice, which replaces the
// instruction at pos).
func insertBefore(blk *ir.Block, target ir.Instruction, newInsts []ir.Instruction) {
	if len(newInsts) == 0 {
		return
	}
	pos := indexOf(blk, target)
	if pos < 0 {
		return
	}
	head := append([]ir.Instruction(nil), blk.Insts[:pos]...)
	head = append(head, newInsts...)
	tail := append([]ir.Instruction(nil), blk.Insts[pos:]...)
	blk.Insts = append(head, tail...)
}
