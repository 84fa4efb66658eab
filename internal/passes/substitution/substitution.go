// Package substitution implements arithmetic substitution, spec_full.md
// §4.6: replacing two-operand integer Add/Sub/And/Or/Xor instructions with
// an algebraically equivalent expression drawn from a fixed catalog,
// grounded on the teacher's internal/ir/optimizations.go constant-folding
// pass shape (a single pass walking every block's instruction list in
// place) generalized from folding to rewriting.
package substitution

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const Name = "ArithmeticSubstitution"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] replaces add/sub/and/or/xor with algebraically equivalent expressions",
		IsModulePass: false,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

func (p *Pass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	changed := false
	for _, blk := range f.Blocks {
		insts := append([]ir.Instruction(nil), blk.Insts...)
		for _, inst := range insts {
			repl := rewriteOne(blk, inst, ctx)
			if repl == nil {
				continue
			}
			irutil.ReplaceAllUsesInFunc(f, inst.(value.Value), repl)
			changed = true
		}
	}
	return changed, nil
}

// rewriteOne substitutes a single eligible binop in place, appending the
// replacement instructions immediately before it and returning the final
// replacement value; it returns nil if inst is not an eligible integer
// binop, leaving blk untouched (spec_full.md §4.6: "purely local within a
// basic block").
func rewriteOne(blk *ir.Block, inst ir.Instruction, ctx *passframework.Context) value.Value {
	pos := indexOf(blk, inst)
	if pos < 0 {
		return nil
	}

	switch i := inst.(type) {
	case *ir.InstAdd:
		return substituteAdd(blk, pos, i, ctx)
	case *ir.InstSub:
		return substituteSub(blk, pos, i, ctx)
	case *ir.InstAnd:
		return substituteAnd(blk, pos, i, ctx)
	case *ir.InstOr:
		return substituteOr(blk, pos, i, ctx)
	case *ir.InstXor:
		return substituteXor(blk, pos, i, ctx)
	default:
		return nil
	}
}

func indexOf(blk *ir.Block, inst ir.Instruction) int {
	for idx, cand := range blk.Insts {
		if cand == inst {
			return idx
		}
	}
	return -1
}

// insertAt moves newInsts, which blk.New* has already appended to the end
// of blk, to immediately before position pos, removes the original
// instruction at pos, and returns the last of newInsts as the replacement
// value.
func insertAt(blk *ir.Block, pos int, newInsts ...ir.Instruction) value.Value {
	end := len(blk.Insts) - len(newInsts)
	tail := append([]ir.Instruction(nil), blk.Insts[pos+1:end]...)
	head := append([]ir.Instruction(nil), blk.Insts[:pos]...)
	head = append(head, newInsts...)
	blk.Insts = append(head, tail...)
	last := newInsts[len(newInsts)-1]
	return last.(value.Value)
}

func intType(x value.Value) *types.IntType {
	t, _ := x.Type().(*types.IntType)
	if t == nil {
		t = types.I64
	}
	return t
}

func constInt(t *types.IntType, v int64) *constant.Int {
	return constant.NewInt(t, v)
}

// substituteAdd picks among: a+b -> a-(-b); a+b -> (a^b)+2*(a&b);
// a+b -> (a|b)+(a&b); a+b -> ((a|b)*2)-(a^b). All four are from
// spec_full.md §4.6's add catalog (4 patterns), each re-derivable from the
// standard carry-save identities.
func substituteAdd(blk *ir.Block, pos int, i *ir.InstAdd, ctx *passframework.Context) value.Value {
	t := intType(i.X)
	switch ctx.Rand.Intn(4) {
	case 0:
		neg := blk.NewSub(constInt(t, 0), i.Y)
		sub := blk.NewSub(i.X, neg)
		return insertAt(blk, pos, neg, sub)
	case 1:
		xorV := blk.NewXor(i.X, i.Y)
		andV := blk.NewAnd(i.X, i.Y)
		two := blk.NewMul(andV, constInt(t, 2))
		sum := blk.NewAdd(xorV, two)
		return insertAt(blk, pos, xorV, andV, two, sum)
	case 2:
		orV := blk.NewOr(i.X, i.Y)
		andV := blk.NewAnd(i.X, i.Y)
		sum := blk.NewAdd(orV, andV)
		return insertAt(blk, pos, orV, andV, sum)
	default:
		orV := blk.NewOr(i.X, i.Y)
		double := blk.NewMul(orV, constInt(t, 2))
		xorV := blk.NewXor(i.X, i.Y)
		sum := blk.NewSub(double, xorV)
		return insertAt(blk, pos, orV, double, xorV, sum)
	}
}

// substituteSub: a-b -> a+(-b); a-b -> (a^b)-2*(~a&b) [borrow form];
// a-b -> a+(~b)+1. 3 patterns per spec_full.md §4.6.
func substituteSub(blk *ir.Block, pos int, i *ir.InstSub, ctx *passframework.Context) value.Value {
	t := intType(i.X)
	switch ctx.Rand.Intn(3) {
	case 0:
		neg := blk.NewSub(constInt(t, 0), i.Y)
		sum := blk.NewAdd(i.X, neg)
		return insertAt(blk, pos, neg, sum)
	case 1:
		notX := blk.NewXor(i.X, constInt(t, -1))
		andV := blk.NewAnd(notX, i.Y)
		two := blk.NewMul(andV, constInt(t, 2))
		xorV := blk.NewXor(i.X, i.Y)
		diff := blk.NewSub(xorV, two)
		return insertAt(blk, pos, notX, andV, two, xorV, diff)
	default:
		notY := blk.NewXor(i.Y, constInt(t, -1))
		sum := blk.NewAdd(i.X, notY)
		diff := blk.NewAdd(sum, constInt(t, 1))
		return insertAt(blk, pos, notY, sum, diff)
	}
}

// substituteAnd: a&b -> (a|b)-(a^b); a&b -> ~(~a|~b). 2 patterns.
func substituteAnd(blk *ir.Block, pos int, i *ir.InstAnd, ctx *passframework.Context) value.Value {
	t := intType(i.X)
	switch ctx.Rand.Intn(2) {
	case 0:
		orV := blk.NewOr(i.X, i.Y)
		xorV := blk.NewXor(i.X, i.Y)
		diff := blk.NewSub(orV, xorV)
		return insertAt(blk, pos, orV, xorV, diff)
	default:
		notX := blk.NewXor(i.X, constInt(t, -1))
		notY := blk.NewXor(i.Y, constInt(t, -1))
		orV := blk.NewOr(notX, notY)
		res := blk.NewXor(orV, constInt(t, -1))
		return insertAt(blk, pos, notX, notY, orV, res)
	}
}

// substituteOr: a|b -> (a&b)|(a^b); a|b -> ~(~a&~b). 2 patterns.
func substituteOr(blk *ir.Block, pos int, i *ir.InstOr, ctx *passframework.Context) value.Value {
	t := intType(i.X)
	switch ctx.Rand.Intn(2) {
	case 0:
		andV := blk.NewAnd(i.X, i.Y)
		xorV := blk.NewXor(i.X, i.Y)
		res := blk.NewOr(andV, xorV)
		return insertAt(blk, pos, andV, xorV, res)
	default:
		notX := blk.NewXor(i.X, constInt(t, -1))
		notY := blk.NewXor(i.Y, constInt(t, -1))
		andV := blk.NewAnd(notX, notY)
		res := blk.NewXor(andV, constInt(t, -1))
		return insertAt(blk, pos, notX, notY, andV, res)
	}
}

// substituteXor: a^b -> (~a&b)|(a&~b); a^b -> (a|b)-(a&b). 2 patterns.
func substituteXor(blk *ir.Block, pos int, i *ir.InstXor, ctx *passframework.Context) value.Value {
	t := intType(i.X)
	switch ctx.Rand.Intn(2) {
	case 0:
		notX := blk.NewXor(i.X, constInt(t, -1))
		left := blk.NewAnd(notX, i.Y)
		notY := blk.NewXor(i.Y, constInt(t, -1))
		right := blk.NewAnd(i.X, notY)
		res := blk.NewOr(left, right)
		return insertAt(blk, pos, notX, left, notY, right, res)
	default:
		orV := blk.NewOr(i.X, i.Y)
		andV := blk.NewAnd(i.X, i.Y)
		res := blk.NewSub(orV, andV)
		return insertAt(blk, pos, orV, andV, res)
	}
}
