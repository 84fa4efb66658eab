// Package flattening implements encrypted control-flow flattening,
// spec_full.md §4.2: every non-entry block becomes a case of a central
// dispatcher switch selected by an XOR-encrypted state variable, with a
// lazily-built per-block key array so only a block's true dominators can
// ever recover its successor's plaintext state. Grounded on the teacher's
// internal/ir/optimizations.go pass shape and irutil's dominance/demotion
// helpers.
package flattening

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const Name = "ControlFlowFlattening"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] flattens control flow behind an XOR-encrypted dispatcher state machine",
		IsModulePass: false,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

const baseState = int64(0x000F0000)

// RunOnFunction skips functions with fewer than 2 blocks (spec_full.md
// §4.2: "single-block functions are skipped"). Non-entry blocks may end in
// ret, an unconditional branch or a two-way conditional branch; if any
// non-entry block ends in another terminator (switch, indirectbr, ...), the
// function is left untouched.
func (p *Pass) RunOnFunction(f *ir.Func, ctx *passframework.Context) (bool, error) {
	if len(f.Blocks) < 2 {
		return false, nil
	}

	irutil.DemotePHIs(f)

	entry := f.Blocks[0]
	flat := append([]*ir.Block(nil), f.Blocks[1:]...)

	for _, blk := range flat {
		switch blk.Term.(type) {
		case *ir.TermBr, *ir.TermCondBr, *ir.TermRet:
		default:
			return false, nil
		}
	}

	states := make(map[*ir.Block]int64, len(flat))
	index := make(map[*ir.Block]int, len(flat))
	for i, blk := range flat {
		states[blk] = baseState + int64(i)*4 + int64(ctx.Rand.Intn(0xfff))<<8
		index[blk] = i
	}

	dom := irutil.ComputeDominance(f)
	keys := make(map[*ir.Block]int64, len(flat))
	for _, blk := range flat {
		keys[blk] = int64(ctx.Rand.Nonzero31())
	}
	keyMap := make(map[*ir.Block]int64, len(flat))
	for _, i := range flat {
		var xor int64
		for _, j := range flat {
			if j != i && dom.Dominates(j, i) {
				xor ^= keys[j]
			}
		}
		keyMap[i] = xor
	}

	i64 := types.I64
	stateSlot := ir.NewAlloca(i64)
	keysArr := ir.NewAlloca(types.NewArray(uint64(len(flat)), i64))
	visitedArr := ir.NewAlloca(types.NewArray(uint64(len(flat)), types.I8))
	entry.Insts = append([]ir.Instruction{stateSlot, keysArr, visitedArr}, entry.Insts...)

	zeroKeys := ir.NewStore(constZeroArray(keysArr.ElemType), keysArr)
	zeroVisited := ir.NewStore(constZeroArray(visitedArr.ElemType), visitedArr)
	entry.Insts = append(entry.Insts, zeroKeys, zeroVisited)

	dispatcher := f.NewBlock("dispatch")
	dispatchDefault := f.NewBlock("dispatch.default")
	dispatchDefault.Term = ir.NewBr(dispatcher)

	loaded := dispatcher.NewLoad(i64, stateSlot)
	sw := ir.NewSwitch(loaded, dispatchDefault)
	for _, blk := range flat {
		sw.Cases = append(sw.Cases, &ir.Case{X: constant.NewInt(i64, states[blk]), Target: blk})
	}
	dispatcher.Term = sw

	switch t := entry.Term.(type) {
	case *ir.TermBr:
		storeState(entry, stateSlot, constant.NewInt(i64, states[t.Target]))
		entry.Term = ir.NewBr(dispatcher)
	case *ir.TermCondBr:
		encoded := selectState(entry, t.Cond, states[t.TargetTrue], states[t.TargetFalse])
		storeState(entry, stateSlot, encoded)
		entry.Term = ir.NewBr(dispatcher)
	default:
		// entry without a recognized terminator: leave flattening partial,
		// the dispatcher simply never reached from entry.
	}

	for _, blk := range flat {
		rewriteFlatBlock(f, blk, index, states, keys, keyMap, dom, flat, stateSlot, keysArr, visitedArr, dispatcher, ctx)
	}

	irutil.DemoteCrossBlockValues(f)
	return true, nil
}

func constZeroArray(t types.Type) constant.Constant {
	return constant.NewZeroInitializer(t)
}

func storeState(blk *ir.Block, slot value.Value, v value.Value) {
	blk.Insts = append(blk.Insts, ir.NewStore(v, slot))
}

// selectState builds the plaintext-state select for a two-way entry
// branch: select(cond, stateTrue, stateFalse).
func selectState(blk *ir.Block, cond value.Value, stateTrue, stateFalse int64) value.Value {
	sel := ir.NewSelect(cond, constant.NewInt(types.I64, stateTrue), constant.NewInt(types.I64, stateFalse))
	blk.Insts = append(blk.Insts, sel)
	return sel
}

func rewriteFlatBlock(
	f *ir.Func,
	blk *ir.Block,
	index map[*ir.Block]int,
	states map[*ir.Block]int64,
	keys map[*ir.Block]int64,
	keyMap map[*ir.Block]int64,
	dom *irutil.Dominance,
	flat []*ir.Block,
	stateSlot, keysArr, visitedArr value.Value,
	dispatcher *ir.Block,
	ctx *passframework.Context,
) {
	i := index[blk]
	km := keyMap[blk]
	i64 := types.I64

	dominated := dom.DominatedBy(blk)
	var dominatedIdx []int
	for _, d := range dominated {
		if idx, ok := index[d]; ok && d != blk {
			dominatedIdx = append(dominatedIdx, idx)
		}
	}

	if len(dominatedIdx) > 0 {
		visitedPtr := gepByte(blk, visitedArr, i)
		visited := blk.NewLoad(types.I8, visitedPtr)
		isZero := blk.NewICmp(enum.IPredEQ, visited, constant.NewInt(types.I8, 0))

		updateBlk := f.NewBlock("keyupdate")
		contBlk := f.NewBlock("keyupdate.cont")
		contBlk.Term = blk.Term
		blk.Term = ir.NewCondBr(isZero, updateBlk, contBlk)

		for _, di := range dominatedIdx {
			slotPtr := gepWord(updateBlk, keysArr, di)
			cur := updateBlk.NewLoad(i64, slotPtr)
			xored := updateBlk.NewXor(cur, constant.NewInt(i64, keys[blk]))
			updateBlk.NewStore(xored, slotPtr)
		}
		updateBlk.NewStore(constant.NewInt(types.I8, 1), visitedPtr)
		updateBlk.Term = ir.NewBr(contBlk)

		blk = contBlk
	}

	origTerm := blk.Term
	switch t := origTerm.(type) {
	case *ir.TermBr:
		writeEncryptedTransition(blk, i64, keysArr, i, km, states[t.Target], stateSlot)
		blk.Term = ir.NewBr(dispatcher)
	case *ir.TermCondBr:
		trueVal := states[t.TargetTrue] ^ km
		falseVal := states[t.TargetFalse] ^ km
		encoded := selectState(blk, t.Cond, trueVal, falseVal)
		slotPtr := gepWord(blk, keysArr, i)
		keyWord := blk.NewLoad(i64, slotPtr)
		final := blk.NewXor(keyWord, encoded.(*ir.InstSelect))
		storeState(blk, stateSlot, final)
		blk.Term = ir.NewBr(dispatcher)
	}
}

func writeEncryptedTransition(blk *ir.Block, i64 types.Type, keysArr value.Value, i int, keyMapVal int64, targetState int64, stateSlot value.Value) {
	slotPtr := gepWord(blk, keysArr, i)
	keyWord := blk.NewLoad(types.I64, slotPtr)
	xoredTarget := targetState ^ keyMapVal
	final := blk.NewXor(keyWord, constant.NewInt(types.I64, xoredTarget))
	storeState(blk, stateSlot, final)
}

func gepWord(blk *ir.Block, arr value.Value, i int) value.Value {
	zero := constant.NewInt(types.I32, 0)
	idx := constant.NewInt(types.I32, int64(i))
	return blk.NewGetElementPtr(elemTypeOf(arr), arr, zero, idx)
}

func gepByte(blk *ir.Block, arr value.Value, i int) value.Value {
	zero := constant.NewInt(types.I32, 0)
	idx := constant.NewInt(types.I32, int64(i))
	return blk.NewGetElementPtr(elemTypeOf(arr), arr, zero, idx)
}

func elemTypeOf(v value.Value) types.Type {
	if alloc, ok := v.(*ir.InstAlloca); ok {
		return alloc.ElemType
	}
	return types.I64
}
