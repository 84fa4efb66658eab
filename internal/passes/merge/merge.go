// Package merge implements function merging, spec_full.md §4.8: two or
// more defined functions are normalized into void-returning wrappers and
// dissolved into a single selector-dispatched function, with the originals
// replaced by thin stubs that call the dispatcher directly. Grounded on
// the teacher's internal/ir/optimizations.go module-pass shape; this is a
// module pass because it must see every candidate function at once to lay
// out one dispatcher's parameter offsets.
package merge

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const Name = "FunctionMerge"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Pluto] dissolves multiple functions into one selector-dispatched merged function",
		IsModulePass: true,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

// RunOnModule skips modules with at most one mergeable function
// (spec_full.md §8's documented boundary behavior).
func (p *Pass) RunOnModule(m *ir.Module, ctx *passframework.Context, selected passframework.Selection) (bool, error) {
	var candidates []*ir.Func
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		if !selected.Includes(f.GlobalName) {
			continue
		}
		if f.GlobalName == "main" {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) < 2 {
		return false, nil
	}

	wrappers := make([]*ir.Func, len(candidates))
	for i, fn := range candidates {
		wrappers[i] = buildWrapper(m, fn)
	}

	dispatcher, offsets, total := buildDispatcher(m, wrappers)

	for i, fn := range candidates {
		replaceWithStub(fn, dispatcher, i, offsets[i], total)
	}

	for _, w := range wrappers {
		eraseFunc(m, w)
	}

	return true, nil
}

// buildWrapper builds fn's void-returning wrapper, cloning its body with
// every `ret v` rewritten to `store v, out_ptr; ret void` (spec_full.md
// §4.8 step 1). The original fn is left untouched here; its body is
// replaced by replaceWithStub only once the dispatcher exists.
func buildWrapper(m *ir.Module, fn *ir.Func) *ir.Func {
	retType := fn.Sig.RetType
	isVoid := retType.Equal(types.Void)

	var wrapperParams []*ir.Param
	paramMap := make(map[value.Value]value.Value)
	for _, origParam := range fn.Params {
		np := ir.NewParam("", origParam.Typ)
		wrapperParams = append(wrapperParams, np)
		paramMap[origParam] = np
	}
	var outPtr *ir.Param
	if !isVoid {
		outPtr = ir.NewParam("out", types.NewPointer(retType))
		wrapperParams = append(wrapperParams, outPtr)
	}

	wrapper := m.NewFunc("__merge_wrap_"+fn.GlobalName, types.Void, wrapperParams...)
	wrapper.Linkage = enum.LinkageInternal

	blockMap := make(map[*ir.Block]*ir.Block, len(fn.Blocks))
	for _, b := range fn.Blocks {
		blockMap[b] = wrapper.NewBlock("")
	}
	for _, b := range fn.Blocks {
		nb := blockMap[b]
		for _, inst := range b.Insts {
			cloned := shallowClone(inst)
			for old, new := range paramMap {
				irutil.ReplaceOperand(cloned, old, new)
			}
			nb.Insts = append(nb.Insts, cloned)
			if v, ok := inst.(value.Value); ok {
				paramMap[v] = cloned.(value.Value)
			}
		}
		nb.Term = cloneTerm(b.Term, blockMap, paramMap, nb, outPtr, isVoid)
	}

	return wrapper
}

func cloneTerm(t ir.Terminator, blockMap map[*ir.Block]*ir.Block, paramMap map[value.Value]value.Value, nb *ir.Block, outPtr *ir.Param, isVoid bool) ir.Terminator {
	switch term := t.(type) {
	case *ir.TermRet:
		if isVoid || term.X == nil {
			return ir.NewRet(nil)
		}
		v := term.X
		if mapped, ok := paramMap[v]; ok {
			v = mapped
		}
		nb.NewStore(v, outPtr)
		return ir.NewRet(nil)
	case *ir.TermBr:
		return ir.NewBr(blockMap[term.Target])
	case *ir.TermCondBr:
		cond := term.Cond
		if mapped, ok := paramMap[cond]; ok {
			cond = mapped
		}
		return ir.NewCondBr(cond, blockMap[term.TargetTrue], blockMap[term.TargetFalse])
	default:
		return ir.NewUnreachable()
	}
}

func shallowClone(inst ir.Instruction) ir.Instruction {
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
	case *ir.InstICmp:
		c := *i
		return &c
	case *ir.InstLoad:
		c := *i
		return &c
	case *ir.InstStore:
		c := *i
		return &c
	case *ir.InstAlloca:
		c := *i
		return &c
	case *ir.InstCall:
		c := *i
		return &c
	default:
		return inst
	}
}

// buildDispatcher builds `__merged_function(selector, wrapper0 params...,
// wrapper1 params..., ...)`, cloning each wrapper's blocks into it behind
// a selector switch, per spec_full.md §4.8 step 2. It returns the
// dispatcher, each wrapper's parameter-offset list (index into the
// dispatcher's own Params, selector excluded), and the dispatcher's total
// non-selector parameter count.
func buildDispatcher(m *ir.Module, wrappers []*ir.Func) (*ir.Func, [][]int, int) {
	selector := ir.NewParam("selector", types.I32)
	params := []*ir.Param{selector}

	offsets := make([][]int, len(wrappers))
	for wi, w := range wrappers {
		var offs []int
		for _, wp := range w.Params {
			offs = append(offs, len(params))
			params = append(params, ir.NewParam("", wp.Typ))
		}
		offsets[wi] = offs
	}

	dispatcher := m.NewFunc("__merged_function", types.Void, params...)
	dispatcher.Linkage = enum.LinkageInternal

	entry := dispatcher.NewBlock("")
	retBlock := dispatcher.NewBlock("merged.ret")
	retBlock.Term = ir.NewRet(nil)

	sw := ir.NewSwitch(selector, retBlock)

	for wi, w := range wrappers {
		paramMap := make(map[value.Value]value.Value, len(w.Params))
		for pi, wp := range w.Params {
			paramMap[wp] = params[offsets[wi][pi]]
		}

		blockMap := make(map[*ir.Block]*ir.Block, len(w.Blocks))
		for _, b := range w.Blocks {
			blockMap[b] = dispatcher.NewBlock("")
		}
		for _, b := range w.Blocks {
			nb := blockMap[b]
			for _, inst := range b.Insts {
				cloned := shallowClone(inst)
				for old, new := range paramMap {
					irutil.ReplaceOperand(cloned, old, new)
				}
				nb.Insts = append(nb.Insts, cloned)
				if v, ok := inst.(value.Value); ok {
					paramMap[v] = cloned.(value.Value)
				}
			}
			switch term := b.Term.(type) {
			case *ir.TermRet:
				nb.Term = ir.NewBr(retBlock)
			case *ir.TermBr:
				nb.Term = ir.NewBr(blockMap[term.Target])
			case *ir.TermCondBr:
				cond := term.Cond
				if mapped, ok := paramMap[cond]; ok {
					cond = mapped
				}
				nb.Term = ir.NewCondBr(cond, blockMap[term.TargetTrue], blockMap[term.TargetFalse])
			default:
				nb.Term = ir.NewUnreachable()
			}
		}

		entryTarget := blockMap[w.Blocks[0]]
		sw.Cases = append(sw.Cases, &ir.Case{X: constant.NewInt(types.I32, int64(wi)), Target: entryTarget})
	}
	entry.Term = sw

	return dispatcher, offsets, len(params) - 1
}

// replaceWithStub rewrites fn's own body into the thin stub spec_full.md
// §4.8 step 1 describes, except the stub now calls the merged dispatcher
// directly instead of its own erased wrapper: it allocates a return slot
// (for non-void functions), places its own arguments at myOffsets, fills
// every other wrapper's parameter slot with undef, and calls the
// dispatcher with the constant selector wi.
func replaceWithStub(fn *ir.Func, dispatcher *ir.Func, wi int, myOffsets []int, totalParams int) {
	retType := fn.Sig.RetType
	isVoid := retType.Equal(types.Void)

	fn.Blocks = nil
	entry := fn.NewBlock("")

	args := make([]value.Value, totalParams+1)
	args[0] = constant.NewInt(types.I32, int64(wi))
	for i := 1; i <= totalParams; i++ {
		args[i] = constant.NewUndef(dispatcher.Params[i].Typ)
	}
	for pi, param := range fn.Params {
		args[myOffsets[pi]] = param
	}

	var retSlot *ir.InstAlloca
	if !isVoid {
		retSlot = entry.NewAlloca(retType)
		// the wrapper's out-pointer was appended after its own params, so
		// its dispatcher offset is myOffsets' last entry.
		outOffset := myOffsets[len(myOffsets)-1]
		args[outOffset] = retSlot
	}

	entry.NewCall(dispatcher, args...)
	if isVoid {
		entry.Term = ir.NewRet(nil)
	} else {
		loaded := entry.NewLoad(retType, retSlot)
		entry.Term = ir.NewRet(loaded)
	}
}

func eraseFunc(m *ir.Module, f *ir.Func) {
	for i, fn := range m.Funcs {
		if fn == f {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}
