// Package callconv implements calling-convention randomization,
// spec_full.md §4.10: each internal/private function is assigned a random
// calling convention from a fixed pool, applied consistently to the
// function and to every direct call site naming it. Grounded on the
// teacher's internal/ir/optimizations.go module-wide rewrite shape
// (collect-then-rewrite over every function in one pass).
package callconv

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"polaris/internal/passframework"
)

const Name = "CustomCallingConvention"

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Pluto] randomizes calling conventions of internal/private functions and their call sites",
		IsModulePass: true,
	}
}

// pool is the fixed set of calling conventions spec_full.md §4.10 names.
var pool = []enum.CallConv{
	enum.CallConvFast,
	enum.CallConvCold,
	enum.CallConvPreserveMost,
	enum.CallConvPreserveAll,
	enum.CallConvX86RegCall,
	enum.CallConvX8664_SysV,
	enum.CallConvWin64,
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

func (p *Pass) RunOnModule(m *ir.Module, ctx *passframework.Context, _ passframework.Selection) (bool, error) {
	changed := false
	assigned := make(map[string]enum.CallConv)

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		if f.Linkage != enum.LinkageInternal && f.Linkage != enum.LinkagePrivate {
			continue
		}
		cc := pool[ctx.Rand.Intn(len(pool))]
		f.CallConv = cc
		assigned[f.GlobalName] = cc
		changed = true
	}

	if len(assigned) == 0 {
		return false, nil
	}

	for _, f := range m.Funcs {
		for _, blk := range f.Blocks {
			for _, inst := range blk.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				callee, ok := call.Callee.(*ir.Func)
				if !ok {
					continue
				}
				if cc, ok := assigned[callee.GlobalName]; ok {
					call.CallConv = cc
					changed = true
				}
			}
		}
	}

	return changed, nil
}
