package virtualize

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
	"polaris/internal/passframework"
	"polaris/internal/vm/interp"
)

func testContext(seed int64) *passframework.Context {
	return passframework.NewContext(obfrand.NewSeeded(seed), passframework.NopLogger{})
}

func buildAddModule() *ir.Module {
	m := ir.NewModule()
	f := m.NewFunc("add", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(sum)
	return m
}

func TestRunOnModuleReplacesBodyWithInterpreterCall(t *testing.T) {
	m := buildAddModule()

	changed, err := New().RunOnModule(m, testContext(1), nil)
	require.NoError(t, err)
	assert.True(t, changed)

	var vmFunc *ir.Func
	var target *ir.Func
	for _, f := range m.Funcs {
		if f.GlobalName == interp.FuncName {
			vmFunc = f
		}
		if f.GlobalName == "add" {
			target = f
		}
	}
	require.NotNil(t, vmFunc, "expected __vm_interpret to be synthesized")
	require.NotNil(t, target)
	require.Len(t, target.Blocks, 1)

	foundCall := false
	for _, inst := range target.Blocks[0].Insts {
		call, ok := inst.(*ir.InstCall)
		if !ok {
			continue
		}
		callee, ok := call.Callee.(*ir.Func)
		if ok && callee == vmFunc {
			foundCall = true
		}
	}
	assert.True(t, foundCall, "expected the virtualized function to call __vm_interpret")
}

func TestRunOnModuleSkipsIneligibleFunction(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("withfloat", types.Double, ir.NewParam("x", types.Double))
	entry := f.NewBlock("entry")
	add := entry.NewFAdd(f.Params[0], f.Params[0])
	entry.Term = ir.NewRet(add)

	changed, err := New().RunOnModule(m, testContext(1), nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.Blocks[0].Insts, 1, "ineligible function left untouched")
}

func TestVirtualizedBytecodeGlobalNameDeterministicForSameSeed(t *testing.T) {
	names := func(seed int64) []string {
		m := buildAddModule()
		_, err := New().RunOnModule(m, testContext(seed), nil)
		require.NoError(t, err)
		var out []string
		for _, g := range m.Globals {
			out = append(out, g.GlobalName)
		}
		return out
	}

	a := names(99)
	b := names(99)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}
