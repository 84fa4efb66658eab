package substitution

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
	"polaris/internal/passframework"
)

func testContext(seed int64) *passframework.Context {
	return passframework.NewContext(obfrand.NewSeeded(seed), passframework.NopLogger{})
}

func TestRunOnFunctionReplacesAdd(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("addfn", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(sum)

	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, len(entry.Insts), 1)

	for _, inst := range entry.Insts {
		assert.NotSame(t, sum, inst)
	}
}

func TestRunOnFunctionNoEligibleOpsIsNoChange(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("noop", types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunOnFunctionDeterministicGivenSeed(t *testing.T) {
	build := func() (*ir.Func, *ir.Block) {
		m := ir.NewModule()
		f := m.NewFunc("xorfn", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
		entry := f.NewBlock("entry")
		x := entry.NewXor(f.Params[0], f.Params[1])
		entry.Term = ir.NewRet(x)
		return f, entry
	}

	f1, e1 := build()
	_, err := New().RunOnFunction(f1, testContext(42))
	require.NoError(t, err)

	f2, e2 := build()
	_, err = New().RunOnFunction(f2, testContext(42))
	require.NoError(t, err)

	require.Equal(t, len(e1.Insts), len(e2.Insts))
	for i := range e1.Insts {
		assert.IsType(t, e1.Insts[i], e2.Insts[i])
	}
}
