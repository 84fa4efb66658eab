package mbaobf

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
	"polaris/internal/passframework"
)

func testContext(seed int64) *passframework.Context {
	return passframework.NewContext(obfrand.NewSeeded(seed), passframework.NopLogger{})
}

func constantI32(v int64) *constant.Int { return constant.NewInt(types.I32, v) }

func constIntValue(v value.Value) int64 {
	ci, ok := v.(*constant.Int)
	if !ok {
		return -1
	}
	return ci.X.Int64()
}

func TestRunOnFunctionRewritesAdd(t *testing.T) {
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

func TestRunOnFunctionRewritesSub(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("subfn", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	diff := entry.NewSub(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(diff)

	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.True(t, changed)
	for _, inst := range entry.Insts {
		assert.NotSame(t, diff, inst)
	}
}

func TestRunOnFunctionSkipsNonEligibleOps(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("mulfn", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	prod := entry.NewMul(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(prod)

	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunOnFunctionSubstitutesConstantStoreOperand(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("storefn", types.Void)
	entry := f.NewBlock("entry")
	slot := entry.NewAlloca(types.I32)
	store := entry.NewStore(constantI32(7), slot)
	entry.Term = ir.NewRet(nil)

	before := len(entry.Insts)
	changed, err := New().RunOnFunction(f, testContext(3))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, len(entry.Insts), before)
	assert.NotNil(t, store.Src)
	assert.NotEqual(t, int64(7), constIntValue(store.Src))
	assert.Len(t, m.Globals, 2, "expected two dummy x/y globals")
}

func TestRunOnFunctionSubstitutesConstantICmpOperand(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("cmpfn", types.I1, ir.NewParam("a", types.I32))
	entry := f.NewBlock("entry")
	cmp := entry.NewICmp(enum.IPredEQ, f.Params[0], constantI32(42))
	entry.Term = ir.NewRet(cmp)

	changed, err := New().RunOnFunction(f, testContext(5))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, int64(42), constIntValue(cmp.Y))
}

func TestRunOnFunctionRewritesXorAndOr(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("bitfn", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	xorV := entry.NewXor(f.Params[0], f.Params[1])
	orV := entry.NewOr(xorV, f.Params[1])
	entry.Term = ir.NewRet(orV)

	changed, err := New().RunOnFunction(f, testContext(9))
	require.NoError(t, err)
	assert.True(t, changed)
}
