package bogus

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

func TestRunOnFunctionSplitsEligibleBlock(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(sum)

	before := len(f.Blocks)
	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, len(f.Blocks), before, "expected new body/tail/clone blocks")
}

func TestRunOnFunctionSkipsBlockWithOnlyTerminator(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)

	before := len(f.Blocks)
	changed, err := New().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, len(f.Blocks))
}
