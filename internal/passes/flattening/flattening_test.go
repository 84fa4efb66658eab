package flattening

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
	"polaris/internal/passframework"
)

func testContext() *passframework.Context {
	return passframework.NewContext(obfrand.NewSeeded(1), passframework.NopLogger{})
}

func TestRunOnFunctionSkipsSingleBlock(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("single", types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnFunction(f, testContext())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.Blocks, 1)
}

func TestRunOnFunctionFlattensTwoBlockChain(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("two", types.Void)
	entry := f.NewBlock("entry")
	tail := f.NewBlock("tail")
	entry.Term = ir.NewBr(tail)
	tail.Term = ir.NewRet(nil)

	changed, err := New().RunOnFunction(f, testContext())
	require.NoError(t, err)
	assert.True(t, changed)
}
