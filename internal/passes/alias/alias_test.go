package alias

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

func TestRunOnFunctionNoAllocasIsNoop(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("no_allocas", types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnFunction(f, testContext())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunOnFunctionHidesAlloca(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("has_alloca", types.Void)
	entry := f.NewBlock("entry")
	entry.NewAlloca(types.I32)
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnFunction(f, testContext())
	require.NoError(t, err)
	assert.True(t, changed)
}
