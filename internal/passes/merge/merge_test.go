package merge

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
	return passframework.NewContext(obfrand.NewSeeded(5), passframework.NopLogger{})
}

func addSimpleFunc(m *ir.Module, name string) *ir.Func {
	f := m.NewFunc(name, types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)
	return f
}

func TestRunOnModuleSkipsWithFewerThanTwoCandidates(t *testing.T) {
	m := ir.NewModule()
	addSimpleFunc(m, "only")

	changed, err := New().RunOnModule(m, testContext(), nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunOnModuleMergesTwoCandidates(t *testing.T) {
	m := ir.NewModule()
	addSimpleFunc(m, "a")
	addSimpleFunc(m, "b")

	changed, err := New().RunOnModule(m, testContext(), nil)
	require.NoError(t, err)
	assert.True(t, changed)

	var foundDispatcher bool
	for _, f := range m.Funcs {
		if f.GlobalName == "__merged_function" {
			foundDispatcher = true
		}
	}
	assert.True(t, foundDispatcher)
}

func TestRunOnModuleExcludesMain(t *testing.T) {
	m := ir.NewModule()
	addSimpleFunc(m, "main")
	addSimpleFunc(m, "only_other")

	changed, err := New().RunOnModule(m, testContext(), nil)
	require.NoError(t, err)
	assert.False(t, changed)
}
