package antidisasm

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
	return passframework.NewContext(obfrand.NewSeeded(3), passframework.NopLogger{})
}

func buildModule(triple string) (*ir.Module, *ir.Func) {
	m := ir.NewModule()
	m.TargetTriple = triple
	f := m.NewFunc("f", types.Void)
	entry := f.NewBlock("entry")
	entry.NewAlloca(types.I32)
	entry.Term = ir.NewRet(nil)
	return m, f
}

func TestRunOnModuleSkipsNonX86Triple(t *testing.T) {
	m, _ := buildModule("aarch64-unknown-linux-gnu")

	changed, err := New().RunOnModule(m, testContext(), nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunOnModuleInjectsOnX86Triple(t *testing.T) {
	p := New()
	p.Density = 1.0
	m, _ := buildModule("x86_64-unknown-linux-gnu")

	changed, err := p.RunOnModule(m, testContext(), nil)
	require.NoError(t, err)
	assert.True(t, changed)
}
