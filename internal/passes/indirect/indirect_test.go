package indirect

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

func TestBranchPassRewritesUnconditionalBranch(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	entry := f.NewBlock("entry")
	tail := f.NewBlock("tail")
	entry.Term = ir.NewBr(tail)
	tail.Term = ir.NewRet(nil)

	changed, err := NewBranchPass().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := entry.Term.(*ir.TermIndirectBr)
	assert.True(t, ok, "expected entry terminator to become an indirect branch")
}

func TestBranchPassRewritesConditionalBranch(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void, ir.NewParam("cond", types.I1))
	entry := f.NewBlock("entry")
	trueBlk := f.NewBlock("true")
	falseBlk := f.NewBlock("false")
	entry.Term = ir.NewCondBr(f.Params[0], trueBlk, falseBlk)
	trueBlk.Term = ir.NewRet(nil)
	falseBlk.Term = ir.NewRet(nil)

	changed, err := NewBranchPass().RunOnFunction(f, testContext(2))
	require.NoError(t, err)
	assert.True(t, changed)

	ibr, ok := entry.Term.(*ir.TermIndirectBr)
	require.True(t, ok)
	assert.Len(t, ibr.ValidTargets, 2)
}

func TestBranchPassNoTerminatorsToRewrite(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(nil)

	changed, err := NewBranchPass().RunOnFunction(f, testContext(1))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCallPassMasksDirectCallToDefinedFunction(t *testing.T) {
	m := ir.NewModule()
	callee := m.NewFunc("callee", types.I32, ir.NewParam("x", types.I32))
	calleeEntry := callee.NewBlock("entry")
	calleeEntry.Term = ir.NewRet(callee.Params[0])

	caller := m.NewFunc("caller", types.I32, ir.NewParam("x", types.I32))
	entry := caller.NewBlock("entry")
	call := entry.NewCall(callee, caller.Params[0])
	entry.Term = ir.NewRet(call)

	changed, err := NewCallPass().RunOnFunction(caller, testContext(3))
	require.NoError(t, err)
	assert.True(t, changed)

	foundIndirect := false
	for _, inst := range entry.Insts {
		if c, ok := inst.(*ir.InstCall); ok {
			if _, direct := c.Callee.(*ir.Func); !direct {
				foundIndirect = true
			}
		}
	}
	assert.True(t, foundIndirect, "expected the call site to be rewritten through a loaded pointer")
}

func TestCallPassSkipsDeclarationCallee(t *testing.T) {
	m := ir.NewModule()
	decl := m.NewFunc("extern_fn", types.Void)

	caller := m.NewFunc("caller", types.Void)
	entry := caller.NewBlock("entry")
	entry.NewCall(decl)
	entry.Term = ir.NewRet(nil)

	changed, err := NewCallPass().RunOnFunction(caller, testContext(1))
	require.NoError(t, err)
	assert.False(t, changed)
}
