package verify

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsWellFormedModule(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("ok", types.I32, ir.NewParam("x", types.I32))
	entry := f.NewBlock("entry")
	entry.Term = ir.NewRet(f.Params[0])

	assert.NoError(t, Verify(m))
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("broken", types.Void)
	f.NewBlock("entry")

	err := Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no terminator")
}

func TestVerifyRejectsBranchToForeignBlock(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	entry := f.NewBlock("entry")

	other := m.NewFunc("g", types.Void)
	foreign := other.NewBlock("foreign")
	foreign.Term = ir.NewRet(nil)

	entry.Term = ir.NewBr(foreign)

	err := Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the function")
}

func TestVerifyRejectsDuplicateFunctionNames(t *testing.T) {
	m := ir.NewModule()
	f1 := m.NewFunc("dup", types.Void)
	f1.NewBlock("entry").Term = ir.NewRet(nil)
	f2 := m.NewFunc("dup", types.Void)
	f2.NewBlock("entry").Term = ir.NewRet(nil)

	err := Verify(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared more than once")
}

func TestVerifyIgnoresDeclarations(t *testing.T) {
	m := ir.NewModule()
	m.NewFunc("decl", types.Void) // no body

	assert.NoError(t, Verify(m))
}
