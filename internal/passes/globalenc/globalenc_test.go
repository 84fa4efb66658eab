package globalenc

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
	"polaris/internal/passframework"
)

func testContext(seed int64) *passframework.Context {
	return passframework.NewContext(obfrand.NewSeeded(seed), passframework.NopLogger{})
}

// TestPlaintextDoesNotSurviveEncryption exercises spec_full.md §8's
// explicit testable property for this pass: "the original plaintext byte
// sequence does not appear anywhere in the emitted IR text."
func TestPlaintextDoesNotSurviveEncryption(t *testing.T) {
	const secret = "Serial accepted"

	m := ir.NewModule()
	g := m.NewGlobalDef("msg", constant.NewCharArrayFromString(secret))
	g.Linkage = enum.LinkageInternal
	g.Immutable = true

	f := m.NewFunc("use_msg", types.Void)
	entry := f.NewBlock("entry")
	i8 := types.I8
	zero := constant.NewInt(types.I32, 0)
	gep := entry.NewGetElementPtr(g.ContentType, g, zero, zero)
	entry.NewLoad(i8, gep)
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnModule(m, testContext(5), nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotContains(t, m.String(), secret)
}

func TestRunOnModuleNoEligibleGlobalsIsNoChange(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("empty", types.Void)
	f.NewBlock("entry").Term = ir.NewRet(nil)

	changed, err := New().RunOnModule(m, testContext(1), nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEligibleRejectsDunderAndLLVMPrefixedNames(t *testing.T) {
	m := ir.NewModule()
	llvmGlobal := m.NewGlobalDef("llvm.used", constant.NewCharArrayFromString("x"))
	llvmGlobal.Linkage = enum.LinkageInternal

	dunderGlobal := m.NewGlobalDef("__hidden", constant.NewCharArrayFromString("y"))
	dunderGlobal.Linkage = enum.LinkageInternal

	assert.False(t, eligible(llvmGlobal))
	assert.False(t, eligible(dunderGlobal))
}

func TestEligibleAcceptsIntGlobal(t *testing.T) {
	m := ir.NewModule()
	g := m.NewGlobalDef("counter", constant.NewInt(types.I32, 42))
	g.Linkage = enum.LinkagePrivate

	assert.True(t, eligible(g))
}

func TestLinkOnceODRDemotedToInternalAfterEncryption(t *testing.T) {
	m := ir.NewModule()
	g := m.NewGlobalDef("shared_const", constant.NewInt(types.I32, 7))
	g.Linkage = enum.LinkageLinkOnceODR

	f := m.NewFunc("reader", types.I32)
	entry := f.NewBlock("entry")
	load := entry.NewLoad(types.I32, g)
	entry.Term = ir.NewRet(load)

	changed, err := New().RunOnModule(m, testContext(2), nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, enum.LinkageInternal, g.Linkage)
}

func TestConstBytesHandlesCharArray(t *testing.T) {
	c := constant.NewCharArrayFromString("ab")
	out := constBytes(c)
	require.Len(t, out, 2)
	assert.Equal(t, byte('a'), out[0])
	assert.Equal(t, byte('b'), out[1])
}

