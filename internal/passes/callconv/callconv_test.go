package callconv

import (
	"testing"

	"github.com/llir/llvm/ir"
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

// TestCallSitesMatchCalleeConvention exercises spec_full.md §8's explicit
// testable property: "every call site's calling convention matches the
// callee's calling convention."
func TestCallSitesMatchCalleeConvention(t *testing.T) {
	m := ir.NewModule()
	callee := m.NewFunc("helper", types.Void)
	callee.Linkage = enum.LinkageInternal
	callee.NewBlock("entry").Term = ir.NewRet(nil)

	caller := m.NewFunc("caller", types.Void)
	caller.Linkage = enum.LinkageInternal
	entry := caller.NewBlock("entry")
	call := entry.NewCall(callee)
	entry.Term = ir.NewRet(nil)

	changed, err := New().RunOnModule(m, testContext(11), nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, callee.CallConv, call.CallConv)
}

func TestExternalLinkageFunctionsUntouched(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("exported", types.Void)
	f.Linkage = enum.LinkageExternal
	f.NewBlock("entry").Term = ir.NewRet(nil)

	var zero enum.CallConv
	changed, err := New().RunOnModule(m, testContext(1), nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, zero, f.CallConv)
}

func TestDeclarationsAreSkipped(t *testing.T) {
	m := ir.NewModule()
	m.NewFunc("decl_only", types.Void) // no body, no blocks

	changed, err := New().RunOnModule(m, testContext(1), nil)
	require.NoError(t, err)
	assert.False(t, changed)
}
