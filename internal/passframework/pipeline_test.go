package passframework

import (
	"errors"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
)

func newTestModule(names ...string) (*ir.Module, []*ir.Func) {
	m := ir.NewModule()
	var funcs []*ir.Func
	for _, name := range names {
		f := m.NewFunc(name, types.Void)
		entry := f.NewBlock("entry")
		entry.Term = ir.NewRet(nil)
		funcs = append(funcs, f)
	}
	return m, funcs
}

type recordingPass struct {
	info PassInfo
	ran  *[]string
}

func (p *recordingPass) Info() PassInfo { return p.info }
func (p *recordingPass) RunOnFunction(f *ir.Func, ctx *Context) (bool, error) {
	*p.ran = append(*p.ran, p.info.Name+":"+f.GlobalName)
	return true, nil
}

type erroringPass struct{}

func (erroringPass) Info() PassInfo { return PassInfo{Name: "erroring"} }
func (erroringPass) RunOnFunction(f *ir.Func, ctx *Context) (bool, error) {
	return false, errors.New("boom")
}

func testContext() *Context {
	return NewContext(obfrand.NewSeeded(1), NopLogger{})
}

func TestPipelineRunsFunctionPassesInOrder(t *testing.T) {
	m, _ := newTestModule("a", "b")
	var ran []string
	p1 := &recordingPass{info: PassInfo{Name: "first"}, ran: &ran}
	p2 := &recordingPass{info: PassInfo{Name: "second"}, ran: &ran}
	pipeline := NewPipeline(p1, p2)

	changed, err := pipeline.Run(m, testContext(), nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"first:a", "first:b", "second:a", "second:b"}, ran)
}

func TestPipelineMarksChangedFunctionsNoOptimize(t *testing.T) {
	m, funcs := newTestModule("a")
	var ran []string
	pipeline := NewPipeline(&recordingPass{info: PassInfo{Name: "p"}, ran: &ran})

	_, err := pipeline.Run(m, testContext(), nil)
	require.NoError(t, err)

	f := funcs[0]
	assert.Contains(t, f.FuncAttrs, enum.FuncAttrNoInline)
	assert.Contains(t, f.FuncAttrs, enum.FuncAttrOptNone)
}

func TestPipelineSkipsUnselectedFunctions(t *testing.T) {
	m, _ := newTestModule("a", "b")
	var ran []string
	pipeline := NewPipeline(&recordingPass{info: PassInfo{Name: "p"}, ran: &ran})

	_, err := pipeline.Run(m, testContext(), Selection{"a": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p:a"}, ran)
}

func TestPipelineEmptyNonNilSelectionRunsNoFunctions(t *testing.T) {
	m, _ := newTestModule("a", "b")
	var ran []string
	pipeline := NewPipeline(&recordingPass{info: PassInfo{Name: "p"}, ran: &ran})

	_, err := pipeline.Run(m, testContext(), Selection{})
	require.NoError(t, err)
	assert.Empty(t, ran, "an explicit empty selection must select no functions")
}

func TestSelectionIncludes(t *testing.T) {
	var nilSel Selection
	assert.True(t, nilSel.Includes("anything"), "nil selection means apply to all")

	emptySel := Selection{}
	assert.False(t, emptySel.Includes("anything"), "non-nil empty selection means apply to none")

	sel := Selection{"a": true}
	assert.True(t, sel.Includes("a"))
	assert.False(t, sel.Includes("b"))
}

func TestPipelineStopsOnError(t *testing.T) {
	m, _ := newTestModule("a")
	pipeline := NewPipeline(erroringPass{})

	_, err := pipeline.Run(m, testContext(), nil)
	assert.Error(t, err)
}

func TestPipelineSkipsDeclarations(t *testing.T) {
	m := ir.NewModule()
	decl := m.NewFunc("decl_only", types.Void) // no blocks: a declaration
	_ = decl
	var ran []string
	pipeline := NewPipeline(&recordingPass{info: PassInfo{Name: "p"}, ran: &ran})

	_, err := pipeline.Run(m, testContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, ran)
}
