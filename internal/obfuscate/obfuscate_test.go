package obfuscate

import (
	"fmt"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/passframework"
)

func buildSampleModule() *ir.Module {
	m := ir.NewModule()
	f := m.NewFunc("add", types.I32,
		ir.NewParam("a", types.I32),
		ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(sum)
	return m
}

func TestRunProducesVerifiableModule(t *testing.T) {
	m := buildSampleModule()
	seed := int64(123)

	changed, err := Run(m, Options{Seed: &seed})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestRunIsDeterministicForSameSeed(t *testing.T) {
	seed := int64(7)

	m1 := buildSampleModule()
	_, err := Run(m1, Options{Seed: &seed})
	require.NoError(t, err)

	m2 := buildSampleModule()
	_, err = Run(m2, Options{Seed: &seed})
	require.NoError(t, err)

	assert.Equal(t, m1.String(), m2.String())
}

func TestRunHonorsSelection(t *testing.T) {
	m := ir.NewModule()
	keep := m.NewFunc("keep", types.Void)
	keepEntry := keep.NewBlock("entry")
	keepEntry.Term = ir.NewRet(nil)

	skip := m.NewFunc("skip", types.Void)
	skipEntry := skip.NewBlock("entry")
	skipEntry.Term = ir.NewRet(nil)

	seed := int64(1)
	_, err := Run(m, Options{
		Seed:     &seed,
		Selected: passframework.Selection{"keep": true},
	})
	require.NoError(t, err)
	assert.Empty(t, skip.FuncAttrs, "unselected function must not be stamped")
	assert.Empty(t, skipEntry.Insts, "unselected function must not be rewritten")
}

func TestDefaultPipelineBuildsWithAndWithoutVirtualize(t *testing.T) {
	p := DefaultPipeline(Options{})
	assert.NotNil(t, p)

	pv := DefaultPipeline(Options{Virtualize: true})
	assert.NotNil(t, pv)
}

func TestNewContextTagsLoggerWithRunID(t *testing.T) {
	var messages []string
	logger := &capturingLogger{out: &messages}
	ctx := NewContext(Options{Logger: logger})

	ctx.Logger.Infof("hello %s", "world")
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "hello world")
	assert.Contains(t, messages[0], "[run ")
}

type capturingLogger struct {
	out *[]string
}

func (c *capturingLogger) Infof(format string, args ...interface{}) {
	*c.out = append(*c.out, fmt.Sprintf(format, args...))
}
func (c *capturingLogger) Errorf(format string, args ...interface{}) {
	*c.out = append(*c.out, fmt.Sprintf(format, args...))
}
