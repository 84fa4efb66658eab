package passframework

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
)

// Pipeline is an ordered list of pass instances, spec_full.md §4.1's
// "run(module, ctx, selected_functions?) -> any_change".
type Pipeline struct {
	passes []AnyPass
}

func NewPipeline(passes ...AnyPass) *Pipeline {
	return &Pipeline{passes: passes}
}

func (p *Pipeline) Add(pass AnyPass) { p.passes = append(p.passes, pass) }

// Run executes every pass in declared order and, on success, stamps every
// function that a function pass reported as transformed with "noinline"
// and "optnone" so a downstream optimizer cannot undo the obfuscation
// (spec_full.md §4.1 step 2). It returns whether anything in the module
// changed. A pass that returns an error aborts the whole pipeline without
// rolling back prior mutations — spec_full.md §4.1's documented failure
// semantics.
func (p *Pipeline) Run(m *ir.Module, ctx *Context, selected Selection) (bool, error) {
	anyChange := false
	obfuscated := make(map[string]bool)

	for _, raw := range p.passes {
		switch pass := raw.(type) {
		case ModulePass:
			ctx.Logger.Infof("running module pass %s", pass.Info().Name)
			changed, err := pass.RunOnModule(m, ctx, selected)
			if err != nil {
				return anyChange, fmt.Errorf("pass %s: %w", pass.Info().Name, err)
			}
			anyChange = anyChange || changed
		case FunctionPass:
			ctx.Logger.Infof("running function pass %s", pass.Info().Name)
			for _, f := range m.Funcs {
				if isDeclaration(f) {
					continue
				}
				if !selected.Includes(f.GlobalIdent.GlobalName) {
					continue
				}
				changed, err := pass.RunOnFunction(f, ctx)
				if err != nil {
					return anyChange, fmt.Errorf("pass %s on function %s: %w",
						pass.Info().Name, f.GlobalIdent.GlobalName, err)
				}
				if changed {
					anyChange = true
					obfuscated[f.GlobalIdent.GlobalName] = true
				}
			}
		default:
			return anyChange, fmt.Errorf("passframework: pass %T implements neither FunctionPass nor ModulePass", raw)
		}
	}

	for _, f := range m.Funcs {
		if obfuscated[f.GlobalIdent.GlobalName] {
			MarkNoOptimize(f)
		}
	}

	return anyChange, nil
}

func isDeclaration(f *ir.Func) bool {
	return len(f.Blocks) == 0
}

// MarkNoOptimize adds the "noinline"/"optnone" attribute pair LLVM requires
// together (optnone without noinline is rejected by the real verifier),
// spec_full.md §4.1 step 2.
func MarkNoOptimize(f *ir.Func) {
	hasAttr := func(a enum.FuncAttr) bool {
		for _, existing := range f.FuncAttrs {
			if fa, ok := existing.(enum.FuncAttr); ok && fa == a {
				return true
			}
		}
		return false
	}
	if !hasAttr(enum.FuncAttrNoInline) {
		f.FuncAttrs = append(f.FuncAttrs, enum.FuncAttrNoInline)
	}
	if !hasAttr(enum.FuncAttrOptNone) {
		f.FuncAttrs = append(f.FuncAttrs, enum.FuncAttrOptNone)
	}
}
