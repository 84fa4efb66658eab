// Package passframework implements the registry, ordered pipeline, and
// post-pass hardening described in spec_full.md §4.1, modeled on the
// teacher's internal/ir/optimizations.go OptimizationPass/
// OptimizationPipeline pattern: Name/Description/Apply there becomes
// Info/RunOnFunction/RunOnModule here, generalized to the function-pass vs.
// module-pass split this spec requires.
package passframework

import (
	"github.com/llir/llvm/ir"
)

// PassInfo is a pass's static metadata, surfaced to the driver/UI layer per
// spec_full.md §6 ("Pass metadata surface").
type PassInfo struct {
	Name          string
	Description   string
	IsModulePass  bool
}

// FunctionPass runs once per eligible function.
type FunctionPass interface {
	Info() PassInfo
	RunOnFunction(f *ir.Func, ctx *Context) (bool, error)
}

// ModulePass runs once for the whole module; it may honor or ignore the
// selected-functions filter (spec_full.md §4.1 step 1 — "global rewrites
// such as indirect-call always ignore it").
type ModulePass interface {
	Info() PassInfo
	RunOnModule(m *ir.Module, ctx *Context, selected Selection) (bool, error)
}

// Selection is the optional per-function filter passed to Pipeline.Run. A
// nil Selection means "apply to every eligible function"; a non-nil,
// possibly-empty Selection names exactly the functions to include (and
// excludes everything else, even if that set is empty).
type Selection map[string]bool

// Includes reports whether name is selected. A nil selection means "None"
// was passed and includes everything; a non-nil, possibly-empty selection
// is an explicit (if vacuous) function list and includes nothing
// (spec_full.md §8 Boundary Behaviors: "Empty selected_functions + function
// passes → no function changed, but module passes still run" is distinct
// from "None/nil → apply to all").
func (s Selection) Includes(name string) bool {
	if s == nil {
		return true
	}
	return s[name]
}
