// Package obfuscate ties every pass and the pass framework together into
// the single entry point the driver and tests call: Run, which builds
// DefaultPipeline, runs it, and verifies the result.
package obfuscate

import (
	"github.com/google/uuid"
	"github.com/llir/llvm/ir"

	"polaris/internal/diag"
	"polaris/internal/obfrand"
	"polaris/internal/passes/alias"
	"polaris/internal/passes/antidisasm"
	"polaris/internal/passes/bogus"
	"polaris/internal/passes/callconv"
	"polaris/internal/passes/flattening"
	"polaris/internal/passes/globalenc"
	"polaris/internal/passes/indirect"
	"polaris/internal/passes/mbaobf"
	"polaris/internal/passes/merge"
	"polaris/internal/passes/substitution"
	"polaris/internal/passes/virtualize"
	"polaris/internal/passframework"
	"polaris/internal/verify"
)

// Options configures a pipeline run.
type Options struct {
	// Seed, when non-nil, makes the run deterministic: every pass draws
	// from the same RNG sequence across two runs with the same seed and
	// input module, per spec_full.md §8's "Universal properties".
	Seed *int64

	// Logger receives pipeline progress; a nil Logger discards everything.
	Logger passframework.Logger

	// Selected restricts function passes to the named functions; nil
	// applies to every eligible function, and a non-nil empty Selection
	// applies to none (spec_full.md §4.1 step 1).
	Selected passframework.Selection

	// Virtualize opts a function-level selection of functions into the
	// virtualization subsystem in addition to whatever Selected names for
	// the rest of the pipeline; virtualization is expensive and opt-in
	// rather than bundled into the default pass order unconditionally.
	Virtualize bool

	// Diagnostics, when non-nil, receives the structured, coded diagnostics
	// a pass reports alongside Logger's free-text stream (internal/diag).
	Diagnostics *diag.Reporter
}

// DefaultPipeline builds the transformation passes in a fixed order:
// data/arithmetic passes before control-flow passes before the heaviest
// structural rewrites. Virtualization is appended last, only when
// opts.Virtualize is set, since it discards everything a prior pass did to
// a function's body.
func DefaultPipeline(opts Options) *passframework.Pipeline {
	passes := []passframework.AnyPass{
		substitution.New(),
		mbaobf.New(),
		globalenc.New(),
		alias.New(),
		indirect.NewBranchPass(),
		indirect.NewCallPass(),
		bogus.New(),
		flattening.New(),
		merge.New(),
		callconv.New(),
		antidisasm.New(),
	}
	if opts.Virtualize {
		passes = append(passes, virtualize.New())
	}
	return passframework.NewPipeline(passes...)
}

// NewContext builds the passframework.Context a pipeline run needs,
// wiring a fresh run identifier (github.com/google/uuid, the same
// ephemeral-identifier idiom go-probe uses) into the logger prefix so
// concurrent pipeline runs in the same process are distinguishable in
// logs, even though no two runs may share a module (spec_full.md §5).
func NewContext(opts Options) *passframework.Context {
	var rng *obfrand.Source
	if opts.Seed != nil {
		rng = obfrand.NewSeeded(*opts.Seed)
	} else {
		rng = obfrand.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = passframework.NopLogger{}
	}
	ctx := passframework.NewContext(rng, &runTaggedLogger{runID: uuid.New().String(), inner: logger})
	ctx.Diagnostics = opts.Diagnostics
	return ctx
}

// runTaggedLogger prefixes every message with a short run identifier, so
// a driver that fans a single process out across many obfuscation runs
// (spec_full.md §5: single-threaded per module, but nothing forbids
// sequential runs over distinct modules in one process) can tell their
// log lines apart.
type runTaggedLogger struct {
	runID string
	inner passframework.Logger
}

func (r *runTaggedLogger) Infof(format string, args ...interface{}) {
	r.inner.Infof("[run "+r.runID[:8]+"] "+format, args...)
}

func (r *runTaggedLogger) Errorf(format string, args ...interface{}) {
	r.inner.Errorf("[run "+r.runID[:8]+"] "+format, args...)
}

// Run executes the default pipeline against m and, on success, verifies
// the result once with internal/verify. It returns whether anything changed; a pipeline error or a verification
// failure is returned as the error.
func Run(m *ir.Module, opts Options) (bool, error) {
	ctx := NewContext(opts)
	pipeline := DefaultPipeline(opts)

	changed, err := pipeline.Run(m, ctx, opts.Selected)
	if err != nil {
		return changed, err
	}
	if err := verify.Verify(m); err != nil {
		return changed, err
	}
	return changed, nil
}
