package passframework

import "fmt"

// AnyPass is the union FunctionPass | ModulePass, mirroring the reference
// registry's `type[FunctionPass | ModulePass]`.
type AnyPass interface{}

// Registry is a process-wide, insertion-ordered mapping from pass name to a
// pass constructor, matching spec_full.md §4.1 ("process-wide
// insertion-ordered mapping... passes register themselves at load time").
// It is populated at program start via init()-time Register calls and never
// mutated afterward, so — per spec_full.md §5 — it needs no synchronization.
type Registry struct {
	order  []string
	ctors  map[string]func() AnyPass
	infos  map[string]PassInfo
}

// globalRegistry is the default process-wide registry passes register
// themselves into.
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]func() AnyPass), infos: make(map[string]PassInfo)}
}

// Register adds pass_cls to the registry under info.Name; registering the
// same name twice is a programmer error (the python reference simply
// overwrites — spec_full.md's pass-framework error table does not name a
// recoverable case for it — so this panics at init time rather than letting
// a silent shadow reach a pipeline run).
func (r *Registry) Register(info PassInfo, ctor func() AnyPass) {
	if _, exists := r.ctors[info.Name]; exists {
		panic(fmt.Sprintf("passframework: duplicate pass registration %q", info.Name))
	}
	r.order = append(r.order, info.Name)
	r.ctors[info.Name] = ctor
	r.infos[info.Name] = info
}

// Get constructs a fresh instance of the named pass, or reports ok=false if
// no such pass is registered.
func (r *Registry) Get(name string) (AnyPass, bool) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// All returns every registered pass's metadata in registration order — the
// "pass metadata surface" of spec_full.md §6.
func (r *Registry) All() []PassInfo {
	out := make([]PassInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.infos[name])
	}
	return out
}

// Global returns the process-wide default registry.
func Global() *Registry { return globalRegistry }

// Register registers a pass into the global registry.
func Register(info PassInfo, ctor func() AnyPass) { globalRegistry.Register(info, ctor) }
