// Package registry implements the Module Registry (C1): a static,
// read-only-after-init name -> descriptor table. It wraps the existing
// modules.ModuleRegistry (which resolves names to runnable types.Module
// values) with the per-module ModuleDescriptor metadata spec.md §3
// requires (classification, parallelization hint) so the engine and
// statistics aggregator can reason about a module without inspecting its
// code. Grounded on pkg/modules/registry.go's ModuleRegistry/
// registerBuiltinModules shape.
package registry

import (
	"sync"

	"github.com/forgeops/forge/pkg/modules"
	"github.com/forgeops/forge/pkg/types"
)

// Registry resolves a module name to both its runnable implementation and
// its static descriptor. Lookups are O(1); the table is populated once at
// construction and never mutated afterward in normal operation.
type Registry struct {
	mu          sync.RWMutex
	modules     *modules.ModuleRegistry
	descriptors map[string]types.ModuleDescriptor
}

// builtinDescriptors is the static classification/hint table for every
// module shipped in pkg/modules, keyed by module name. This is the single
// place that encodes spec.md §3's "classification is static metadata"
// requirement; modules themselves carry no scheduling opinion.
var builtinDescriptors = map[string]types.ModuleDescriptor{
	"ping":    {Classification: types.LocalLogic, Hint: types.FullyParallelHint()},
	"debug":   {Classification: types.LocalLogic, Hint: types.FullyParallelHint()},
	"setup":   {Classification: types.NativeTransport, Hint: types.FullyParallelHint()},
	"command": {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"shell":   {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"streaming_shell": {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},

	"copy":          {Classification: types.NativeTransport, Hint: types.FullyParallelHint()},
	"enhanced_copy":  {Classification: types.NativeTransport, Hint: types.FullyParallelHint()},
	"template":      {Classification: types.NativeTransport, Hint: types.FullyParallelHint()},
	"file":          {Classification: types.NativeTransport, Hint: types.FullyParallelHint()},
	"lineinfile":    {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"blockinfile":   {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"replace":       {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"ini_file":      {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"xml":           {Classification: types.PythonFallback, Hint: types.FullyParallelHint()},
	"archive":       {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},
	"unarchive":     {Classification: types.RemoteCommand, Hint: types.FullyParallelHint()},

	"user":  {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"group": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"mount": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"cron":  {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},

	"service": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"systemd": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},

	// Package managers share a host-wide lock file: HostExclusive.
	"package":   {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"apt":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"yum":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"dnf":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"pip":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"gem":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"npm":       {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"homebrew":  {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"repository": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},

	// Firewalls mutate a single host-wide ruleset: HostExclusive.
	"iptables": {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},
	"sysctl":   {Classification: types.RemoteCommand, Hint: types.HostExclusiveHint()},

	// Cloud/API-shaped modules: RateLimited.
	"deployment": {Classification: types.RemoteCommand, Hint: types.RateLimitedHint(5)},
}

// defaultDescriptor is used for any module name not present in the static
// table (e.g. a test double registered directly against modules.ModuleRegistry).
var defaultDescriptor = types.ModuleDescriptor{
	Classification: types.RemoteCommand,
	Hint:           types.FullyParallelHint(),
}

// New builds a Registry over an existing modules.ModuleRegistry, attaching
// the static descriptor table above (falling back to defaultDescriptor for
// names it doesn't recognize).
func New(mr *modules.ModuleRegistry) *Registry {
	r := &Registry{
		modules:     mr,
		descriptors: make(map[string]types.ModuleDescriptor),
	}
	for _, name := range mr.ListModules() {
		desc, ok := builtinDescriptors[name]
		if !ok {
			desc = defaultDescriptor
		}
		desc.Name = name
		if mod, err := mr.GetModule(name); err == nil {
			desc.Parameters = mod.Documentation().Parameters
		}
		r.descriptors[name] = desc
	}
	return r
}

// Default wraps modules.DefaultModuleRegistry.
func Default() *Registry {
	return New(modules.DefaultModuleRegistry)
}

// Get resolves a module name to its runnable implementation and
// descriptor. Returns types.UnknownModuleError if the name was never
// registered, matching spec.md §4.1's dispatch-time error surface.
func (r *Registry) Get(name string) (types.Module, types.ModuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, err := r.modules.GetModule(name)
	if err != nil {
		return nil, types.ModuleDescriptor{}, types.NewUnknownModuleError(name)
	}
	desc, ok := r.descriptors[name]
	if !ok {
		desc = defaultDescriptor
		desc.Name = name
	}
	return mod, desc, nil
}

// Descriptor returns just the static descriptor for name, for callers
// (like the engine's scheduler) that only need the classification/hint and
// not the module value itself.
func (r *Registry) Descriptor(name string) (types.ModuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[name]
	if !ok {
		return types.ModuleDescriptor{}, types.NewUnknownModuleError(name)
	}
	return desc, nil
}

// Names returns every registered module name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	return out
}
