package types

import "context"

// Classification buckets a module by how it reaches the target host, so the
// engine and registry can reason about cost and safety without knowing each
// module's internals.
type Classification string

const (
	// LocalLogic modules never touch the connection; they compute a result
	// purely from arguments and registered facts (e.g. debug, assert).
	LocalLogic Classification = "local_logic"

	// NativeTransport modules drive the connection's typed primitives
	// (UploadContent/DownloadContent/PathExists) directly rather than
	// shelling out a command line.
	NativeTransport Classification = "native_transport"

	// RemoteCommand modules build and execute a shell command line on the
	// target host via Connection.Execute.
	RemoteCommand Classification = "remote_command"

	// PythonFallback modules shell out to a Python-based helper on the
	// target (kept for Ansible-compatibility naming; in this runtime they
	// are executed the same way as RemoteCommand modules).
	PythonFallback Classification = "python_fallback"
)

// ParallelizationHint tells the engine how a module's invocations across
// hosts may be scheduled relative to each other.
type ParallelizationHint struct {
	// Mode selects the scheduling strategy.
	Mode ParallelizationMode

	// RPS is the token-bucket rate, only meaningful when Mode is RateLimited.
	RPS float64
}

// ParallelizationMode enumerates the scheduling strategies a module can request.
type ParallelizationMode string

const (
	// FullyParallel allows unlimited concurrent invocations across hosts,
	// bounded only by the engine's global concurrency limit.
	FullyParallel ParallelizationMode = "fully_parallel"

	// HostExclusive serializes invocations of this module against any other
	// HostExclusive module on the same host (e.g. package managers sharing
	// a lock file).
	HostExclusive ParallelizationMode = "host_exclusive"

	// RateLimited bounds invocations of this module to RPS requests/second
	// across the whole run, independent of host.
	RateLimited ParallelizationMode = "rate_limited"

	// Serial forces invocations of this module to run one at a time,
	// globally, regardless of host.
	Serial ParallelizationMode = "serial"
)

// FullyParallelHint is the default hint for modules with no special scheduling needs.
func FullyParallelHint() ParallelizationHint {
	return ParallelizationHint{Mode: FullyParallel}
}

// HostExclusiveHint serializes a module's invocations per host.
func HostExclusiveHint() ParallelizationHint {
	return ParallelizationHint{Mode: HostExclusive}
}

// RateLimitedHint bounds a module's invocations to rps requests/second.
func RateLimitedHint(rps float64) ParallelizationHint {
	return ParallelizationHint{Mode: RateLimited, RPS: rps}
}

// SerialHint forces a module to run one invocation at a time, globally.
func SerialHint() ParallelizationHint {
	return ParallelizationHint{Mode: Serial}
}

// ModuleDescriptor is the registry's metadata record for a module: enough
// for the engine to schedule it correctly and to validate its arguments
// without inspecting its code.
type ModuleDescriptor struct {
	Name           string
	Classification Classification
	Hint           ParallelizationHint
	// Parameters mirrors the module's own ModuleDoc.Parameters (name ->
	// ParamDoc), so moduleruntime can reject a task missing a required
	// parameter before ever calling Validate.
	Parameters map[string]ParamDoc
}

// ModuleContext carries the typed, per-invocation execution mode flags
// (check mode, diff mode, become/become_user, and the resolved task vars)
// that a module needs but that have no place in its own args map. It is
// attached to ctx rather than smuggled into args so module code reads it
// through a typed accessor instead of a magic key name.
type ModuleContext struct {
	CheckMode bool
	DiffMode  bool
	Become    bool
	BecomeUser string
	TaskVars  map[string]interface{}
}

type moduleContextKey struct{}

// ContextWithModuleContext attaches a ModuleContext to ctx.
func ContextWithModuleContext(ctx context.Context, mctx ModuleContext) context.Context {
	return context.WithValue(ctx, moduleContextKey{}, mctx)
}

// ModuleContextFromContext extracts the ModuleContext attached by
// ContextWithModuleContext, returning the zero value if none was set.
func ModuleContextFromContext(ctx context.Context) ModuleContext {
	if mctx, ok := ctx.Value(moduleContextKey{}).(ModuleContext); ok {
		return mctx
	}
	return ModuleContext{}
}

// ModuleV2 is an optional interface a module may implement to receive the
// typed ModuleContext directly as a parameter instead of pulling it back out
// of ctx via ModuleContextFromContext. New modules should implement this;
// modules that only implement Module keep working unchanged because
// moduleruntime always attaches a ModuleContext to ctx before calling Run.
type ModuleV2 interface {
	Module
	RunV2(ctx context.Context, mctx ModuleContext, conn Connection, args map[string]interface{}) (*Result, error)
}

// CheckDiffModule is an optional interface a module implements to expose
// check-mode and diff-mode as operations distinct from Run, mirroring the
// execute/check/diff trait split original_source/src/modules/dnf.rs uses.
// moduleruntime type-asserts for this interface and dispatches to Check or
// Diff directly instead of relying on a module to branch on
// ModuleContext.CheckMode/DiffMode inside its own Run body, so the
// no-mutation guarantee of check mode is enforced by which method gets
// called rather than by convention within the module.
type CheckDiffModule interface {
	Module

	// Check runs the module's logic without mutating target state and
	// reports what would have changed.
	Check(ctx context.Context, mctx ModuleContext, conn Connection, args map[string]interface{}) (*Result, error)

	// Diff reports the before/after state the module would produce,
	// without mutating target state.
	Diff(ctx context.Context, mctx ModuleContext, conn Connection, args map[string]interface{}) (*Result, error)
}
