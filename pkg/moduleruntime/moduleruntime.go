// Package moduleruntime implements the Module Runtime (C3): evaluating a
// single (task, host) pair against the idempotent module contract —
// parameter resolution, validate, when-skip, check/diff dispatch, result
// normalization, and handler-notify derivation. Conditions are evaluated
// with pkg/runner/evaluator.go's ConditionEvaluator, and check/diff
// dispatch operates against the typed types.ModuleContext
// carried on ctx (see types.ContextWithModuleContext) rather than through
// magic "_check_mode"/"_diff" keys smuggled into the args map. Modules
// implementing types.CheckDiffModule get their Check or Diff method
// called directly instead of Run; modules implementing only types.Module
// or types.ModuleV2 read the mode off ctx themselves if they care.
package moduleruntime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forgeops/forge/pkg/registry"
	"github.com/forgeops/forge/pkg/runner"
	"github.com/forgeops/forge/pkg/runtimectx"
	"github.com/forgeops/forge/pkg/types"
)

// Outcome is everything moduleruntime.Evaluate produces for one
// (task, host) pair: the normalized result plus the handler names the
// engine should notify.
type Outcome struct {
	Result       *types.Result
	NotifyNames  []string // task.Notify filtered by declaredHandlers (unfiltered when it is nil), only when Result.Changed
	Duration     time.Duration
}

// Evaluate runs task against host through module, honoring
// spec.md §4.3's contract. declaredHandlers is the set of handler names
// known to the enclosing play, used to compute the notify intersection.
func Evaluate(
	ctx context.Context,
	reg *registry.Registry,
	task types.Task,
	host string,
	conn types.Connection,
	rtctx *runtimectx.Context,
	mctx types.ModuleContext,
	declaredHandlers map[string]struct{},
) (*Outcome, error) {
	start := time.Now()
	execID := uuid.New().String()

	module, desc, err := reg.Get(string(task.Module))
	if err != nil {
		return &Outcome{Result: &types.Result{
			ExecutionID: execID,
			Success:   false,
			Host:      host,
			TaskName:  task.Name,
			ModuleName: string(task.Module),
			Error:     err,
			StartTime: start,
			EndTime:   time.Now(),
		}}, err
	}

	// 1. Resolve parameter map: task vars layered over task args, then
	// published to the runtime context as its task vars.
	params := resolveParams(task, rtctx)

	// 1a. Apply descriptor-declared defaults, then reject if any required
	// parameter is still missing (spec.md §4.3 step 1) before ever calling
	// Validate. This is enforced by the runtime itself, not by each module
	// remembering to check its own required params inside Validate.
	applyParamDefaults(params, desc.Parameters)
	if missing := firstMissingRequiredParam(params, desc.Parameters); missing != "" {
		merr := types.NewMissingParameterError(string(task.Module), missing)
		result := failResult(execID, host, task, start, merr)
		return &Outcome{Result: result, Duration: result.Duration}, merr
	}

	// 2. Validate.
	if verr := module.Validate(params); verr != nil {
		result := failResult(execID, host, task, start, verr)
		return &Outcome{Result: result, Duration: result.Duration}, verr
	}

	// 3. Evaluate `when`.
	evaluator := runner.NewConditionEvaluator(rtctx.All())
	run, werr := evaluator.EvaluateWhen(task.When)
	if werr != nil {
		result := failResult(execID, host, task, start, werr)
		return &Outcome{Result: result, Duration: result.Duration}, werr
	}
	if !run {
		end := time.Now()
		result := &types.Result{
			ExecutionID: execID,
			Success:    true,
			Changed:    false,
			Host:       host,
			TaskName:   task.Name,
			ModuleName: string(task.Module),
			Message:    "Conditional check failed, skipping",
			Data:       map[string]interface{}{"skipped": true},
			StartTime:  start,
			EndTime:    end,
			Duration:   end.Sub(start),
		}
		return &Outcome{Result: result, Duration: result.Duration}, nil
	}

	// 4. Dispatch based on check/diff mode. ModuleContext carries CheckMode
	// and DiffMode as typed fields on ctx (ContextWithModuleContext below);
	// no module reads a magic "_check_mode"/"_diff" key out of its args map.
	// Modules implementing types.CheckDiffModule get a dedicated Check or
	// Diff method call instead of Run, so the no-mutation guarantee of
	// check mode is enforced by which method moduleruntime invokes, not by
	// a convention each module must remember inside Run. Modules
	// implementing only types.ModuleV2 or types.Module still work: they
	// read ModuleContextFromContext(ctx) themselves if they care.
	mctx.Become = task.Become
	mctx.BecomeUser = task.BecomeUser
	mctx.TaskVars = params
	ctx = types.ContextWithModuleContext(ctx, mctx)

	var result *types.Result
	var rerr error
	switch {
	case mctx.DiffMode:
		if cd, ok := module.(types.CheckDiffModule); ok {
			result, rerr = cd.Diff(ctx, mctx, conn, params)
			break
		}
		fallthrough
	case mctx.CheckMode:
		if cd, ok := module.(types.CheckDiffModule); ok {
			result, rerr = cd.Check(ctx, mctx, conn, params)
			break
		}
		fallthrough
	default:
		if v2, ok := module.(types.ModuleV2); ok {
			result, rerr = v2.RunV2(ctx, mctx, conn, params)
		} else {
			result, rerr = module.Run(ctx, conn, params)
		}
	}
	end := time.Now()
	if result == nil {
		result = &types.Result{Success: false}
	}
	result.ExecutionID = execID
	result.Host = host
	result.TaskName = task.Name
	result.ModuleName = string(task.Module)
	if result.StartTime.IsZero() {
		result.StartTime = start
	}
	result.EndTime = end
	result.Duration = end.Sub(start)
	if rerr != nil {
		result.Success = false
		result.Error = rerr
	}

	// 5. Normalize: skipped implies not changed (spec.md's
	// ModuleOutput.skipped => !ModuleOutput.changed invariant), read from
	// the same "skipped" Data key the when-skip result above sets.
	if isSkipped(result) {
		result.Changed = false
	}

	// Apply failed_when / changed_when overrides, if the task configured them.
	if task.FailedWhen != nil {
		failed, ferr := evaluator.EvaluateFailedWhen(task.FailedWhen, result)
		if ferr == nil {
			result.Success = !failed
		}
	}
	if task.ChangedWhen != nil {
		changed, cerr := evaluator.EvaluateChangedWhen(task.ChangedWhen, result)
		if cerr == nil {
			result.Changed = changed
		}
	}

	// 6. Derive notify list: only when changed, intersected with the play's
	// declared handlers.
	var notify []string
	if result.Changed {
		for _, name := range task.Notify {
			if declaredHandlers == nil {
				notify = append(notify, name)
				continue
			}
			if _, ok := declaredHandlers[name]; ok {
				notify = append(notify, name)
			}
		}
	}

	if task.Register != "" {
		rtctx.Register(task.Register, result)
	}

	return &Outcome{Result: result, NotifyNames: notify, Duration: result.Duration}, rerr
}

func isSkipped(result *types.Result) bool {
	if result == nil || result.Data == nil {
		return false
	}
	skipped, _ := result.Data["skipped"].(bool)
	return skipped
}

// applyParamDefaults fills in params from each parameter's declared
// ParamDoc.Default when the caller didn't supply a value, mirroring the
// default-application step of spec.md §4.3's parameter resolution.
func applyParamDefaults(params map[string]interface{}, paramDocs map[string]types.ParamDoc) {
	for name, doc := range paramDocs {
		if doc.Default == nil {
			continue
		}
		if _, present := params[name]; !present {
			params[name] = doc.Default
		}
	}
}

// firstMissingRequiredParam returns the name of the first required
// parameter (per paramDocs) absent from params, or "" if none is missing.
func firstMissingRequiredParam(params map[string]interface{}, paramDocs map[string]types.ParamDoc) string {
	for name, doc := range paramDocs {
		if !doc.Required {
			continue
		}
		if _, present := params[name]; !present {
			return name
		}
	}
	return ""
}

func resolveParams(task types.Task, rtctx *runtimectx.Context) map[string]interface{} {
	params := make(map[string]interface{}, len(task.Args)+len(task.Vars))
	for k, v := range task.Args {
		params[k] = v
	}
	// task.Vars layers over Args: Ansible lets a task's own vars: block
	// supply module parameters by name.
	for k, v := range task.Vars {
		params[k] = v
	}
	if rtctx != nil {
		rtctx.SetTaskVars(params)
	}
	return params
}

func failResult(execID, host string, task types.Task, start time.Time, err error) *types.Result {
	end := time.Now()
	return &types.Result{
		ExecutionID: execID,
		Success:    false,
		Host:       host,
		TaskName:   task.Name,
		ModuleName: string(task.Module),
		Error:      err,
		Message:    err.Error(),
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
	}
}
