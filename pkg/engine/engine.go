// Package engine implements the Task Execution Engine (C7): it drives a
// play (hosts x tasks + handlers) through pkg/moduleruntime, honoring each
// module's parallelization hint, retry/delay policy, unreachable-host
// bookkeeping, and end-of-play handler firing. Hosts are dispatched through
// errgroup with a fork limit, scheduled on a single per-module axis
// (FullyParallel/HostExclusive/RateLimited/Serial) instead of a single
// per-play strategy choice.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/forgeops/forge/pkg/callback"
	"github.com/forgeops/forge/pkg/moduleruntime"
	"github.com/forgeops/forge/pkg/registry"
	"github.com/forgeops/forge/pkg/runtimectx"
	"github.com/forgeops/forge/pkg/types"
)

// Engine runs plays. One Engine is shared across an entire playbook run so
// that HostExclusive/Serial/RateLimited scheduling state (host mutexes,
// rate-limit buckets) is consistent across every play and task, matching
// spec.md §4.7's "across the whole engine" / "globally" language.
type Engine struct {
	registry  *registry.Registry
	callbacks *callback.CallbackManager
	maxForks  int
	log       logr.Logger

	hostGate *hostGate

	mu           sync.Mutex
	rateLimiters map[float64]*tokenBucket
	serialMu     sync.Mutex
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxForks bounds the number of hosts dispatched concurrently for a
// FullyParallel/RateLimited task. Defaults to 10.
func WithMaxForks(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxForks = n
		}
	}
}

// WithLogger attaches a structured logger for engine lifecycle events
// (unreachable hosts, retries, handler fires). Defaults to a no-op logger.
func WithLogger(l logr.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New builds an Engine over reg, optionally reporting lifecycle events to cb.
func New(reg *registry.Registry, cb *callback.CallbackManager, opts ...Option) *Engine {
	e := &Engine{
		registry:     reg,
		callbacks:    cb,
		maxForks:     10,
		log:          logr.Discard(),
		hostGate:     newHostGate(),
		rateLimiters: make(map[float64]*tokenBucket),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) bucketFor(rps float64) *tokenBucket {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.rateLimiters[rps]
	if !ok {
		b = newTokenBucket(rps)
		e.rateLimiters[rps] = b
	}
	return b
}

// hostRun is one host's outcome across a play: its runtime context, whether
// it has been excluded from further tasks, and why.
type hostRun struct {
	ctx     *runtimectx.Context
	conn    types.Connection
	host    types.Host
	skipped bool
	reason  string
}

// RunPlay executes every task (pre_tasks, tasks, post_tasks in that order)
// of play across hosts, then fires notified handlers once per host, in the
// order each host first notified them. contexts and connections must have
// one entry per host.Name.
func (e *Engine) RunPlay(
	ctx context.Context,
	play types.Play,
	hosts []types.Host,
	contexts map[string]*runtimectx.Context,
	connections map[string]types.Connection,
) ([]types.Result, error) {
	if e.callbacks != nil {
		e.callbacks.OnPlayStart(&play)
	}

	runs := make(map[string]*hostRun, len(hosts))
	for _, h := range hosts {
		runs[h.Name] = &hostRun{ctx: contexts[h.Name], conn: connections[h.Name], host: h}
	}

	declared := make(map[string]struct{}, len(play.Handlers))
	for _, handler := range play.Handlers {
		declared[handler.Name] = struct{}{}
	}

	var allResults []types.Result
	taskLists := [][]types.Task{play.PreTasks, play.Tasks, play.PostTasks}
	for _, tasks := range taskLists {
		for _, task := range tasks {
			results, err := e.runTask(ctx, task, runs, declared)
			allResults = append(allResults, results...)
			if err != nil {
				return allResults, err
			}
		}
	}

	handlerResults, err := e.runHandlers(ctx, play.Handlers, runs)
	allResults = append(allResults, handlerResults...)

	if e.callbacks != nil {
		e.callbacks.OnPlayEnd(&play, allResults)
	}
	return allResults, err
}

// runTask dispatches task to every eligible host according to its module's
// parallelization hint, applying the task's retry/delay policy per host.
func (e *Engine) runTask(
	ctx context.Context,
	task types.Task,
	runs map[string]*hostRun,
	declared map[string]struct{},
) ([]types.Result, error) {
	eligible := make([]*hostRun, 0, len(runs))
	eligibleHosts := make([]types.Host, 0, len(runs))
	for _, run := range runs {
		if run.skipped {
			continue
		}
		eligible = append(eligible, run)
		eligibleHosts = append(eligibleHosts, run.host)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	if e.callbacks != nil {
		e.callbacks.OnTaskStart(&task, eligibleHosts)
	}

	desc, descErr := e.registry.Descriptor(string(task.Module))
	hint := types.FullyParallelHint()
	if descErr == nil {
		hint = desc.Hint
	}

	results := make([]types.Result, len(eligible))
	resultsMu := sync.Mutex{}
	record := func(i int, result *types.Result) {
		resultsMu.Lock()
		results[i] = *result
		resultsMu.Unlock()
	}

	run := func(gctx context.Context, i int, hr *hostRun) error {
		result, notify := e.executeWithRetry(gctx, task, hr, declared)
		record(i, result)
		if e.callbacks != nil {
			e.callbacks.OnTaskResult(&task, result)
		}
		for _, name := range notify {
			hr.ctx.NotifyHandler(name)
		}
		if !result.Success && !task.IgnoreErrors {
			hr.skipped = true
			hr.reason = result.Message
			e.log.Info("host excluded from remaining play tasks", "host", hr.host.Name, "task", task.Name, "reason", result.Message, "execution_id", result.ExecutionID)
		}
		return nil
	}

	switch hint.Mode {
	case types.Serial:
		for i, hr := range eligible {
			e.serialMu.Lock()
			_ = run(ctx, i, hr)
			e.serialMu.Unlock()
		}
	case types.HostExclusive:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxForks)
		for i, hr := range eligible {
			i, hr := i, hr
			g.Go(func() error {
				lock := e.hostGate.lockFor(hr.host.Name)
				lock.Lock()
				defer lock.Unlock()
				return run(gctx, i, hr)
			})
		}
		_ = g.Wait()
	case types.RateLimited:
		bucket := e.bucketFor(hint.RPS)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxForks)
		for i, hr := range eligible {
			i, hr := i, hr
			g.Go(func() error {
				if err := bucket.Acquire(gctx); err != nil {
					result := &types.Result{Host: hr.host.Name, Success: false, Error: err, Message: err.Error()}
					record(i, result)
					return nil
				}
				return run(gctx, i, hr)
			})
		}
		_ = g.Wait()
	default: // FullyParallel
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxForks)
		for i, hr := range eligible {
			i, hr := i, hr
			g.Go(func() error { return run(gctx, i, hr) })
		}
		_ = g.Wait()
	}

	select {
	case <-ctx.Done():
		return results, ctx.Err()
	default:
	}
	return results, nil
}

// executeWithRetry evaluates task once, then up to task.Retries more times
// on failure, sleeping task.Delay seconds between attempts, per spec.md
// §4.7's retry policy.
func (e *Engine) executeWithRetry(
	ctx context.Context,
	task types.Task,
	hr *hostRun,
	declared map[string]struct{},
) (*types.Result, []string) {
	mctx := types.ModuleContext{CheckMode: task.CheckMode, DiffMode: task.DiffMode}

	attempt := 0
	for {
		outcome, err := moduleruntime.Evaluate(ctx, e.registry, task, hr.host.Name, hr.conn, hr.ctx, mctx, declared)
		if outcome == nil {
			outcome = &moduleruntime.Outcome{Result: &types.Result{
				Host: hr.host.Name, Success: false, Error: err, Message: fmt.Sprintf("%v", err),
			}}
		}
		if outcome.Result.Success || task.IgnoreErrors || attempt >= task.Retries {
			return outcome.Result, outcome.NotifyNames
		}
		attempt++
		e.log.V(1).Info("retrying task", "host", hr.host.Name, "task", task.Name, "attempt", attempt, "max_retries", task.Retries)
		delay := time.Duration(task.Delay) * time.Second
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			outcome.Result.Error = ctx.Err()
			return outcome.Result, outcome.NotifyNames
		case <-timer.C:
		}
	}
}

// runHandlers fires each host's notified handlers once, in first-notified
// order, after the play's final task.
func (e *Engine) runHandlers(ctx context.Context, handlers []types.Task, runs map[string]*hostRun) ([]types.Result, error) {
	byName := make(map[string]types.Task, len(handlers))
	for _, h := range handlers {
		byName[h.Name] = h
	}

	var results []types.Result
	var resultsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxForks)

	for _, run := range runs {
		run := run
		if run.skipped {
			continue
		}
		names := run.ctx.NotifiedHandlers()
		if len(names) == 0 {
			continue
		}
		g.Go(func() error {
			for _, name := range names {
				handler, ok := byName[name]
				if !ok {
					continue
				}
				e.log.V(1).Info("firing notified handler", "host", run.host.Name, "handler", name)
				if e.callbacks != nil {
					e.callbacks.OnHandlerTriggered(name)
				}
				outcome, _ := moduleruntime.Evaluate(gctx, e.registry, handler, run.host.Name, run.conn, run.ctx, types.ModuleContext{}, nil)
				if outcome == nil {
					continue
				}
				resultsMu.Lock()
				results = append(results, *outcome.Result)
				resultsMu.Unlock()
				if e.callbacks != nil {
					e.callbacks.OnTaskResult(&handler, outcome.Result)
				}
			}
			run.ctx.ClearNotifiedHandlers()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
