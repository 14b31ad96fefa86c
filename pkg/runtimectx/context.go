// Package runtimectx implements the Runtime Context (C8): per-host mutable
// state consulted during task execution — the layered variable scope,
// registered task results, and the notified-handler set. Renamed and
// generalized from pkg/vars/manager.go's VarManager, which held only a
// flat map of variables over a flat map of gathered facts; this package
// keeps VarManager's fact-gathering helpers (embedded, unchanged) but
// replaces its two-tier precedence with the full ordered scope chain from
// spec.md §4.8.
package runtimectx

import (
	"sort"
	"sync"
	"time"

	"github.com/forgeops/forge/pkg/cache"
	"github.com/forgeops/forge/pkg/types"
)

// Context is the per-host runtime scope. It is owned exclusively by the
// task currently scheduled on its host — spec.md §5 requires no locking
// beyond the engine's one-task-per-host dispatch discipline, but an
// internal mutex is kept anyway since callbacks may read it concurrently
// with the executing task (read-only introspection, e.g. ContextCallback).
type Context struct {
	mu sync.RWMutex

	host string

	// Layers, highest precedence first.
	taskVars       map[string]interface{}
	registered     map[string]interface{} // register: results
	setFacts       map[string]interface{} // set_fact results
	hostVars       map[string]interface{}
	groupVarsChain []map[string]interface{} // nearest child group first, ancestors last
	inventoryVars  map[string]interface{}

	notifiedHandlers []string
	notifiedSet      map[string]struct{}

	lastResult *types.Result

	// FactCache, when set, is the promotion target for set_fact(cacheable=true).
	FactCache *cache.TieredCache
}

// New creates a Context for a single host. groupVarsChain must already be
// ordered nearest-child-group-first, farthest-ancestor-last (the caller,
// typically the inventory resolver, owns walking the group DAG).
func New(host string, hostVars map[string]interface{}, groupVarsChain []map[string]interface{}, inventoryVars map[string]interface{}) *Context {
	return &Context{
		host:           host,
		taskVars:       make(map[string]interface{}),
		registered:     make(map[string]interface{}),
		setFacts:       make(map[string]interface{}),
		hostVars:       copyMap(hostVars),
		groupVarsChain: groupVarsChain,
		inventoryVars:  copyMap(inventoryVars),
		notifiedSet:    make(map[string]struct{}),
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Host returns the hostname this context belongs to.
func (c *Context) Host() string { return c.host }

// SetTaskVars installs the current task's `vars:` block, replacing any
// previous task-scoped vars. Highest-precedence layer.
func (c *Context) SetTaskVars(vars map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskVars = copyMap(vars)
}

// Register binds a task's result to name for use by later tasks
// (`register:`). Persists for the rest of the play.
func (c *Context) Register(name string, result *types.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[name] = resultToVarMap(result)
	c.lastResult = result
}

// SetFact stores a set_fact result, optionally promoting it into the fact
// cache when cacheable is true — the integration point spec.md §4.8 names
// explicitly ("set_fact's cacheable=true additionally promotes the fact
// into the fact cache for future plays/runs").
func (c *Context) SetFact(name string, value interface{}, cacheable bool) {
	c.mu.Lock()
	c.setFacts[name] = value
	facts := copyMap(c.setFacts)
	c.mu.Unlock()

	if cacheable && c.FactCache != nil {
		keys := make([]string, 0, len(facts))
		for k := range facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pf := cache.FromFlat(c.host, time.Now(), []string{"set_fact"}, keys, facts)
		c.FactCache.Insert(c.host, pf)
	}
}

// LastResult returns the most recently registered result, or nil.
func (c *Context) LastResult() *types.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResult
}

// Get resolves a variable by walking the precedence chain from spec.md
// §4.8: task vars -> registered results -> set_fact results -> host vars
// -> group vars (nearest child to farthest ancestor) -> inventory-wide
// defaults.
func (c *Context) Get(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.taskVars[name]; ok {
		return v, true
	}
	if v, ok := c.registered[name]; ok {
		return v, true
	}
	if v, ok := c.setFacts[name]; ok {
		return v, true
	}
	if v, ok := c.hostVars[name]; ok {
		return v, true
	}
	for _, layer := range c.groupVarsChain {
		if v, ok := layer[name]; ok {
			return v, true
		}
	}
	if v, ok := c.inventoryVars[name]; ok {
		return v, true
	}
	return nil, false
}

// All flattens every layer into one map, precedence-ordered, for handing
// to the template/condition evaluator as its variable lookup table.
func (c *Context) All() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]interface{})
	// Apply lowest precedence first so higher layers overwrite it.
	for k, v := range c.inventoryVars {
		out[k] = v
	}
	for i := len(c.groupVarsChain) - 1; i >= 0; i-- {
		for k, v := range c.groupVarsChain[i] {
			out[k] = v
		}
	}
	for k, v := range c.hostVars {
		out[k] = v
	}
	for k, v := range c.setFacts {
		out[k] = v
	}
	for k, v := range c.registered {
		out[k] = v
	}
	for k, v := range c.taskVars {
		out[k] = v
	}
	return out
}

// NotifyHandler inserts a handler name into this host's notified set,
// deduped and insertion-ordered, per spec.md §4.7.
func (c *Context) NotifyHandler(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.notifiedSet[name]; exists {
		return
	}
	c.notifiedSet[name] = struct{}{}
	c.notifiedHandlers = append(c.notifiedHandlers, name)
}

// NotifiedHandlers returns the handler names notified so far, in the order
// they were first notified.
func (c *Context) NotifiedHandlers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.notifiedHandlers))
	copy(out, c.notifiedHandlers)
	return out
}

// ClearNotifiedHandlers empties the notified set, e.g. after handlers run
// at the end of a play.
func (c *Context) ClearNotifiedHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiedHandlers = nil
	c.notifiedSet = make(map[string]struct{})
}

// resultToVarMap converts a Result into the map shape `register:` exposes
// to later tasks (mirrors Ansible's {{ result.stdout }}-style access).
func resultToVarMap(result *types.Result) map[string]interface{} {
	if result == nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{
		"success":    result.Success,
		"changed":    result.Changed,
		"message":    result.Message,
		"host":       result.Host,
		"task_name":  result.TaskName,
		"module":     result.ModuleName,
		"simulated":  result.Simulated,
	}
	for k, v := range result.Data {
		out[k] = v
	}
	return out
}
