package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeops/forge/pkg/cache"
	"github.com/forgeops/forge/pkg/callback"
	"github.com/forgeops/forge/pkg/config"
	"github.com/forgeops/forge/pkg/connection"
	"github.com/forgeops/forge/pkg/engine"
	"github.com/forgeops/forge/pkg/inventory"
	"github.com/forgeops/forge/pkg/logging"
	"github.com/forgeops/forge/pkg/modules"
	"github.com/forgeops/forge/pkg/playbook"
	"github.com/forgeops/forge/pkg/registry"
	"github.com/forgeops/forge/pkg/runtimectx"
	"github.com/forgeops/forge/pkg/stats"
	"github.com/forgeops/forge/pkg/types"
	"github.com/forgeops/forge/pkg/utils"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

// exit codes per spec.md §6
const (
	exitOK             = 0
	exitHostFailures   = 2
	exitUnreachable    = 3
	exitParseOrConfig  = 4
	exitInternal       = 250
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inventoryFile = flag.String("i", "", "Inventory file (required)")
		playbookFile  = flag.String("p", "", "Playbook file to execute")
		moduleCmd     = flag.String("m", "", "Module to execute")
		moduleArgs    = flag.String("a", "", "Module arguments (key=value pairs)")
		hosts         = flag.String("hosts", "all", "Host pattern to match")
		check         = flag.Bool("check", false, "Run in check mode (dry run)")
		diff          = flag.Bool("diff", false, "Show differences")
		verbose       = flag.Bool("v", false, "Verbose output")
		versionFlag   = flag.Bool("version", false, "Show version information")
		listHosts     = flag.Bool("list-hosts", false, "List matching hosts")
		listTasks     = flag.Bool("list-tasks", false, "List tasks in playbook")
		become        = flag.Bool("b", false, "Run with become (sudo)")
		becomeUser    = flag.String("become-user", "root", "User to become")
		forks         = flag.Int("f", 0, "Number of hosts dispatched concurrently (0 = use config/default)")
		jsonOut       = flag.Bool("json", false, "Emit machine-readable JSON events instead of TTY output")
		cachePath     = flag.String("cache-dir", "", "L2 (warm, on-disk) fact cache directory (overrides config)")
		configFile    = flag.String("c", "", "Config file (gosible.yaml-style); falls back to default search paths")
		streamLog     = flag.String("stream-log", "", "Append structured streaming_shell events (JSON lines) to this file")
		checkPrereqs  = flag.Bool("check-prereqs", false, "Verify the control node has ssh/scp (and common helpers) on PATH, then exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Gosinble - Ansible-compatible automation tool in Go\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s -i INVENTORY -p PLAYBOOK [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i INVENTORY -m MODULE -a ARGS [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("Gosinble version %s (commit: %s, built: %s)\n", version, commit, date)
		return exitOK
	}

	if *checkPrereqs {
		return runPrereqCheck()
	}

	if *inventoryFile == "" {
		fmt.Fprintf(os.Stderr, "Error: inventory file is required (-i)\n\n")
		flag.Usage()
		return exitParseOrConfig
	}
	if *playbookFile == "" && *moduleCmd == "" {
		fmt.Fprintf(os.Stderr, "Error: either playbook (-p) or module (-m) is required\n\n")
		flag.Usage()
		return exitParseOrConfig
	}

	cfg := config.NewConfig()
	if *configFile != "" {
		if err := cfg.Load(*configFile); err != nil {
			log.Printf("failed to load config file %s: %v", *configFile, err)
			return exitParseOrConfig
		}
	} else if err := cfg.LoadFromDefaultPaths(); err != nil {
		log.Printf("failed to load config: %v", err)
		return exitParseOrConfig
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		return exitParseOrConfig
	}

	inv, err := loadInventory(*inventoryFile)
	if err != nil {
		log.Printf("failed to load inventory: %v", err)
		return exitParseOrConfig
	}

	if *listHosts {
		matchedHosts, err := inv.GetHosts(*hosts)
		if err != nil {
			log.Printf("failed to get hosts: %v", err)
			return exitParseOrConfig
		}
		fmt.Printf("Matched hosts (%d):\n", len(matchedHosts))
		for _, host := range matchedHosts {
			fmt.Printf("  %s\n", host.Name)
		}
		return exitOK
	}

	forkCount := *forks
	if forkCount <= 0 {
		forkCount = cfg.GetInt("forks")
	}
	app, err := newApp(inv, cfg, appOptions{
		become:     *become,
		becomeUser: *becomeUser,
		forks:      forkCount,
		jsonOut:    *jsonOut,
		cachePath:  *cachePath,
		streamLog:  *streamLog,
	})
	if err != nil {
		log.Printf("failed to initialize engine: %v", err)
		return exitInternal
	}

	ctx := context.Background()
	var results []types.Result

	if *playbookFile != "" {
		results, err = app.runPlaybook(ctx, *playbookFile, *check, *diff, *listTasks, *verbose)
	} else {
		results, err = app.runAdHoc(ctx, *moduleCmd, *moduleArgs, *hosts, *check, *diff)
	}
	app.finish()
	if err != nil {
		log.Printf("execution failed: %v", err)
		if len(results) > 0 {
			return exitCodeFor(results)
		}
		return exitInternal
	}

	return exitCodeFor(results)
}

// runPrereqCheck verifies that the control node carries the external
// binaries this runtime's connection/transport-heavy modules shell out to
// (ssh/scp for the SSH transport, rsync/curl/tar for copy-and-archive
// modules), grounded on pkg/utils.GetCommonDependencies("ansible-like").
// It never touches an inventory or engine; it's a standalone doctor check.
func runPrereqCheck() int {
	checker := utils.NewCommandChecker()
	deps := utils.GetCommonDependencies("ansible-like")

	missing, _ := checker.CheckRequiredWithInstallInfo(deps.Required)
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing required control-node commands:\n")
		for cmd, hint := range missing {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", cmd, hint)
		}
		return exitParseOrConfig
	}

	if optMissing, _ := checker.CheckRequiredWithInstallInfo(deps.Optional); len(optMissing) > 0 {
		fmt.Printf("all required commands present; optional commands missing:\n")
		for cmd, hint := range optMissing {
			fmt.Printf("  %s: %s\n", cmd, hint)
		}
	} else {
		fmt.Println("all required and optional commands present")
	}
	return exitOK
}

// exitCodeFor implements spec.md §6's exit-code table over the final
// result set: unreachable hosts take priority over plain task failures,
// matching "Unreachable hosts skip all remaining tasks ... tallied in
// stats" language in §4.7.
func exitCodeFor(results []types.Result) int {
	sawFailure := false
	for _, r := range results {
		if _, ok := r.Error.(*types.UnreachableError); ok {
			return exitUnreachable
		}
		if !r.Success {
			sawFailure = true
		}
	}
	if sawFailure {
		return exitHostFailures
	}
	return exitOK
}

// appOptions configures the per-run wiring in newApp.
type appOptions struct {
	become     bool
	becomeUser string
	forks      int
	jsonOut    bool
	cachePath  string
	streamLog  string
}

// app holds everything a single CLI invocation's engine run needs: the
// Module Registry (C1), Tiered Fact Cache (C4), Callback Bus (C5),
// Statistics Aggregator (C6), and Task Execution Engine (C7) wired
// together exactly as spec.md §2's data-flow table describes.
type app struct {
	inv          *inventory.StaticInventory
	reg          *registry.Registry
	cache        *cache.TieredCache
	callbacks    *callback.CallbackManager
	aggregator   *stats.Aggregator
	conns        *connection.ConnectionManager
	engine       *engine.Engine
	opts         appOptions
	streamLogger *logging.StreamLogger
}

func newApp(inv *inventory.StaticInventory, cfg *config.Config, opts appOptions) (*app, error) {
	reg := registry.Default()

	cacheCfg := cache.Config{
		L1MaxEntries:             cfg.GetInt("l1_max_entries"),
		L1MaxMemoryBytes:         configInt64(cfg, "l1_max_memory_bytes", 64*1024*1024),
		L2CachePath:              cfg.GetString("l2_cache_path"),
		L2MaxEntries:             cfg.GetInt("l2_max_entries"),
		TTLMultiplier:            configFloat(cfg, "ttl_multiplier", 1.0),
		PromotionAccessThreshold: configInt64(cfg, "promotion_access_threshold", 3),
	}
	if opts.cachePath != "" {
		cacheCfg.L2CachePath = opts.cachePath
	}
	fc := cache.New(cacheCfg)

	cbMgr := callback.NewCallbackManager()
	if opts.jsonOut {
		cbMgr.Register(callback.NewJSONCallback())
	} else {
		cbMgr.Register(callback.NewDefaultCallback())
	}

	agg := stats.New(stats.WithMemorySnapshot())

	if setupMod, _, err := reg.Get("setup"); err == nil {
		if sm, ok := setupMod.(*modules.SetupModule); ok {
			sm.WithFactCache(fc).WithFactsObserver(cbMgr)
		}
	}

	var streamLogger *logging.StreamLogger
	if opts.streamLog != "" {
		streamLogger = logging.NewStreamLogger("gosinble", uuid.New().String())
		if err := streamLogger.AddFileOutput(opts.streamLog); err != nil {
			return nil, fmt.Errorf("stream log: %w", err)
		}
		if shellMod, _, err := reg.Get("streaming_shell"); err == nil {
			if sm, ok := shellMod.(*modules.StreamingShellModule); ok {
				sm.WithStreamLogger(streamLogger)
			}
		}
	}

	e := engine.New(reg, cbMgr, engine.WithMaxForks(opts.forks))

	return &app{
		inv:          inv,
		reg:          reg,
		cache:        fc,
		callbacks:    cbMgr,
		aggregator:   agg,
		conns:        connection.NewConnectionManager(),
		engine:       e,
		opts:         opts,
		streamLogger: streamLogger,
	}, nil
}

func (a *app) finish() {
	a.aggregator.Finish()
	a.callbacks.OnRunnerEnd()
	if a.streamLogger != nil {
		a.streamLogger.Close()
	}
}

// buildRuns resolves hosts matching pattern into the per-host
// (runtimectx.Context, types.Connection) pairs RunPlay needs, laying each
// host's variable scope per spec.md §4.8 (host vars over the group-vars
// chain over inventory defaults). Hosts whose connection cannot be
// established are excluded from the returned set and instead reported as
// unreachable results, per spec.md §4.7's "unreachable hosts skip all
// remaining tasks" rule — they never reach the engine at all.
func (a *app) buildRuns(ctx context.Context, pattern string) ([]types.Host, map[string]*runtimectx.Context, map[string]types.Connection, []types.Result, error) {
	allHosts, err := a.inv.GetHosts(pattern)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	hosts := make([]types.Host, 0, len(allHosts))
	contexts := make(map[string]*runtimectx.Context, len(allHosts))
	conns := make(map[string]types.Connection, len(allHosts))
	var unreachable []types.Result
	for _, h := range allHosts {
		conn, err := a.conns.GetConnection(ctx, connectionInfoFor(h))
		if err != nil {
			unreachable = append(unreachable, types.Result{
				Host:    h.Name,
				Success: false,
				Message: err.Error(),
				Error:   types.NewUnreachableError(h.Name, err),
			})
			continue
		}

		var groupChain []map[string]interface{}
		for _, g := range h.Groups {
			if gv, err := a.inv.GetGroupVars(g); err == nil {
				groupChain = append(groupChain, gv)
			}
		}
		rc := runtimectx.New(h.Name, h.Variables, groupChain, nil)
		rc.FactCache = a.cache

		hosts = append(hosts, h)
		contexts[h.Name] = rc
		conns[h.Name] = conn
	}
	return hosts, contexts, conns, unreachable, nil
}

// connectionInfoFor maps a Host's special ansible_* variables (mapped onto
// Host fields by inventory ingest, spec.md §6) onto the abstract transport
// dial parameters. localhost/127.0.0.1 forces the Local transport, the
// teacher's own default-override rule.
func connectionInfoFor(h types.Host) types.ConnectionInfo {
	connType := "ssh"
	if v, ok := h.Variables["ansible_connection"].(string); ok && v != "" {
		connType = v
	}
	if h.Address == "localhost" || h.Address == "127.0.0.1" || h.Address == "" {
		connType = "local"
	}
	return types.ConnectionInfo{
		Type:      connType,
		Host:      h.Address,
		Port:      h.Port,
		User:      h.User,
		Password:  h.Password,
		Timeout:   30 * time.Second,
		Variables: h.Variables,
	}
}

func (a *app) runPlaybook(ctx context.Context, filename string, check, diffMode, listTasks, verbose bool) ([]types.Result, error) {
	pb, err := playbook.NewParser().ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}

	if listTasks {
		for i, play := range pb.Plays {
			fmt.Printf("Play #%d: %s\n", i+1, play.Name)
			fmt.Printf("  Hosts: %v\n", play.Hosts)
			for j, task := range play.Tasks {
				fmt.Printf("    %d. %s\n", j+1, task.Name)
			}
		}
		return nil, nil
	}

	a.callbacks.OnPlaybookStart(filename)

	var allResults []types.Result
	playbookOK := true
	for _, play := range pb.Plays {
		pattern := hostPatternOf(play.Hosts)
		hosts, contexts, conns, unreachable, err := a.buildRuns(ctx, pattern)
		if err != nil {
			return allResults, fmt.Errorf("failed to resolve hosts for play %q: %w", play.Name, err)
		}
		for _, r := range unreachable {
			a.aggregator.Record(r, types.NativeTransport)
		}
		allResults = append(allResults, unreachable...)
		if len(unreachable) > 0 {
			playbookOK = false
		}

		applyModeOverrides(&play, check, diffMode)

		results, err := a.engine.RunPlay(ctx, play, hosts, contexts, conns)
		for _, r := range results {
			desc, _ := a.reg.Descriptor(r.ModuleName)
			a.aggregator.Record(r, desc.Classification)
		}
		allResults = append(allResults, results...)
		if err != nil {
			playbookOK = false
		}
		for _, r := range results {
			if !r.Success {
				playbookOK = false
			}
		}
	}

	a.callbacks.OnPlaybookEnd(filename, playbookOK)
	return allResults, nil
}

// applyModeOverrides pushes the CLI's --check/--diff flags onto every task
// in the play, unless the task already set its own override.
func applyModeOverrides(play *types.Play, check, diffMode bool) {
	apply := func(tasks []types.Task) {
		for i := range tasks {
			if check {
				tasks[i].CheckMode = true
			}
			if diffMode {
				tasks[i].DiffMode = true
			}
		}
	}
	apply(play.PreTasks)
	apply(play.Tasks)
	apply(play.PostTasks)
}

func hostPatternOf(hosts interface{}) string {
	switch v := hosts.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprintf("%v", p)
		}
		return strings.Join(parts, ":")
	case []string:
		return strings.Join(v, ":")
	default:
		return "all"
	}
}

func (a *app) runAdHoc(ctx context.Context, module, args, hostPattern string, check, diffMode bool) ([]types.Result, error) {
	hosts, contexts, conns, unreachable, err := a.buildRuns(ctx, hostPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to get hosts: %w", err)
	}
	for _, r := range unreachable {
		a.aggregator.Record(r, types.NativeTransport)
	}
	if len(hosts) == 0 {
		return unreachable, fmt.Errorf("no reachable hosts matched pattern: %s", hostPattern)
	}

	play := types.Play{
		Name: fmt.Sprintf("Ad-hoc: %s", module),
		Tasks: []types.Task{{
			Name:      fmt.Sprintf("Ad-hoc: %s", module),
			Module:    types.ModuleType(module),
			Args:      parseModuleArgs(args),
			CheckMode: check,
			DiffMode:  diffMode,
		}},
	}

	results, err := a.engine.RunPlay(ctx, play, hosts, contexts, conns)
	for _, r := range results {
		desc, _ := a.reg.Descriptor(r.ModuleName)
		a.aggregator.Record(r, desc.Classification)
	}
	return append(unreachable, results...), err
}

func loadInventory(filename string) (*inventory.StaticInventory, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	inv, err := inventory.NewFromYAML(data)
	if err == nil {
		return inv, nil
	}
	return nil, fmt.Errorf("failed to parse inventory: %w", err)
}

// configFloat reads a float64-typed config value, falling back when the key
// is absent or holds an unexpected type (pkg/config stores raw YAML/env
// values, so a "1" in a user-edited config file may parse as an int).
func configFloat(cfg *config.Config, key string, fallback float64) float64 {
	switch v := cfg.Get(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func configInt64(cfg *config.Config, key string, fallback int64) int64 {
	switch v := cfg.Get(key).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return fallback
	}
}

func parseModuleArgs(args string) map[string]interface{} {
	result := make(map[string]interface{})
	if args == "" {
		return result
	}
	pairs := strings.Fields(args)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			result[key] = value
		}
	}
	return result
}
