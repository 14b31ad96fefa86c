package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeops/forge/pkg/types"
)

// DnfModule manages packages using DNF on Fedora/RHEL8+ systems
type DnfModule struct {
	*BaseModule
}

// NewDnfModule creates a new DNF module instance
func NewDnfModule() *DnfModule {
	doc := types.ModuleDoc{
		Name:        "dnf",
		Description: "Manages packages using DNF on Fedora/RHEL8+ systems",
		Parameters: map[string]types.ParamDoc{
			"name": {
				Description: "Name of the package to manage",
				Required:    false,
				Type:        "string",
			},
			"names": {
				Description: "List of packages to manage",
				Required:    false,
				Type:        "list",
			},
			"state": {
				Description: "State of the package (present, absent, latest, installed, removed)",
				Required:    false,
				Default:     "present",
				Type:        "string",
			},
			"enablerepo": {
				Description: "Enable specific repositories",
				Required:    false,
				Type:        "string",
			},
			"disablerepo": {
				Description: "Disable specific repositories",
				Required:    false,
				Type:        "string",
			},
			"update_cache": {
				Description: "Update the DNF cache",
				Required:    false,
				Default:     false,
				Type:        "bool",
			},
			"security": {
				Description: "Apply security updates only",
				Required:    false,
				Default:     false,
				Type:        "bool",
			},
			"autoremove": {
				Description: "Remove packages that are no longer needed",
				Required:    false,
				Default:     false,
				Type:        "bool",
			},
			"allowerasing": {
				Description: "Allow erasing of installed packages to resolve dependencies",
				Required:    false,
				Default:     false,
				Type:        "bool",
			},
			"nobest": {
				Description: "Do not limit to best provider of package",
				Required:    false,
				Default:     false,
				Type:        "bool",
			},
		},
	}
	return &DnfModule{
		BaseModule: NewBaseModule("dnf", doc),
	}
}

// dnfArgs is the parsed, normalized form of a dnf task's args, shared by
// Run, Check and Diff so the three operations never drift out of sync on
// what counts as "the packages" or "the state".
type dnfArgs struct {
	packages        []string
	state           string
	optionsStr      string
	updateCache     bool
	securityUpdates bool
	autoremove      bool
}

func (m *DnfModule) parseDnfArgs(args map[string]interface{}) (dnfArgs, error) {
	name := m.GetStringArg(args, "name", "")
	namesSlice := m.GetSliceArg(args, "names")
	state := m.GetStringArg(args, "state", "present")
	enablerepo := m.GetStringArg(args, "enablerepo", "")
	disablerepo := m.GetStringArg(args, "disablerepo", "")
	updateCache := m.GetBoolArg(args, "update_cache", false)
	securityUpdates := m.GetBoolArg(args, "security", false)
	autoremove := m.GetBoolArg(args, "autoremove", false)
	allowerasing := m.GetBoolArg(args, "allowerasing", false)
	nobest := m.GetBoolArg(args, "nobest", false)

	var names []string
	for _, n := range namesSlice {
		if s, ok := n.(string); ok {
			names = append(names, s)
		}
	}

	if state == "installed" {
		state = "present"
	}
	if state == "removed" {
		state = "absent"
	}
	validStates := []string{"present", "absent", "latest"}
	if !containsDnf(validStates, state) {
		return dnfArgs{}, fmt.Errorf("invalid state: %s", state)
	}

	var packages []string
	if name != "" {
		if strings.Contains(name, ",") {
			packages = append(packages, strings.Split(name, ",")...)
		} else {
			packages = append(packages, name)
		}
	}
	packages = append(packages, names...)

	var dnfOptions []string
	if enablerepo != "" {
		dnfOptions = append(dnfOptions, fmt.Sprintf("--enablerepo=%s", enablerepo))
	}
	if disablerepo != "" {
		dnfOptions = append(dnfOptions, fmt.Sprintf("--disablerepo=%s", disablerepo))
	}
	if securityUpdates {
		dnfOptions = append(dnfOptions, "--security")
	}
	if allowerasing {
		dnfOptions = append(dnfOptions, "--allowerasing")
	}
	if nobest {
		dnfOptions = append(dnfOptions, "--nobest")
	}

	return dnfArgs{
		packages:        packages,
		state:           state,
		optionsStr:      strings.Join(dnfOptions, " "),
		updateCache:     updateCache,
		securityUpdates: securityUpdates,
		autoremove:      autoremove,
	}, nil
}

// isPackageInstalled reports whether pkg is currently installed, queried via
// rpm -q so neither Check nor Diff has to run dnf itself to observe state.
func (m *DnfModule) isPackageInstalled(ctx context.Context, conn types.Connection, pkg string) (bool, error) {
	result, err := conn.Execute(ctx, fmt.Sprintf("rpm -q %s", pkg), types.ExecuteOptions{})
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

// packageVersion returns pkg's installed version-release, or "" if it isn't
// installed or the query failed.
func (m *DnfModule) packageVersion(ctx context.Context, conn types.Connection, pkg string) string {
	result, err := conn.Execute(ctx, fmt.Sprintf("rpm -q --qf '%%{VERSION}-%%{RELEASE}' %s", pkg), types.ExecuteOptions{})
	if err != nil || result == nil || !result.Success || result.Data == nil {
		return ""
	}
	stdout, _ := result.Data["stdout"].(string)
	return strings.TrimSpace(stdout)
}

// Run executes the dnf module
func (m *DnfModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	parsed, perr := m.parseDnfArgs(args)
	if perr != nil {
		return m.CreateErrorResult("", perr.Error(), nil), nil
	}
	packages := parsed.packages
	state := parsed.state
	optionsStr := parsed.optionsStr
	updateCache := parsed.updateCache
	securityUpdates := parsed.securityUpdates
	autoremove := parsed.autoremove

	changed := false
	var outputs []string

	// Update cache if requested
	if updateCache {
		cmd := "dnf makecache"
		result, err := conn.Execute(ctx, cmd, types.ExecuteOptions{})
		if err != nil {
			return m.CreateErrorResult("", "Failed to update DNF cache", err), nil
		}
		if result.Data != nil {
			if stdout, ok := result.Data["stdout"].(string); ok {
				outputs = append(outputs, stdout)
			}
		}
	}

	// Handle security updates without specific packages
	if securityUpdates && len(packages) == 0 {
		cmd := fmt.Sprintf("dnf upgrade -y --security %s", optionsStr)
		result, err := conn.Execute(ctx, cmd, types.ExecuteOptions{})
		if err != nil {
			return m.CreateErrorResult("", "Failed to apply security updates", err), nil
		}
		changed = true
		if result.Data != nil {
			if stdout, ok := result.Data["stdout"].(string); ok {
				outputs = append(outputs, stdout)
				if strings.Contains(stdout, "Nothing to do") {
					changed = false
				}
			}
		}
	}

	// Process each package
	for _, pkg := range packages {
		cmd := m.buildDnfCommand(pkg, state, optionsStr)
		
		result, err := conn.Execute(ctx, cmd, types.ExecuteOptions{})
		if err != nil {
			// Check if package is already in desired state
			if result != nil && result.Data != nil {
				stderr, _ := result.Data["stderr"].(string)
				stdout, _ := result.Data["stdout"].(string)
				combined := stderr + stdout
				
				if state == "present" && strings.Contains(combined, "already installed") {
					continue
				}
				if state == "absent" && (strings.Contains(combined, "No match for argument") ||
				                         strings.Contains(combined, "No packages marked for removal")) {
					continue
				}
			}
			return m.CreateErrorResult("", fmt.Sprintf("Failed to %s package %s", state, pkg), err), nil
		}

		// Check if changes were made
		if result.Data != nil {
			if stdout, ok := result.Data["stdout"].(string); ok {
				outputs = append(outputs, stdout)
				if strings.Contains(stdout, "Installing") ||
				   strings.Contains(stdout, "Upgrading") ||
				   strings.Contains(stdout, "Removing") ||
				   strings.Contains(stdout, "Downgrading") ||
				   strings.Contains(stdout, "Reinstalling") {
					if !strings.Contains(stdout, "Nothing to do") {
						changed = true
					}
				}
			}
		}
	}

	// Autoremove if requested
	if autoremove {
		cmd := "dnf autoremove -y"
		result, err := conn.Execute(ctx, cmd, types.ExecuteOptions{})
		if err != nil {
			return m.CreateErrorResult("", "Failed to autoremove packages", err), nil
		}
		if result.Data != nil {
			if stdout, ok := result.Data["stdout"].(string); ok {
				outputs = append(outputs, stdout)
				if strings.Contains(stdout, "Removing") {
					changed = true
				}
			}
		}
	}

	// Build result message
	message := ""
	if len(packages) > 0 {
		message = fmt.Sprintf("Package(s) %s: %s", strings.Join(packages, ", "), state)
	} else if securityUpdates {
		message = "Security updates applied"
	} else if updateCache {
		message = "DNF cache updated"
	} else if autoremove {
		message = "Autoremove completed"
	}

	return m.CreateSuccessResult("", changed, message, map[string]interface{}{
		"output": strings.Join(outputs, "\n"),
	}), nil
}

// Check reports what Run would do without running dnf install/remove,
// satisfying types.CheckDiffModule. Mirrors dnf.rs's check(), which answers
// by querying each package's current state instead of re-running execute()
// with a flag threaded through.
func (m *DnfModule) Check(ctx context.Context, mctx types.ModuleContext, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	parsed, perr := m.parseDnfArgs(args)
	if perr != nil {
		return m.CreateErrorResult("", perr.Error(), nil), nil
	}

	var toInstall, toRemove, alreadyOK []string
	for _, pkg := range parsed.packages {
		installed, err := m.isPackageInstalled(ctx, conn, pkg)
		if err != nil {
			return m.CreateErrorResult("", fmt.Sprintf("Failed to query package %s", pkg), err), nil
		}
		switch parsed.state {
		case "present":
			if installed {
				alreadyOK = append(alreadyOK, pkg)
			} else {
				toInstall = append(toInstall, pkg)
			}
		case "absent":
			if installed {
				toRemove = append(toRemove, pkg)
			} else {
				alreadyOK = append(alreadyOK, pkg)
			}
		case "latest":
			toInstall = append(toInstall, pkg)
		}
	}

	if len(toInstall) == 0 && len(toRemove) == 0 {
		msg := "All packages already in desired state"
		if len(alreadyOK) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, strings.Join(alreadyOK, ", "))
		}
		return m.CreateCheckModeResult("", false, msg, nil), nil
	}

	var msg strings.Builder
	if len(toInstall) > 0 {
		fmt.Fprintf(&msg, "Would install: %s. ", strings.Join(toInstall, ", "))
	}
	if len(toRemove) > 0 {
		fmt.Fprintf(&msg, "Would remove: %s. ", strings.Join(toRemove, ", "))
	}
	return m.CreateCheckModeResult("", true, strings.TrimSpace(msg.String()), nil), nil
}

// Diff reports each package's current and prospective version without
// mutating anything, satisfying types.CheckDiffModule. Mirrors dnf.rs's
// diff(), which queries rpm/dnf state directly rather than deriving before/
// after from the install it just ran.
func (m *DnfModule) Diff(ctx context.Context, mctx types.ModuleContext, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	parsed, perr := m.parseDnfArgs(args)
	if perr != nil {
		return m.CreateErrorResult("", perr.Error(), nil), nil
	}

	var before, after []string
	changed := false
	for _, pkg := range parsed.packages {
		installed, err := m.isPackageInstalled(ctx, conn, pkg)
		if err != nil {
			return m.CreateErrorResult("", fmt.Sprintf("Failed to query package %s", pkg), err), nil
		}
		currentVersion := m.packageVersion(ctx, conn, pkg)

		switch parsed.state {
		case "present", "latest":
			if installed {
				before = append(before, fmt.Sprintf("%s: %s", pkg, currentVersion))
				after = append(after, fmt.Sprintf("%s: %s", pkg, currentVersion))
			} else {
				before = append(before, fmt.Sprintf("%s: (not installed)", pkg))
				after = append(after, fmt.Sprintf("%s: (will be installed)", pkg))
				changed = true
			}
		case "absent":
			if installed {
				before = append(before, fmt.Sprintf("%s: %s", pkg, currentVersion))
				after = append(after, fmt.Sprintf("%s: (will be removed)", pkg))
				changed = true
			} else {
				before = append(before, fmt.Sprintf("%s: (not installed)", pkg))
				after = append(after, fmt.Sprintf("%s: (not installed)", pkg))
			}
		}
	}

	result := m.CreateSuccessResult("", changed, "Diff computed", nil)
	result.Simulated = true
	result.Diff = &types.DiffResult{
		Before:      strings.Join(before, "\n"),
		After:       strings.Join(after, "\n"),
		BeforeLines: before,
		AfterLines:  after,
		Prepared:    true,
	}
	return result, nil
}

func (m *DnfModule) buildDnfCommand(pkg, state, options string) string {
	switch state {
	case "present":
		return fmt.Sprintf("dnf install -y %s %s", options, pkg)
	case "absent":
		return fmt.Sprintf("dnf remove -y %s %s", options, pkg)
	case "latest":
		return fmt.Sprintf("dnf upgrade -y %s %s || dnf install -y %s %s", options, pkg, options, pkg)
	default:
		return fmt.Sprintf("dnf install -y %s %s", options, pkg)
	}
}

// containsDnf checks if a string is in a slice
func containsDnf(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

// Validate checks if the module arguments are valid
func (m *DnfModule) Validate(args map[string]interface{}) error {
	state := m.GetStringArg(args, "state", "present")
	if state != "" {
		// Normalize state for validation
		if state == "installed" {
			state = "present"
		}
		if state == "removed" {
			state = "absent"
		}
		
		validStates := []string{"present", "absent", "latest"}
		if !containsDnf(validStates, state) {
			return fmt.Errorf("invalid state: %s", state)
		}
	}

	// Check that at least one action is specified
	name := m.GetStringArg(args, "name", "")
	namesSlice := m.GetSliceArg(args, "names")
	updateCache := m.GetBoolArg(args, "update_cache", false)
	security := m.GetBoolArg(args, "security", false)
	autoremove := m.GetBoolArg(args, "autoremove", false)

	if name == "" && len(namesSlice) == 0 && !updateCache && !security && !autoremove {
		return fmt.Errorf("at least one action must be specified")
	}

	return nil
}