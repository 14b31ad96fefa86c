package callback

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/forgeops/forge/pkg/types"
)

// sensitivePatterns is the fixed list spec.md §4.5 calls out ("~40
// patterns like password, token, api_key"), matched case-insensitively as
// a substring against a variable/data-key name.
var sensitivePatterns = []string{
	"password", "passwd", "pwd", "secret", "token", "api_key", "apikey",
	"access_key", "access_token", "auth_token", "private_key", "privatekey",
	"ssh_key", "credential", "credentials", "cert_key", "client_secret",
	"encryption_key", "session_key", "signing_key", "secret_key",
	"vault_password", "bearer", "authorization", "oauth", "refresh_token",
	"db_password", "database_password", "admin_password", "root_password",
	"passphrase", "pin", "security_code", "cvv", "ssn", "license_key",
	"activation_key", "webhook_secret", "slack_token", "github_token",
	"aws_secret_access_key", "connection_string",
}

const maskedValue = "********"

// isSensitiveKey reports whether name matches any of sensitivePatterns as
// a case-insensitive substring.
func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// maskSensitive returns a shallow copy of data with every value whose key
// matches a sensitive pattern replaced by maskedValue.
func maskSensitive(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			out[k] = maskedValue
		} else {
			out[k] = v
		}
	}
	return out
}

// ContextCallback demonstrates read-only Runtime Context (C8) variable
// introspection: it logs each task's result data with sensitive values
// masked, never mutating anything it observes.
type ContextCallback struct {
	mu     sync.Mutex
	output io.Writer
}

// NewContextCallback creates a ContextCallback writing to stdout.
func NewContextCallback() *ContextCallback {
	return &ContextCallback{output: os.Stdout}
}

func (cc *ContextCallback) Name() string                                   { return "context" }
func (cc *ContextCallback) Initialize(config map[string]interface{}) error { return nil }
func (cc *ContextCallback) SetOutput(writer io.Writer) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.output = writer
}

func (cc *ContextCallback) OnPlaybookStart(name string)           {}
func (cc *ContextCallback) OnPlaybookEnd(name string, success bool) {}
func (cc *ContextCallback) OnPlayStart(play *types.Play)          {}
func (cc *ContextCallback) OnTaskStart(task *types.Task, hosts []types.Host) {}
func (cc *ContextCallback) OnHandlerTriggered(name string)        {}
func (cc *ContextCallback) OnPlayEnd(play *types.Play, results []types.Result) {}
func (cc *ContextCallback) OnRunnerEnd(stats *RunStats)           {}

// OnTaskResult logs the task's registered data with sensitive values
// masked — the same masking rule applies whether the value came from task
// args, a module result, or a set_fact/register write.
func (cc *ContextCallback) OnTaskResult(task *types.Task, result *types.Result) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	masked := maskSensitive(result.Data)
	fmt.Fprintf(cc.output, "context: [%s] %s data=%v\n", result.Host, task.Name, masked)
}

// OnFactsGathered logs the gathered fact set with sensitive values masked.
func (cc *ContextCallback) OnFactsGathered(host string, facts map[string]interface{}) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	fmt.Fprintf(cc.output, "context: [%s] facts gathered (%d) data=%v\n", host, len(facts), maskSensitive(facts))
}
