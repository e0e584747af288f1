// ABOUTME: Environment-variable filtering helpers for the three EnvPolicy modes.
// ABOUTME: Split out of shellexec.go to keep the process-management code and env policy separately testable.
package shellexec

import (
	"fmt"
	"os"
	"strings"
)

func allEnv() []string {
	return os.Environ()
}

// coreEnv returns only the allowlisted safe vars plus anything passing
// isSensitiveVar's exclusion filter under InheritCore.
func coreEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeVarNames[name] || !isSensitiveVar(name) {
			out = append(out, kv)
		}
	}
	return out
}

func isSensitiveVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pat := range sensitivePatterns {
		if strings.HasSuffix(upper, pat) {
			return true
		}
	}
	return false
}

func mapToEnv(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

