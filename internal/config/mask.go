package config

import "strings"

// Keys whose values must never reach the logs.
var sensitiveKeyParts = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "DSN"}

const maskedValue = "********"

// maskTree returns a deep copy of the policy tree with values of
// sensitive-looking keys redacted, for debug dumps of the loaded
// configuration. The `secrets` mapping of a vault entry holds lookup key
// names rather than values, but it matches the SECRET pattern and is
// redacted anyway; the loss is cosmetic.
func maskTree(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			if sensitiveKey(k) {
				out[k] = maskedValue
				continue
			}
			out[k] = maskTree(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = maskTree(v)
		}
		return out
	default:
		return node
	}
}

func sensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(upper, part) {
			return true
		}
	}
	return false
}
