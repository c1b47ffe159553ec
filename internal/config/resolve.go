package config

import (
	"maps"
	"os"
	"regexp"
	"slices"
)

// Placeholder syntax: ${NAME}, where NAME is an env-style identifier.
var tokenRE = regexp.MustCompile(`\$\{(\w+)\}`)

// resolveTree substitutes ${NAME} placeholders in every string value of the
// parsed policy tree, in place. Vault-declared secrets shadow same-named
// environment variables. All unresolvable tokens are collected so a single
// error surfaces every missing secret.
func resolveTree(root map[string]any, secrets map[string]string) error {
	missing := map[string]struct{}{}

	var walk func(node any) any
	walk = func(node any) any {
		switch n := node.(type) {
		case map[string]any:
			for k, v := range n {
				n[k] = walk(v)
			}
			return n
		case []any:
			for i, v := range n {
				n[i] = walk(v)
			}
			return n
		case string:
			return tokenRE.ReplaceAllStringFunc(n, func(tok string) string {
				name := tokenRE.FindStringSubmatch(tok)[1]
				if v, ok := secrets[name]; ok {
					return v
				}
				if v, ok := os.LookupEnv(name); ok {
					return v
				}
				missing[name] = struct{}{}
				return tok
			})
		default:
			// Non-string scalars are never substitution points.
			return node
		}
	}
	walk(root)

	if len(missing) > 0 {
		return &UnresolvedSecretsError{Tokens: slices.Sorted(maps.Keys(missing))}
	}
	return nil
}
