package config

import (
	"fmt"
	"strings"
)

// FieldError reports a missing or malformed policy field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("configuration: field %q %s", e.Field, e.Reason)
}

// UnknownInterfaceError reports an interface identifier with no registered
// implementation.
type UnknownInterfaceError struct {
	Kind string // "vault", "storage" or "backup"
	Name string
}

func (e *UnknownInterfaceError) Error() string {
	return fmt.Sprintf("unknown %s interface: %q", e.Kind, e.Name)
}

// UnresolvedSecretsError lists every ${NAME} placeholder that had neither a
// vault-declared secret nor an environment variable.
type UnresolvedSecretsError struct {
	Tokens []string
}

func (e *UnresolvedSecretsError) Error() string {
	return fmt.Sprintf("unresolved secret placeholders: %s", strings.Join(e.Tokens, ", "))
}
