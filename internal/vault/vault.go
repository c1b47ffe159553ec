package vault

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Vault fetches named secrets from an external secret store.
// Fetch is idempotent and side-effect-free from the caller's perspective.
type Vault interface {
	// Fetch returns the secret value for a store-specific key.
	Fetch(ctx context.Context, key string) (string, error)

	// Name returns the vault identifier (e.g. "azure-keyvault").
	Name() string
}

// ErrSecretNotFound is returned when the key does not exist in the store.
var ErrSecretNotFound = errors.New("secret not found in vault")

// UnavailableError reports a connectivity or auth failure against a vault service.
type UnavailableError struct {
	Vault string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vault %s unavailable: %v", e.Vault, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Factory creates a vault instance from its policy attributes.
type Factory func(attrs map[string]any) (Vault, error)

var registry = map[string]Factory{}

// Register binds a vault identifier to its factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// Known reports whether a vault identifier has a registered factory.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// New returns a vault instance by identifier. Fetched values are memoized
// for the lifetime of the instance, i.e. one run.
func New(name string, attrs map[string]any) (Vault, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("vault interface not found: %s", name)
	}
	v, err := f(attrs)
	if err != nil {
		return nil, err
	}
	return &cached{inner: v, values: map[string]string{}}, nil
}

// cached memoizes successful fetches so repeated lookups of the same key
// within one run hit the store only once. Errors are not cached.
type cached struct {
	inner  Vault
	values map[string]string
}

func (c *cached) Name() string { return c.inner.Name() }

func (c *cached) Fetch(ctx context.Context, key string) (string, error) {
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	v, err := c.inner.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	c.values[key] = v
	return v, nil
}

// decodeAttrs round-trips a policy attribute map into a typed config struct.
func decodeAttrs(attrs map[string]any, out any) error {
	raw, err := yaml.Marshal(attrs)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}
