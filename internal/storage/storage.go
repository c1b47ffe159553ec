package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Object is one stored backup artifact.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Storage persists backup artifacts to a durable medium. The same instance
// is shared sequentially by every backup interface in a run.
type Storage interface {
	// Put makes size bytes from r durable at dest. Either the artifact is
	// fully written or the call fails and no partial artifact is visible
	// to subsequent List calls.
	Put(ctx context.Context, r io.Reader, size int64, dest string) error

	// List returns artifacts under prefix ordered oldest first.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes the artifact at path. Deleting a path that does not
	// exist is a no-op.
	Delete(ctx context.Context, path string) error

	// Name returns the storage identifier (e.g. "local", "azure-blob").
	Name() string
}

// WriteError reports a failed artifact write.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DeleteError reports a failed artifact delete.
type DeleteError struct {
	Path string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("storage delete %s: %v", e.Path, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// Factory creates a storage instance from its policy attributes.
type Factory func(attrs map[string]any) (Storage, error)

var registry = map[string]Factory{}

// Register binds a storage identifier to its factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// Known reports whether a storage identifier has a registered factory.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// New returns a storage instance by identifier.
func New(name string, attrs map[string]any) (Storage, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("storage interface not found: %s", name)
	}
	return f(attrs)
}

// decodeAttrs round-trips a policy attribute map into a typed config struct.
func decodeAttrs(attrs map[string]any, out any) error {
	raw, err := yaml.Marshal(attrs)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}
