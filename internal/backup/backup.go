package backup

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/cloudfold/backup-operator/internal/storage"
)

// Interface produces backup artifacts for its configured resources and hands
// them to the shared storage.
type Interface interface {
	// Name returns the backup interface identifier (e.g. "local-directories").
	Name() string

	// Validate checks every configured source is reachable before a run.
	Validate(ctx context.Context) error

	// Run archives each resource, stores the artifact and applies retention.
	Run(ctx context.Context) error
}

// TransferError reports a failure acquiring a backup source, e.g. a broken
// remote-shell channel.
type TransferError struct {
	Source string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Source, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// RetentionConfig limits how many historical artifacts per resource are kept.
type RetentionConfig struct {
	Count int `yaml:"count"`
}

// DirectoryConfig describes one directory resource to back up.
type DirectoryConfig struct {
	Src       string           `yaml:"src"`
	Dest      string           `yaml:"dest"`
	Name      string           `yaml:"name"`
	Exclude   []string         `yaml:"exclude"`
	Retention *RetentionConfig `yaml:"retention"`
}

func validateDirectories(kind string, dirs []DirectoryConfig) error {
	if len(dirs) == 0 {
		return fmt.Errorf("%s: at least one directory is required", kind)
	}
	for i, d := range dirs {
		if strings.TrimSpace(d.Src) == "" || strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("%s: directories[%d] needs both src and name", kind, i)
		}
		if d.Retention != nil && d.Retention.Count < 1 {
			return fmt.Errorf("%s: directories[%d] retention count must be >= 1", kind, i)
		}
	}
	return nil
}

// Artifact naming: "<name>_<timestamp>.tar.gz" under "<dest>/<name>/".
const artifactTimeLayout = "2006-01-02T15-04-05"

func artifactName(name string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", name, ts.UTC().Format(artifactTimeLayout))
}

func destPrefix(d DirectoryConfig) string {
	return path.Join(strings.Trim(d.Dest, "/"), d.Name)
}

func destKey(d DirectoryConfig, artifact string) string {
	return path.Join(destPrefix(d), artifact)
}

// applyRetention trims old artifacts after a successful put. A trim failure
// is reported as a warning and never escalates to a run failure.
func applyRetention(ctx context.Context, store storage.Storage, d DirectoryConfig) {
	if d.Retention == nil {
		return
	}
	prefix := destPrefix(d)
	deleted, err := storage.Trim(ctx, store, prefix, d.Retention.Count)
	if err != nil {
		log.Warn().Err(err).
			Str("action", "retention_trim").
			Str("prefix", prefix).
			Int("deleted", deleted).
			Msg("retention trimming incomplete, continuing")
		return
	}
	log.Debug().
		Str("action", "retention_trim").
		Str("prefix", prefix).
		Int("deleted", deleted).
		Int("keep", d.Retention.Count).
		Msg("retention applied")
}

// Factory creates a backup interface bound to its policy attributes and the
// run's shared storage.
type Factory func(attrs map[string]any, store storage.Storage) (Interface, error)

var registry = map[string]Factory{}

// Register binds a backup interface identifier to its factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// Known reports whether a backup identifier has a registered factory.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// New returns a backup interface instance by identifier.
func New(name string, attrs map[string]any, store storage.Storage) (Interface, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("backup interface not found: %s", name)
	}
	return f(attrs, store)
}

// decodeAttrs round-trips a policy attribute map into a typed config struct.
func decodeAttrs(attrs map[string]any, out any) error {
	raw, err := yaml.Marshal(attrs)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}
