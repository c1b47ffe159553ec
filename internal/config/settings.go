package config

import (
	"os"
	"strings"

	"github.com/cloudfold/backup-operator/internal/retry"
)

// Settings holds process-level configuration read from the environment.
// The YAML policy file carries everything run-specific; these knobs control
// how the operator itself behaves.
type Settings struct {
	// ConfigPath is the policy file path (BACKUP_CONFIG_PATH); a CLI
	// argument takes precedence.
	ConfigPath string

	// GracefulErrors keeps the run going past a failed interface
	// (BACKUP_GRACEFUL_ERRORS, default true).
	GracefulErrors bool

	// Retry tunes backoff for vault and remote storage calls (RETRY_*).
	Retry retry.Options
}

// LoadSettings reads settings from environment variables and applies defaults.
func LoadSettings() Settings {
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return def
	}

	parseBool := func(key string, def bool) bool {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y", "on":
				return true
			case "0", "false", "no", "n", "off":
				return false
			}
		}
		return def
	}

	return Settings{
		ConfigPath:     get("BACKUP_CONFIG_PATH", ""),
		GracefulErrors: parseBool("BACKUP_GRACEFUL_ERRORS", true),
		Retry:          retry.FromEnv(),
	}
}
