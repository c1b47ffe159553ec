package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/cloudfold/backup-operator/internal/backup"
	"github.com/cloudfold/backup-operator/internal/storage"
	"github.com/cloudfold/backup-operator/internal/vault"
)

// Config is the fully resolved backup policy for one run. It is immutable
// after Load and owned by the orchestrator for the duration of the run.
type Config struct {
	Name       string
	Enabled    bool
	Vaults     []Entry
	Storage    Entry
	Interfaces []Entry
}

// Entry is one interface declaration: the registry identifier, the enabled
// flag, and the full attribute map each factory decodes for itself.
type Entry struct {
	Interface string
	Enabled   bool
	Attrs     map[string]any
}

// Load reads the YAML policy at path, fetches vault-declared secrets,
// substitutes ${NAME} placeholders, and returns the validated configuration.
// Every error here is fatal to the run: a partially resolved policy cannot
// be trusted.
func Load(ctx context.Context, path string) (Config, error) {
	log.Info().Str("path", path).Msg("loading backup configuration")

	raw, err := loadYAML(path)
	if err != nil {
		return Config{}, err
	}

	// Vault interfaces instantiate from the raw tree; they are the source
	// of secrets, so their own attributes must be literal.
	secrets, err := loadVaultSecrets(ctx, raw)
	if err != nil {
		return Config{}, err
	}

	if err := resolveTree(raw, secrets); err != nil {
		return Config{}, err
	}

	cfg, err := decodeConfig(raw)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	log.Debug().Interface("config", maskTree(raw)).Msg("configuration loaded")
	log.Info().Str("config", cfg.Name).Bool("enabled", cfg.Enabled).
		Int("interfaces", len(cfg.Interfaces)).Msg("configuration OK")
	return cfg, nil
}

func loadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse configuration file: %w", err)
	}
	if raw == nil {
		return nil, &FieldError{Field: "name", Reason: "is required"}
	}
	return raw, nil
}

// loadVaultSecrets instantiates each declared vault and fetches its declared
// secrets into a name -> value map. Later vaults win on duplicate names.
func loadVaultSecrets(ctx context.Context, raw map[string]any) (map[string]string, error) {
	secrets := map[string]string{}
	vaultsRaw, ok := raw["vaults"]
	if !ok || vaultsRaw == nil {
		return secrets, nil
	}
	list, ok := vaultsRaw.([]any)
	if !ok {
		return nil, &FieldError{Field: "vaults", Reason: "must be a list"}
	}

	for i, item := range list {
		attrs, ok := item.(map[string]any)
		if !ok {
			return nil, &FieldError{Field: fmt.Sprintf("vaults[%d]", i), Reason: "must be a mapping"}
		}
		id, _ := attrs["interface"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, &FieldError{Field: fmt.Sprintf("vaults[%d].interface", i), Reason: "is required"}
		}
		if !vault.Known(id) {
			return nil, &UnknownInterfaceError{Kind: "vault", Name: id}
		}

		v, err := vault.New(id, attrs)
		if err != nil {
			return nil, err
		}

		declared, _ := attrs["secrets"].(map[string]any)
		log.Info().Str("vault", id).Int("secrets", len(declared)).Msg("fetching vault secrets")
		for name, keyAny := range declared {
			key, ok := keyAny.(string)
			if !ok {
				return nil, &FieldError{
					Field:  fmt.Sprintf("vaults[%d].secrets.%s", i, name),
					Reason: "must be a string lookup key",
				}
			}
			val, err := v.Fetch(ctx, key)
			if err != nil {
				return nil, err
			}
			secrets[name] = val
		}
	}
	return secrets, nil
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config

	name, ok := raw["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return cfg, &FieldError{Field: "name", Reason: "is required and must be a string"}
	}
	cfg.Name = name

	if v, present := raw["enabled"]; present {
		b, ok := v.(bool)
		if !ok {
			return cfg, &FieldError{Field: "enabled", Reason: "must be a boolean"}
		}
		cfg.Enabled = b
	}

	storageRaw, present := raw["storage"]
	if !present {
		return cfg, &FieldError{Field: "storage", Reason: "is required"}
	}
	storageEntry, err := decodeEntry("storage", storageRaw)
	if err != nil {
		return cfg, err
	}
	cfg.Storage = storageEntry

	ifacesRaw, present := raw["interfaces"]
	if !present {
		return cfg, &FieldError{Field: "interfaces", Reason: "is required"}
	}
	ifaceList, ok := ifacesRaw.([]any)
	if !ok {
		return cfg, &FieldError{Field: "interfaces", Reason: "must be a list"}
	}
	for i, item := range ifaceList {
		e, err := decodeEntry(fmt.Sprintf("interfaces[%d]", i), item)
		if err != nil {
			return cfg, err
		}
		cfg.Interfaces = append(cfg.Interfaces, e)
	}

	if vaultsRaw, present := raw["vaults"]; present && vaultsRaw != nil {
		for i, item := range vaultsRaw.([]any) {
			e, err := decodeEntry(fmt.Sprintf("vaults[%d]", i), item)
			if err != nil {
				return cfg, err
			}
			cfg.Vaults = append(cfg.Vaults, e)
		}
	}

	return cfg, nil
}

func decodeEntry(field string, raw any) (Entry, error) {
	attrs, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, &FieldError{Field: field, Reason: "must be a mapping"}
	}
	id, _ := attrs["interface"].(string)
	if strings.TrimSpace(id) == "" {
		return Entry{}, &FieldError{Field: field + ".interface", Reason: "is required"}
	}
	e := Entry{Interface: id, Attrs: attrs}
	if v, present := attrs["enabled"]; present {
		b, ok := v.(bool)
		if !ok {
			return Entry{}, &FieldError{Field: field + ".enabled", Reason: "must be a boolean"}
		}
		e.Enabled = b
	}
	return e, nil
}

// validate checks every declared identifier against its registry. No
// interface is instantiated here; the orchestrator does that at run setup.
func (c Config) validate() error {
	if !storage.Known(c.Storage.Interface) {
		return &UnknownInterfaceError{Kind: "storage", Name: c.Storage.Interface}
	}
	for _, e := range c.Interfaces {
		if !backup.Known(e.Interface) {
			return &UnknownInterfaceError{Kind: "backup", Name: e.Interface}
		}
	}
	return nil
}
