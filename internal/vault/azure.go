package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/cloudfold/backup-operator/internal/retry"
)

const azureKeyVaultName = "azure-keyvault"

type azureKeyVaultConfig struct {
	URL string `yaml:"url"`
}

// azureKeyVault fetches secrets from an Azure Key Vault instance using the
// default credential chain (env vars, managed identity, CLI).
type azureKeyVault struct {
	client *azsecrets.Client
	url    string
	ro     retry.Options
}

func init() {
	Register(azureKeyVaultName, func(attrs map[string]any) (Vault, error) {
		var c azureKeyVaultConfig
		if err := decodeAttrs(attrs, &c); err != nil {
			return nil, fmt.Errorf("azure-keyvault: invalid attributes: %w", err)
		}
		if strings.TrimSpace(c.URL) == "" {
			return nil, fmt.Errorf("azure-keyvault: url is required")
		}
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, &UnavailableError{Vault: c.URL, Err: err}
		}
		client, err := azsecrets.NewClient(c.URL, cred, nil)
		if err != nil {
			return nil, &UnavailableError{Vault: c.URL, Err: err}
		}
		return &azureKeyVault{
			client: client,
			url:    c.URL,
			ro:     retry.FromEnv(),
		}, nil
	})
}

func (v *azureKeyVault) Name() string { return azureKeyVaultName }

// Fetch retrieves the latest version of a secret with retries.
func (v *azureKeyVault) Fetch(ctx context.Context, key string) (string, error) {
	var value string
	attempt := 0
	fetchOnce := func(ctx context.Context) error {
		attempt++
		log.Debug().
			Str("action", "keyvault_get").
			Str("vault", v.url).
			Str("secret", key).
			Int("attempt", attempt).
			Msg("starting attempt")

		resp, err := v.client.GetSecret(ctx, key, "", nil)
		if err != nil {
			log.Debug().Err(err).Str("action", "keyvault_get").Str("vault", v.url).Str("secret", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		if resp.Value == nil {
			return fmt.Errorf("secret %q has an empty value", key)
		}
		value = *resp.Value
		return nil
	}
	if err := retry.Do(ctx, v.ro, isKVRetryable, fetchOnce); err != nil {
		var re *azcore.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", &UnavailableError{Vault: v.url, Err: err}
	}
	log.Debug().Str("action", "keyvault_get").Str("vault", v.url).Str("secret", key).
		Int("attempts", attempt).Msg("secret retrieved")
	return value, nil
}

// isKVRetryable: timeouts, 429, 408 and 5xx responses.
func isKVRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		if re.StatusCode == http.StatusTooManyRequests || re.StatusCode == http.StatusRequestTimeout {
			return true
		}
		if re.StatusCode >= 500 && re.StatusCode <= 599 {
			return true
		}
	}
	return false
}
