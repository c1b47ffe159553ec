package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingVault struct {
	calls map[string]int
	fail  bool
}

func (v *countingVault) Name() string { return "counting" }

func (v *countingVault) Fetch(_ context.Context, key string) (string, error) {
	v.calls[key]++
	if v.fail {
		return "", &UnavailableError{Vault: "counting", Err: errors.New("down")}
	}
	return "value-of-" + key, nil
}

func TestNew_UnknownIdentifier(t *testing.T) {
	_, err := New("no-such-vault", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-vault")
}

func TestCached_MemoizesSuccessfulFetches(t *testing.T) {
	inner := &countingVault{calls: map[string]int{}}
	Register("counting", func(map[string]any) (Vault, error) { return inner, nil })
	t.Cleanup(func() { delete(registry, "counting") })

	v, err := New("counting", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := v.Fetch(context.Background(), "db-password")
		require.NoError(t, err)
		assert.Equal(t, "value-of-db-password", got)
	}
	assert.Equal(t, 1, inner.calls["db-password"])

	_, err = v.Fetch(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls["other"])
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	inner := &countingVault{calls: map[string]int{}, fail: true}
	Register("counting-fail", func(map[string]any) (Vault, error) { return inner, nil })
	t.Cleanup(func() { delete(registry, "counting-fail") })

	v, err := New("counting-fail", nil)
	require.NoError(t, err)

	var ue *UnavailableError
	_, err = v.Fetch(context.Background(), "k")
	require.ErrorAs(t, err, &ue)

	inner.fail = false
	got, err := v.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "value-of-k", got)
	assert.Equal(t, 2, inner.calls["k"])
}

func TestAzureKeyVault_RequiresURL(t *testing.T) {
	require.True(t, Known(azureKeyVaultName))
	_, err := New(azureKeyVaultName, map[string]any{"interface": azureKeyVaultName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}
