package backup

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readArchive(t *testing.T, archive string) map[string]string {
	t.Helper()
	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var content string
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			content = string(data)
		}
		entries[hdr.Name] = content
	}
	return entries
}

func TestCreateArchive_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":       "alpha",
		"sub/b.txt":   "beta",
		"sub/c/d.txt": "delta",
	})

	archive, err := createArchive(src, nil)
	require.NoError(t, err)
	defer os.Remove(archive)

	entries := readArchive(t, archive)
	assert.Equal(t, "alpha", entries["a.txt"])
	assert.Equal(t, "beta", entries["sub/b.txt"])
	assert.Equal(t, "delta", entries["sub/c/d.txt"])
	assert.Contains(t, entries, "sub/")
}

func TestCreateArchive_ExcludesGlobs(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"keep.txt":       "k",
		"skip.log":       "s",
		"cache/blob.bin": "b",
		"sub/cache.txt":  "c",
	})

	archive, err := createArchive(src, []string{"*.log", "cache"})
	require.NoError(t, err)
	defer os.Remove(archive)

	entries := readArchive(t, archive)
	assert.Contains(t, entries, "keep.txt")
	assert.Contains(t, entries, "sub/cache.txt")
	assert.NotContains(t, entries, "skip.log")
	assert.NotContains(t, entries, "cache/")
	assert.NotContains(t, entries, "cache/blob.bin")
}

func TestCreateArchive_MissingSource(t *testing.T) {
	_, err := createArchive(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}
