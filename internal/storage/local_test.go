package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (Storage, string) {
	t.Helper()
	root := t.TempDir()
	s, err := New(localName, map[string]any{"interface": localName, "root": root})
	require.NoError(t, err)
	return s, root
}

func TestLocal_RequiresRoot(t *testing.T) {
	_, err := New(localName, map[string]any{"interface": localName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root is required")
}

func TestLocal_PutCreatesParentDirs(t *testing.T) {
	s, root := newLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, strings.NewReader("payload"), 7, "backups/www/www_1.tar.gz")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "backups", "www", "www_1.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocal_PutSizeMismatchLeavesNothingBehind(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	err := s.Put(ctx, strings.NewReader("short"), 100, "backups/www/www_1.tar.gz")
	var we *WriteError
	require.ErrorAs(t, err, &we)

	objs, err := s.List(ctx, "backups/www")
	require.NoError(t, err)
	assert.Empty(t, objs, "failed put must not be visible to List")
}

func TestLocal_ListOrdersOldestFirst(t *testing.T) {
	s, root := newLocal(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"c.tar.gz", "a.tar.gz", "b.tar.gz"} {
		require.NoError(t, s.Put(ctx, strings.NewReader("x"), 1, "pfx/"+name))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(filepath.Join(root, "pfx", name), ts, ts))
	}

	objs, err := s.List(ctx, "pfx")
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "pfx/c.tar.gz", objs[0].Path)
	assert.Equal(t, "pfx/a.tar.gz", objs[1].Path)
	assert.Equal(t, "pfx/b.tar.gz", objs[2].Path)
}

func TestLocal_ListMissingPrefixIsEmpty(t *testing.T) {
	s, _ := newLocal(t)

	objs, err := s.List(context.Background(), "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestLocal_DeleteMissingIsNoOp(t *testing.T) {
	s, _ := newLocal(t)
	require.NoError(t, s.Delete(context.Background(), "pfx/gone.tar.gz"))
}

func TestLocal_Delete(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, strings.NewReader("x"), 1, "pfx/a.tar.gz"))
	require.NoError(t, s.Delete(ctx, "pfx/a.tar.gz"))

	objs, err := s.List(ctx, "pfx")
	require.NoError(t, err)
	assert.Empty(t, objs)
}
