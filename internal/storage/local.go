package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const localName = "local"

type localConfig struct {
	Root string `yaml:"root"`
}

// localStorage keeps artifacts on the local filesystem under a root directory.
// Writes go through a temp file and a rename so a partial artifact is never
// visible under its final path.
type localStorage struct {
	root string
}

func init() {
	Register(localName, func(attrs map[string]any) (Storage, error) {
		var c localConfig
		if err := decodeAttrs(attrs, &c); err != nil {
			return nil, fmt.Errorf("local: invalid attributes: %w", err)
		}
		if strings.TrimSpace(c.Root) == "" {
			return nil, fmt.Errorf("local: root is required")
		}
		return &localStorage{root: c.Root}, nil
	})
}

func (p *localStorage) Name() string { return localName }

func (p *localStorage) abs(path string) string {
	return filepath.Join(p.root, filepath.FromSlash(path))
}

func (p *localStorage) Put(ctx context.Context, r io.Reader, size int64, dest string) error {
	full := p.abs(dest)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dest, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	// Temp file in the destination directory keeps the rename on one filesystem.
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return &WriteError{Path: dest, Err: err}
	}
	if size > 0 && n != size {
		cleanup()
		return &WriteError{Path: dest, Err: fmt.Errorf("short write: %d of %d bytes", n, size)}
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		cleanup()
		return &WriteError{Path: dest, Err: err}
	}

	log.Debug().
		Str("action", "local_put").
		Str("path", dest).
		Int64("size", n).
		Msg("artifact written")
	return nil
}

func (p *localStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	dir := p.abs(prefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		// No artifacts stored under this prefix yet.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	objs := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".put-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		objs = append(objs, Object{
			Path:    filepath.ToSlash(filepath.Join(prefix, e.Name())),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].ModTime.Equal(objs[j].ModTime) {
			return objs[i].Path < objs[j].Path
		}
		return objs[i].ModTime.Before(objs[j].ModTime)
	})
	return objs, nil
}

func (p *localStorage) Delete(ctx context.Context, path string) error {
	err := os.Remove(p.abs(path))
	if os.IsNotExist(err) {
		// Target state already reached.
		return nil
	}
	if err != nil {
		return &DeleteError{Path: path, Err: err}
	}
	return nil
}
