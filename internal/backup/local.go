package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloudfold/backup-operator/internal/storage"
	"github.com/cloudfold/backup-operator/internal/util"
)

const localDirectoriesName = "local-directories"

type localDirsConfig struct {
	Directories []DirectoryConfig `yaml:"directories"`
}

// localDirs archives directory trees on the local machine and hands the
// artifacts to the shared storage.
type localDirs struct {
	dirs  []DirectoryConfig
	store storage.Storage
	now   func() time.Time
}

func init() {
	Register(localDirectoriesName, func(attrs map[string]any, store storage.Storage) (Interface, error) {
		var c localDirsConfig
		if err := decodeAttrs(attrs, &c); err != nil {
			return nil, fmt.Errorf("%s: invalid attributes: %w", localDirectoriesName, err)
		}
		if err := validateDirectories(localDirectoriesName, c.Directories); err != nil {
			return nil, err
		}
		return &localDirs{dirs: c.Directories, store: store, now: time.Now}, nil
	})
}

func (b *localDirs) Name() string { return localDirectoriesName }

// Validate checks every source directory exists and is readable.
func (b *localDirs) Validate(ctx context.Context) error {
	for _, d := range b.dirs {
		info, err := os.Stat(d.Src)
		if err != nil {
			return fmt.Errorf("directory %q does not exist on the local machine: %w", d.Src, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source %q is not a directory", d.Src)
		}
		f, err := os.Open(d.Src)
		if err != nil {
			return fmt.Errorf("no read access to directory %q: %w", d.Src, err)
		}
		_ = f.Close()
	}
	return nil
}

func (b *localDirs) Run(ctx context.Context) error {
	for _, d := range b.dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.backupDirectory(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *localDirs) backupDirectory(ctx context.Context, d DirectoryConfig) error {
	start := time.Now()
	log.Info().
		Str("action", "local_backup").
		Str("src", d.Src).
		Str("resource", d.Name).
		Msg("archiving local directory")

	archive, err := createArchive(d.Src, d.Exclude)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.Remove(archive); rerr != nil {
			log.Warn().Err(rerr).Str("file", archive).Msg("failed to remove temporary archive")
		}
	}()

	sum, size, err := util.SHA256File(archive)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	key := destKey(d, artifactName(d.Name, b.now()))

	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	err = b.store.Put(ctx, f, size, key)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("action", "local_backup").
		Str("resource", d.Name).
		Str("remote", key).
		Str("sha256", sum).
		Int64("size", size).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup OK")

	applyRetention(ctx, b.store, d)
	return nil
}
