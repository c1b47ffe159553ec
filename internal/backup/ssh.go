package backup

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/cloudfold/backup-operator/internal/storage"
)

const sshDirectoriesName = "ssh-directories"

type sshDirsConfig struct {
	Directories []DirectoryConfig `yaml:"directories"`
	Host        string            `yaml:"ssh_host"`
	Username    string            `yaml:"ssh_username"`
	PrivateKey  string            `yaml:"ssh_private_key"`
	Port        int               `yaml:"ssh_port"`
}

// sshDirs archives directory trees on a remote machine over SSH and streams
// the artifacts off the host with sftp. Connections are scoped to one
// directory entry and closed on every exit path.
type sshDirs struct {
	cfg   sshDirsConfig
	store storage.Storage
	now   func() time.Time
}

func init() {
	Register(sshDirectoriesName, func(attrs map[string]any, store storage.Storage) (Interface, error) {
		var c sshDirsConfig
		if err := decodeAttrs(attrs, &c); err != nil {
			return nil, fmt.Errorf("%s: invalid attributes: %w", sshDirectoriesName, err)
		}
		if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.PrivateKey) == "" {
			return nil, fmt.Errorf("%s: ssh_host, ssh_username and ssh_private_key are required", sshDirectoriesName)
		}
		if c.Port == 0 {
			c.Port = 22
		}
		if err := validateDirectories(sshDirectoriesName, c.Directories); err != nil {
			return nil, err
		}
		return &sshDirs{cfg: c, store: store, now: time.Now}, nil
	})
}

func (b *sshDirs) Name() string { return sshDirectoriesName }

func (b *sshDirs) connect() (*ssh.Client, error) {
	key, err := os.ReadFile(b.cfg.PrivateKey)
	if err != nil {
		return nil, &TransferError{Source: b.cfg.Host, Err: fmt.Errorf("read private key: %w", err)}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &TransferError{Source: b.cfg.Host, Err: fmt.Errorf("parse private key: %w", err)}
	}

	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            b.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, &TransferError{Source: addr, Err: err}
	}
	return client, nil
}

func runCommand(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	return session.Run(cmd)
}

// Validate opens a scoped connection and checks every remote source
// directory exists and is readable.
func (b *sshDirs) Validate(ctx context.Context) error {
	client, err := b.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	for _, d := range b.cfg.Directories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runCommand(client, fmt.Sprintf("test -d %s", d.Src)); err != nil {
			return fmt.Errorf("directory %q does not exist on the remote machine", d.Src)
		}
		if err := runCommand(client, fmt.Sprintf("test -r %s", d.Src)); err != nil {
			return fmt.Errorf("no read access to remote directory %q", d.Src)
		}
	}
	return nil
}

func (b *sshDirs) Run(ctx context.Context) error {
	for _, d := range b.cfg.Directories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.backupDirectory(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *sshDirs) backupDirectory(ctx context.Context, d DirectoryConfig) error {
	start := time.Now()
	log.Info().
		Str("action", "ssh_backup").
		Str("host", b.cfg.Host).
		Str("src", d.Src).
		Str("resource", d.Name).
		Msg("archiving remote directory")

	client, err := b.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	remoteTmp := fmt.Sprintf("/tmp/%s.tar.gz", d.Name)
	tarCmd := buildTarCommand(remoteTmp, d)
	log.Debug().Str("action", "ssh_backup").Str("cmd", tarCmd).Msg("running remote archive command")
	if err := runCommand(client, tarCmd); err != nil {
		return &TransferError{Source: d.Src, Err: fmt.Errorf("remote archive: %w", err)}
	}
	// Best-effort removal of the remote temp on every exit path.
	defer func() {
		if err := runCommand(client, fmt.Sprintf("rm -f %s", remoteTmp)); err != nil {
			log.Warn().Err(err).Str("file", remoteTmp).Msg("failed to remove remote temporary archive")
		}
	}()

	sftpc, err := sftp.NewClient(client)
	if err != nil {
		return &TransferError{Source: d.Src, Err: fmt.Errorf("open sftp channel: %w", err)}
	}
	defer func() { _ = sftpc.Close() }()

	f, err := sftpc.Open(remoteTmp)
	if err != nil {
		return &TransferError{Source: d.Src, Err: fmt.Errorf("open remote archive: %w", err)}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return &TransferError{Source: d.Src, Err: fmt.Errorf("stat remote archive: %w", err)}
	}

	key := destKey(d, artifactName(d.Name, b.now()))
	err = b.store.Put(ctx, f, fi.Size(), key)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("action", "ssh_backup").
		Str("host", b.cfg.Host).
		Str("resource", d.Name).
		Str("remote", key).
		Int64("size", fi.Size()).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup OK")

	applyRetention(ctx, b.store, d)
	return nil
}

func buildTarCommand(dest string, d DirectoryConfig) string {
	args := make([]string, 0, len(d.Exclude)+4)
	args = append(args, "tar", "-czf", dest)
	for _, e := range d.Exclude {
		args = append(args, "--exclude="+e)
	}
	args = append(args, d.Src)
	return strings.Join(args, " ")
}
