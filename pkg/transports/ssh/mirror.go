package ssh

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

type stamp struct {
	size    int64
	modTime time.Time
}

// mirror keeps a local directory copied to the same path on the remote
// host. Only files whose size or mtime changed since the last sync are sent.
type mirror struct {
	root    string
	exclude []string
	client  *sftp.Client
	sent   map[string]stamp
	logger zerolog.Logger
}

func newMirror(conn *ssh.Client, root string, exclude []string, logger zerolog.Logger) (*mirror, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("mirror dir: %w", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return &mirror{root: abs, exclude: exclude, client: client, sent: map[string]stamp{}, logger: logger}, nil
}

// Sync uploads new and changed files. A missing local root is not an error;
// nothing has been generated yet.
func (m *mirror) Sync() error {
	if _, err := os.Stat(m.root); os.IsNotExist(err) {
		return nil
	}
	uploaded := 0
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		remote := filepath.ToSlash(p)
		if d.IsDir() {
			return m.client.MkdirAll(remote)
		}
		if !d.Type().IsRegular() || m.excluded(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st := stamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := m.sent[p]; ok && prev == st {
			return nil
		}
		if err := m.upload(p, remote, info.Mode().Perm()); err != nil {
			return err
		}
		m.sent[p] = st
		uploaded++
		return nil
	})
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if uploaded > 0 {
		m.logger.Debug().Str("dir", m.root).Int("files", uploaded).Msg("mirrored files")
	}
	return nil
}

func (m *mirror) excluded(name string) bool {
	for _, pattern := range m.exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (m *mirror) upload(local, remote string, mode os.FileMode) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := m.client.MkdirAll(path.Dir(remote)); err != nil {
		return fmt.Errorf("failed to create remote dir: %w", err)
	}
	dst, err := m.client.Create(remote)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy %s: %w", local, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return m.client.Chmod(remote, mode)
}

func (m *mirror) Close() error {
	return m.client.Close()
}
