package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"vfspanel/internal/panel"
)

// FileVault keeps one sealed file per secret under a root directory:
//
//	<root>/
//	  <id>.age
type FileVault struct {
	fs     afero.Fs
	root   string
	sealer Sealer
}

var _ panel.CredentialVault = (*FileVault)(nil)

// NewFileVault creates a vault rooted at root on the OS filesystem.
func NewFileVault(root string, sealer Sealer) (*FileVault, error) {
	return NewFileVaultOnFs(afero.NewOsFs(), root, sealer)
}

// NewFileVaultOnFs creates a vault rooted at root on fsys.
func NewFileVaultOnFs(fsys afero.Fs, root string, sealer Sealer) (*FileVault, error) {
	if err := fsys.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileVault{fs: fsys, root: root, sealer: sealer}, nil
}

// Store seals password and writes it under id, replacing any previous
// secret atomically.
func (v *FileVault) Store(ctx context.Context, id, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	sealed, err := v.sealer.Seal([]byte(password))
	if err != nil {
		return fmt.Errorf("sealing secret %s: %w", id, err)
	}
	return v.writeFile(v.path(id), sealed)
}

// Load reads and opens the secret stored under id.
func (v *FileVault) Load(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := checkID(id); err != nil {
		return "", false, err
	}
	sealed, err := afero.ReadFile(v.fs, v.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading secret %s: %w", id, err)
	}
	plain, err := v.sealer.Open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("opening secret %s: %w", id, err)
	}
	return string(plain), true, nil
}

// Remove deletes the secret stored under id.
func (v *FileVault) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	err := v.fs.Remove(v.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing secret %s: %w", id, err)
	}
	return nil
}

func (v *FileVault) path(id string) string {
	return filepath.Join(v.root, id+".age")
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func (v *FileVault) writeFile(destPath string, data []byte) error {
	tmpFile, err := afero.TempFile(v.fs, v.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			v.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := v.fs.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if err := v.fs.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
