package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"vfspanel/internal/encryption"
)

func TestNewFileVault(t *testing.T) {
	t.Run("creates root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "secrets")

		if _, err := NewFileVault(root, encryption.NewTestSealer()); err != nil {
			t.Fatalf("NewFileVault() error = %v", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			t.Fatalf("root directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Errorf("root is not a directory")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileVault(t.TempDir(), encryption.NewTestSealer()); err != nil {
			t.Fatalf("NewFileVault() error = %v", err)
		}
	})
}

func TestFileVault_StoreLoadRemove(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	v, err := NewFileVaultOnFs(fsys, "/vault", encryption.NewTestSealer())
	if err != nil {
		t.Fatalf("NewFileVaultOnFs() error = %v", err)
	}

	if err := v.Store(ctx, "id-1", "hunter2"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := v.Store(ctx, "id-1", "replaced"); err != nil {
		t.Fatalf("second Store() error = %v", err)
	}

	raw, err := afero.ReadFile(fsys, "/vault/id-1.age")
	if err != nil {
		t.Fatalf("sealed file missing: %v", err)
	}
	if string(raw) == "replaced" {
		t.Error("secret stored in plaintext")
	}

	pw, found, err := v.Load(ctx, "id-1")
	if err != nil || !found || pw != "replaced" {
		t.Errorf("Load() = %q, %v, %v; want %q, true, nil", pw, found, err, "replaced")
	}

	if err := v.Remove(ctx, "id-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, found, err := v.Load(ctx, "id-1"); err != nil || found {
		t.Errorf("Load() after Remove = found %v, err %v", found, err)
	}
	if err := v.Remove(ctx, "id-1"); err != nil {
		t.Errorf("Remove() of missing secret error = %v", err)
	}

	leftovers, _ := afero.Glob(fsys, "/vault/.tmp-*")
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestFileVault_WithAgeSealer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sealer := encryption.NewAgeSealer(filepath.Join(dir, "vault.key"))
	if err := sealer.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	v, err := NewFileVault(filepath.Join(dir, "secrets"), sealer)
	if err != nil {
		t.Fatalf("NewFileVault() error = %v", err)
	}

	if err := v.Store(ctx, "id-1", "hunter2"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "secrets", "id-1.age"))
	if err != nil {
		t.Fatalf("sealed file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("sealed file permissions = %o, want 600", info.Mode().Perm())
	}

	pw, found, err := v.Load(ctx, "id-1")
	if err != nil || !found || pw != "hunter2" {
		t.Errorf("Load() = %q, %v, %v", pw, found, err)
	}
}

func TestFileVault_RejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	v, err := NewFileVaultOnFs(afero.NewMemMapFs(), "/vault", encryption.NewTestSealer())
	if err != nil {
		t.Fatalf("NewFileVaultOnFs() error = %v", err)
	}

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if err := v.Store(ctx, id, "x"); err == nil {
			t.Errorf("Store(%q) expected error", id)
		}
	}
}

func TestFileVault_CorruptSecret(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	v, err := NewFileVaultOnFs(fsys, "/vault", encryption.NewTestSealer())
	if err != nil {
		t.Fatalf("NewFileVaultOnFs() error = %v", err)
	}
	if err := afero.WriteFile(fsys, "/vault/id-1.age", []byte("garbage"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, _, err := v.Load(ctx, "id-1"); err == nil {
		t.Error("Load() of a corrupt secret should fail")
	}
}
