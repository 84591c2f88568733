package registry_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"vfspanel/internal/config"
	"vfspanel/internal/registry"
)

// backends returns a fresh instance of every registry implementation.
func backends(t *testing.T) map[string]registry.Registry {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := registry.NewSQLiteRegistry(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRegistry() error = %v", err)
	}
	bolt, err := registry.NewBoltRegistry(filepath.Join(dir, "reg.bolt"))
	if err != nil {
		t.Fatalf("NewBoltRegistry() error = %v", err)
	}
	badger, err := registry.NewBadgerRegistry("")
	if err != nil {
		t.Fatalf("NewBadgerRegistry() error = %v", err)
	}
	ini, err := registry.NewINIRegistry(filepath.Join(dir, "reg.ini"))
	if err != nil {
		t.Fatalf("NewINIRegistry() error = %v", err)
	}

	regs := map[string]registry.Registry{
		"memory": registry.NewMemoryRegistry(),
		"sqlite": sqlite,
		"bolt":   bolt,
		"badger": badger,
		"ini":    ini,
	}
	t.Cleanup(func() {
		for _, r := range regs {
			r.Close()
		}
	})
	return regs
}

func TestRegistry_Values(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := "Resources/abc"
			if err := registry.SetString(reg, key, "URL", "smb://host/share #1; \"quoted\"\n"); err != nil {
				t.Fatalf("SetString() error = %v", err)
			}
			if err := registry.SetBinary(reg, key, "Password", []byte{0, 1, 2, 0xff}); err != nil {
				t.Fatalf("SetBinary() error = %v", err)
			}
			if err := registry.SetDWord(reg, key, "AskPassword", 1); err != nil {
				t.Fatalf("SetDWord() error = %v", err)
			}

			s, err := registry.GetString(reg, key, "URL")
			if err != nil || s != "smb://host/share #1; \"quoted\"\n" {
				t.Errorf("GetString() = %q, %v", s, err)
			}
			b, err := registry.GetBinary(reg, key, "Password")
			if err != nil || !bytes.Equal(b, []byte{0, 1, 2, 0xff}) {
				t.Errorf("GetBinary() = %x, %v", b, err)
			}
			n, err := registry.GetDWord(reg, key, "AskPassword")
			if err != nil || n != 1 {
				t.Errorf("GetDWord() = %d, %v", n, err)
			}

			if _, err := registry.GetDWord(reg, key, "URL"); err == nil {
				t.Error("GetDWord() on a string value should fail")
			}

			if err := reg.DeleteValue(key, "URL"); err != nil {
				t.Fatalf("DeleteValue() error = %v", err)
			}
			if _, err := reg.GetValue(key, "URL"); !errors.Is(err, registry.ErrValueNotFound) {
				t.Errorf("GetValue() after delete error = %v, want ErrValueNotFound", err)
			}
			if err := reg.DeleteValue(key, "URL"); err != nil {
				t.Errorf("second DeleteValue() error = %v", err)
			}
		})
	}
}

func TestRegistry_EmptyBinary(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := registry.SetBinary(reg, "k", "Password", nil); err != nil {
				t.Fatalf("SetBinary() error = %v", err)
			}
			b, err := registry.GetBinary(reg, "k", "Password")
			if err != nil {
				t.Fatalf("GetBinary() error = %v", err)
			}
			if len(b) != 0 {
				t.Errorf("GetBinary() = %x, want empty", b)
			}
		})
	}
}

func TestRegistry_RootValues(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := reg.GetValue("", "Version"); !errors.Is(err, registry.ErrValueNotFound) {
				t.Fatalf("GetValue() on empty root error = %v, want ErrValueNotFound", err)
			}
			if err := registry.SetDWord(reg, "", "Version", 5); err != nil {
				t.Fatalf("SetDWord() error = %v", err)
			}
			n, err := registry.GetDWord(reg, "/", "Version")
			if err != nil || n != 5 {
				t.Errorf("GetDWord() = %d, %v", n, err)
			}
			keys, err := reg.SubKeys("")
			if err != nil {
				t.Fatalf("SubKeys() error = %v", err)
			}
			if len(keys) != 0 {
				t.Errorf("SubKeys() = %v, want none", keys)
			}
		})
	}
}

func TestRegistry_Keys(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"Resources/b", "Resources/a/deep", "Resources/c", "Other"} {
				if err := reg.CreateKey(k); err != nil {
					t.Fatalf("CreateKey(%s) error = %v", k, err)
				}
			}

			ok, err := reg.KeyExists("Resources/a")
			if err != nil || !ok {
				t.Errorf("KeyExists(parent) = %v, %v", ok, err)
			}

			got, err := reg.SubKeys("Resources")
			if err != nil {
				t.Fatalf("SubKeys() error = %v", err)
			}
			sort.Strings(got)
			want := []string{"a", "b", "c"}
			if len(got) != len(want) {
				t.Fatalf("SubKeys() = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("SubKeys() = %v, want %v", got, want)
				}
			}

			if _, err := reg.SubKeys("Missing"); !errors.Is(err, registry.ErrKeyNotFound) {
				t.Errorf("SubKeys(missing) error = %v, want ErrKeyNotFound", err)
			}
			if _, err := reg.GetValue("Missing", "x"); !errors.Is(err, registry.ErrKeyNotFound) {
				t.Errorf("GetValue(missing key) error = %v, want ErrKeyNotFound", err)
			}
		})
	}
}

func TestRegistry_DeleteKey(t *testing.T) {
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := registry.SetString(reg, "Resources/a/deep", "URL", "x"); err != nil {
				t.Fatalf("SetString() error = %v", err)
			}
			if err := registry.SetString(reg, "Resources/a", "URL", "y"); err != nil {
				t.Fatalf("SetString() error = %v", err)
			}
			if err := registry.SetString(reg, "Resources/ab", "URL", "z"); err != nil {
				t.Fatalf("SetString() error = %v", err)
			}

			if err := reg.DeleteKey("Resources/a"); err != nil {
				t.Fatalf("DeleteKey() error = %v", err)
			}
			for _, k := range []string{"Resources/a", "Resources/a/deep"} {
				if ok, _ := reg.KeyExists(k); ok {
					t.Errorf("KeyExists(%s) = true after delete", k)
				}
			}
			if s, err := registry.GetString(reg, "Resources/ab", "URL"); err != nil || s != "z" {
				t.Errorf("sibling with shared prefix damaged: %q, %v", s, err)
			}

			if err := reg.DeleteKey("Resources/a"); err != nil {
				t.Errorf("DeleteKey(missing) error = %v", err)
			}
			if err := reg.DeleteKey(""); err == nil {
				t.Error("DeleteKey(root) should fail")
			}

			// a recreated key starts empty
			if err := reg.CreateKey("Resources/a"); err != nil {
				t.Fatalf("CreateKey() error = %v", err)
			}
			if _, err := reg.GetValue("Resources/a", "URL"); !errors.Is(err, registry.ErrValueNotFound) {
				t.Errorf("GetValue() on recreated key error = %v, want ErrValueNotFound", err)
			}
		})
	}
}

func TestRegistry_CreationOrder(t *testing.T) {
	// bolt lists subkeys in byte order; the others keep creation order
	for name, reg := range backends(t) {
		if name == "bolt" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			want := []string{"zeta", "alpha", "mid"}
			for _, k := range want {
				if err := reg.CreateKey(registry.JoinKey("Resources", k)); err != nil {
					t.Fatalf("CreateKey() error = %v", err)
				}
			}
			got, err := reg.SubKeys("Resources")
			if err != nil {
				t.Fatalf("SubKeys() error = %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("SubKeys() = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("SubKeys() = %v, want %v", got, want)
				}
			}
		})
	}
}

func TestPersistentBackends_Reopen(t *testing.T) {
	dir := t.TempDir()
	openers := map[string]func() (registry.Registry, error){
		"sqlite": func() (registry.Registry, error) { return registry.NewSQLiteRegistry(filepath.Join(dir, "reg.db")) },
		"bolt":   func() (registry.Registry, error) { return registry.NewBoltRegistry(filepath.Join(dir, "reg.bolt")) },
		"badger": func() (registry.Registry, error) { return registry.NewBadgerRegistry(filepath.Join(dir, "badger")) },
		"ini":    func() (registry.Registry, error) { return registry.NewINIRegistry(filepath.Join(dir, "reg.ini")) },
	}

	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			reg, err := open()
			if err != nil {
				t.Fatalf("open error = %v", err)
			}
			if err := registry.SetString(reg, "Resources/id1", "URL", "ftp://a"); err != nil {
				t.Fatalf("SetString() error = %v", err)
			}
			if err := registry.SetDWord(reg, "", "Version", 5); err != nil {
				t.Fatalf("SetDWord() error = %v", err)
			}
			if err := reg.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			reg, err = open()
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			defer reg.Close()

			if s, err := registry.GetString(reg, "Resources/id1", "URL"); err != nil || s != "ftp://a" {
				t.Errorf("GetString() after reopen = %q, %v", s, err)
			}
			if n, err := registry.GetDWord(reg, "", "Version"); err != nil || n != 5 {
				t.Errorf("GetDWord() after reopen = %d, %v", n, err)
			}
		})
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     config.RegistryConfig
		wantErr bool
	}{
		{config.RegistryConfig{Type: "memory"}, false},
		{config.RegistryConfig{Type: "sqlite", Path: filepath.Join(dir, "sub", "r.db")}, false},
		{config.RegistryConfig{Type: "bolt", Path: filepath.Join(dir, "r.bolt")}, false},
		{config.RegistryConfig{Type: "badger", Path: filepath.Join(dir, "badger")}, false},
		{config.RegistryConfig{Type: "ini", Path: filepath.Join(dir, "r.ini")}, false},
		{config.RegistryConfig{Type: "sqlite"}, true},
		{config.RegistryConfig{Type: "leveldb", Path: filepath.Join(dir, "x")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			reg, err := registry.NewRegistryFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					reg.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistryFromConfig() error = %v", err)
			}
			reg.Close()
		})
	}
}

func TestMemoryRegistry_Closed(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	reg.Close()
	if err := reg.CreateKey("a"); err == nil {
		t.Error("CreateKey() on closed registry should fail")
	}
}
