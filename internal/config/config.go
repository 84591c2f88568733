package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for vfspanel.
type Config struct {
	BaseDir string `toml:"base_dir" validate:"required"`

	// UnmountAllAtExit unmounts every mounted resource when the panel closes.
	UnmountAllAtExit bool `toml:"unmount_all_at_exit"`
	// UseVaultForSecrets keeps passwords in the credential vault instead of
	// the record store.
	UseVaultForSecrets bool `toml:"use_vault_for_secrets"`

	Log      LogConfig      `toml:"log"`
	Registry RegistryConfig `toml:"registry"`
	Vault    VaultConfig    `toml:"vault"`
	Backend  BackendConfig  `toml:"backend"`
	Monitor  MonitorConfig  `toml:"monitor"`
}

// LogConfig controls where and how logs are written.
type LogConfig struct {
	Dir        string `toml:"dir"`
	Format     string `toml:"format" validate:"omitempty,oneof=text json"`
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	Stderr     bool   `toml:"stderr"`
}

// RegistryConfig selects the settings registry holding resource records.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RegistryConfig struct {
	Type string `toml:"type" validate:"required,oneof=sqlite bolt badger ini memory"`
	Path string `toml:"path,omitempty"` // file or directory; unused for type=memory
}

// VaultConfig represents configuration for the credential vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"required,oneof=secret-service file s3 memory"`

	// IdentityPath is the age identity sealing secrets for the file and s3 vaults.
	IdentityPath string `toml:"identity_path,omitempty"`

	// FileSystem-specific fields (only used when Type == "file")
	FileRoot string `toml:"file_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static keys; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// BackendConfig selects the mount backend.
type BackendConfig struct {
	Type           string `toml:"type" validate:"required,oneof=gvfs session"`
	FuseRoot       string `toml:"fuse_root,omitempty"`        // gvfs only; defaults to $XDG_RUNTIME_DIR/gvfs
	KnownHostsPath string `toml:"known_hosts_path,omitempty"` // session only
	DialTimeoutMS  int    `toml:"dial_timeout_ms" validate:"gte=0"`
}

// MonitorConfig controls external mount event monitoring.
type MonitorConfig struct {
	Enabled        bool   `toml:"enabled"`
	Source         string `toml:"source" validate:"omitempty,oneof=dbus fuse"` // gvfs only
	PollIntervalMS int    `toml:"poll_interval_ms" validate:"gte=0"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:          baseDir,
		UnmountAllAtExit: true,
		Log: LogConfig{
			Dir:        filepath.Join(baseDir, "log"),
			Format:     "text",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Registry: RegistryConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "resources.db"),
		},
		Vault: VaultConfig{
			Type:         "secret-service",
			IdentityPath: filepath.Join(baseDir, "keys", "vault.key"),
			FileRoot:     filepath.Join(baseDir, "secrets"),
		},
		Backend: BackendConfig{
			Type:          "gvfs",
			DialTimeoutMS: 10000,
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			Source:         "dbus",
			PollIntervalMS: 500,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys missing from the
// input keep the defaults of NewConfig("").
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := NewConfig("")
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
