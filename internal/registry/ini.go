package registry

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// INIRegistry keeps the registry in a human-editable INI file, one section
// per key path. The root key lives in the default section. Values are
// written as "sz:", "hex:" or "dword:" prefixed text. Every mutation
// rewrites the file atomically.
type INIRegistry struct {
	mu   sync.Mutex
	path string
	file *ini.File
}

var _ Registry = (*INIRegistry)(nil)

var iniLoadOptions = ini.LoadOptions{
	Loose:                   true,
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// NewINIRegistry loads path, starting empty if it does not exist yet.
func NewINIRegistry(path string) (*INIRegistry, error) {
	f, err := ini.LoadSources(iniLoadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("loading ini registry %s: %w", path, err)
	}
	return &INIRegistry{path: path, file: f}, nil
}

func (r *INIRegistry) CreateKey(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createLocked(key) {
		return r.saveLocked()
	}
	return nil
}

func (r *INIRegistry) KeyExists(key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	return key == "" || r.hasSection(key), nil
}

func (r *INIRegistry) SubKeys(key string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	if key != "" && !r.hasSection(key) {
		return nil, fmt.Errorf("listing %s: %w", key, ErrKeyNotFound)
	}
	var names []string
	for _, s := range r.file.SectionStrings() {
		if s == ini.DefaultSection {
			continue
		}
		if name, ok := childName(key, s); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *INIRegistry) DeleteKey(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	if key == "" {
		return fmt.Errorf("refusing to delete the root key")
	}
	changed := false
	for _, s := range r.file.SectionStrings() {
		if s == key || strings.HasPrefix(s, key+"/") {
			r.file.DeleteSection(s)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.saveLocked()
}

func (r *INIRegistry) GetValue(key, name string) (Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	if key != "" && !r.hasSection(key) {
		return Value{}, fmt.Errorf("reading %s: %w", key, ErrKeyNotFound)
	}
	sec := r.file.Section(sectionName(key))
	if !sec.HasKey(name) {
		return Value{}, fmt.Errorf("reading %s/%s: %w", key, name, ErrValueNotFound)
	}
	v, err := parseINIValue(sec.Key(name).String())
	if err != nil {
		return Value{}, fmt.Errorf("reading %s/%s: %w", key, name, err)
	}
	return v, nil
}

func (r *INIRegistry) SetValue(key, name string, v Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	r.createLocked(key)
	text, err := formatINIValue(v)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", key, name, err)
	}
	r.file.Section(sectionName(key)).Key(name).SetValue(text)
	return r.saveLocked()
}

func (r *INIRegistry) DeleteValue(key, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key = CleanKey(key)
	if key != "" && !r.hasSection(key) {
		return nil
	}
	sec := r.file.Section(sectionName(key))
	if !sec.HasKey(name) {
		return nil
	}
	sec.DeleteKey(name)
	return r.saveLocked()
}

func (r *INIRegistry) Close() error {
	return nil
}

func (r *INIRegistry) hasSection(name string) bool {
	_, err := r.file.GetSection(name)
	return err == nil
}

// createLocked adds missing sections for key and its parents and reports
// whether anything was added.
func (r *INIRegistry) createLocked(key string) bool {
	added := false
	for _, p := range parentKeys(key) {
		if r.hasSection(p) {
			continue
		}
		if _, err := r.file.NewSection(p); err == nil {
			added = true
		}
	}
	return added
}

func (r *INIRegistry) saveLocked() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := r.file.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing registry file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing registry file: %w", err)
	}
	return nil
}

func sectionName(key string) string {
	if key == "" {
		return ini.DefaultSection
	}
	return key
}

func formatINIValue(v Value) (string, error) {
	switch v.Kind {
	case KindString:
		return "sz:" + strconv.Quote(string(v.Data)), nil
	case KindBinary:
		return "hex:" + hex.EncodeToString(v.Data), nil
	case KindDWord:
		n, err := v.DWord()
		if err != nil {
			return "", err
		}
		return "dword:" + strconv.FormatUint(uint64(n), 10), nil
	default:
		return "", fmt.Errorf("unsupported value kind %s", v.Kind)
	}
}

func parseINIValue(text string) (Value, error) {
	tag, body, ok := strings.Cut(text, ":")
	if !ok {
		return Value{}, fmt.Errorf("untagged value %q", text)
	}
	switch tag {
	case "sz":
		s, err := strconv.Unquote(body)
		if err != nil {
			return Value{}, fmt.Errorf("bad string value: %w", err)
		}
		return StringValue(s), nil
	case "hex":
		b, err := hex.DecodeString(body)
		if err != nil {
			return Value{}, fmt.Errorf("bad binary value: %w", err)
		}
		return BinaryValue(b), nil
	case "dword":
		n, err := strconv.ParseUint(body, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("bad dword value: %w", err)
		}
		return DWordValue(uint32(n)), nil
	default:
		return Value{}, fmt.Errorf("unknown value tag %q", tag)
	}
}
