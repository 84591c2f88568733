// Package registry provides hierarchical key/value stores in the shape of a
// settings registry: slash-separated keys holding typed named values.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrKeyNotFound   = errors.New("registry key not found")
	ErrValueNotFound = errors.New("registry value not found")
)

// Kind is the type tag of a stored value.
type Kind byte

const (
	KindString Kind = 1
	KindBinary Kind = 3
	KindDWord  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindDWord:
		return "dword"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Value is a typed registry value.
type Value struct {
	Kind Kind
	Data []byte
}

func StringValue(s string) Value { return Value{Kind: KindString, Data: []byte(s)} }

func BinaryValue(b []byte) Value {
	return Value{Kind: KindBinary, Data: append([]byte(nil), b...)}
}

func DWordValue(n uint32) Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, n)
	return Value{Kind: KindDWord, Data: data}
}

// Str returns the value as a string.
func (v Value) Str() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("value is %s, not string", v.Kind)
	}
	return string(v.Data), nil
}

// DWord returns the value as a 32-bit integer.
func (v Value) DWord() (uint32, error) {
	if v.Kind != KindDWord || len(v.Data) != 4 {
		return 0, fmt.Errorf("value is %s, not dword", v.Kind)
	}
	return binary.LittleEndian.Uint32(v.Data), nil
}

// Bytes returns the value as binary data.
func (v Value) Bytes() ([]byte, error) {
	if v.Kind != KindBinary {
		return nil, fmt.Errorf("value is %s, not binary", v.Kind)
	}
	return v.Data, nil
}

// encode packs a value as its kind byte followed by the data, the layout
// the byte-oriented backends store.
func (v Value) encode() []byte {
	out := make([]byte, 0, len(v.Data)+1)
	out = append(out, byte(v.Kind))
	return append(out, v.Data...)
}

func decodeValue(raw []byte) (Value, error) {
	if len(raw) == 0 {
		return Value{}, fmt.Errorf("empty value record")
	}
	return Value{Kind: Kind(raw[0]), Data: append([]byte(nil), raw[1:]...)}, nil
}

// Registry is a hierarchical key/value store.
//
// Keys are slash-separated paths such as "Resources/<id>". Setting a value
// creates its key and all parents. SubKeys lists direct children in the
// store's own order, which callers must not assume to be stable.
type Registry interface {
	CreateKey(key string) error
	KeyExists(key string) (bool, error)
	SubKeys(key string) ([]string, error)
	// DeleteKey removes key, its values and all descendants. Deleting a
	// missing key is not an error.
	DeleteKey(key string) error

	GetValue(key, name string) (Value, error)
	SetValue(key, name string, v Value) error
	DeleteValue(key, name string) error

	Close() error
}

// CleanKey normalises a key path: no leading, trailing or doubled slashes.
func CleanKey(key string) string {
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// JoinKey joins key path segments.
func JoinKey(parts ...string) string {
	return CleanKey(strings.Join(parts, "/"))
}

// parentKeys returns every ancestor of key, outermost first, and key itself.
func parentKeys(key string) []string {
	key = CleanKey(key)
	if key == "" {
		return nil
	}
	parts := strings.Split(key, "/")
	out := make([]string, len(parts))
	for i := range parts {
		out[i] = strings.Join(parts[:i+1], "/")
	}
	return out
}

// GetString reads a string value.
func GetString(r Registry, key, name string) (string, error) {
	v, err := r.GetValue(key, name)
	if err != nil {
		return "", err
	}
	return v.Str()
}

// GetDWord reads a dword value.
func GetDWord(r Registry, key, name string) (uint32, error) {
	v, err := r.GetValue(key, name)
	if err != nil {
		return 0, err
	}
	return v.DWord()
}

// GetBinary reads a binary value.
func GetBinary(r Registry, key, name string) ([]byte, error) {
	v, err := r.GetValue(key, name)
	if err != nil {
		return nil, err
	}
	return v.Bytes()
}

func SetString(r Registry, key, name, s string) error {
	return r.SetValue(key, name, StringValue(s))
}

func SetDWord(r Registry, key, name string, n uint32) error {
	return r.SetValue(key, name, DWordValue(n))
}

func SetBinary(r Registry, key, name string, b []byte) error {
	return r.SetValue(key, name, BinaryValue(b))
}
