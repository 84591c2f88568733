package gvfs

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

// MountSpec identifies a mount to the GVFS daemon: a set of key/value items
// whose "type" selects the backend, plus a path prefix for backends that
// mount a subtree.
type MountSpec struct {
	Prefix string
	Items  map[string]string
}

// wireSpec is the D-Bus form of a MountSpec, (aya{sv}) with every item a
// bytestring variant.
type wireSpec struct {
	Prefix []byte
	Items  map[string]dbus.Variant
}

// SpecFromURL maps a resource URL to the mount spec GVFS uses for it.
func SpecFromURL(raw string) (MountSpec, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return MountSpec{}, fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Host == "" {
		return MountSpec{}, fmt.Errorf("%q has no host", raw)
	}

	spec := MountSpec{Prefix: "/", Items: make(map[string]string)}
	host := strings.ToLower(u.Hostname())
	user := u.User.Username()

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "smb", "cifs":
		spec.Items["server"] = host
		share, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if share == "" {
			spec.Items["type"] = "smb-server"
		} else {
			spec.Items["type"] = "smb-share"
			spec.Items["share"] = strings.ToLower(share)
		}
		if domain, name, ok := strings.Cut(user, ";"); ok {
			spec.Items["domain"] = domain
			user = name
		}
	case "sftp", "ssh":
		spec.Items["type"] = "sftp"
		spec.Items["host"] = host
	case "ftp", "ftps":
		spec.Items["type"] = scheme
		spec.Items["host"] = host
	case "dav", "davs", "http", "https":
		spec.Items["type"] = "dav"
		spec.Items["host"] = host
		if scheme == "davs" || scheme == "https" {
			spec.Items["ssl"] = "true"
		}
		if p := strings.TrimSuffix(u.Path, "/"); p != "" {
			spec.Prefix = p
		}
	default:
		return MountSpec{}, fmt.Errorf("scheme %q cannot be mounted through GVFS", u.Scheme)
	}

	if user != "" {
		spec.Items["user"] = user
	}
	if port := u.Port(); port != "" {
		spec.Items["port"] = port
	}
	return spec, nil
}

// Scheme returns the URI scheme of the mount.
func (s MountSpec) Scheme() string {
	switch t := s.Items["type"]; t {
	case "smb-share", "smb-server":
		return "smb"
	case "dav":
		if s.Items["ssl"] == "true" {
			return "davs"
		}
		return "dav"
	default:
		return t
	}
}

// Matches reports whether a live mount with spec other serves s. User and
// domain only have to match when both sides name one.
func (s MountSpec) Matches(other MountSpec) bool {
	for k, v := range s.Items {
		ov, ok := other.Items[k]
		if (k == "user" || k == "domain") && !ok {
			continue
		}
		if !strings.EqualFold(v, ov) {
			return false
		}
	}
	return other.Prefix == "/" || s.Prefix == other.Prefix ||
		strings.HasPrefix(s.Prefix, strings.TrimSuffix(other.Prefix, "/")+"/")
}

// String renders the spec the way GVFS names its FUSE directories, for
// example "smb-share:server=nas,share=public".
func (s MountSpec) String() string {
	keys := make([]string, 0, len(s.Items))
	for k := range s.Items {
		if k != "type" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + s.Items[k]
	}
	return s.Items["type"] + ":" + strings.Join(parts, ",")
}

// ParseStableName parses a FUSE directory name produced by String.
func ParseStableName(name string) (MountSpec, bool) {
	typ, rest, ok := strings.Cut(name, ":")
	if !ok || typ == "" {
		return MountSpec{}, false
	}
	spec := MountSpec{Prefix: "/", Items: map[string]string{"type": typ}}
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == "prefix" {
			spec.Prefix = unescapeStable(v)
			continue
		}
		spec.Items[k] = unescapeStable(v)
	}
	return spec, true
}

// unescapeStable undoes the %XX escaping GVFS applies to stable name values.
func unescapeStable(v string) string {
	if out, err := url.PathUnescape(v); err == nil {
		return out
	}
	return v
}

func (s MountSpec) wire() wireSpec {
	items := make(map[string]dbus.Variant, len(s.Items))
	for k, v := range s.Items {
		items[k] = dbus.MakeVariant([]byte(v + "\x00"))
	}
	return wireSpec{Prefix: []byte(s.Prefix + "\x00"), Items: items}
}

func specFromWire(w wireSpec) MountSpec {
	spec := MountSpec{Prefix: cString(w.Prefix), Items: make(map[string]string, len(w.Items))}
	for k, v := range w.Items {
		switch val := v.Value().(type) {
		case []byte:
			spec.Items[k] = cString(val)
		case string:
			spec.Items[k] = val
		}
	}
	if spec.Prefix == "" {
		spec.Prefix = "/"
	}
	return spec
}

// cString trims the terminating NUL D-Bus bytestrings carry.
func cString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
