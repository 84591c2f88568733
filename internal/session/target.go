package session

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Target is a parsed resource URL reduced to what a Dialer needs.
type Target struct {
	Scheme   string
	Host     string
	Port     string
	Share    string // first path element, SMB only
	User     string
	Domain   string
	Password string
}

// ParseTarget parses a resource URL. user overrides the URL's user info
// when it is not empty.
func ParseTarget(raw, user string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("%q has no host", raw)
	}

	t := Target{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
		Port:   u.Port(),
		User:   u.User.Username(),
	}
	if user != "" {
		t.User = user
	}
	switch t.Scheme {
	case "smb", "cifs":
		t.Scheme = "smb"
		share, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		t.Share = strings.ToLower(share)
		if domain, name, ok := strings.Cut(t.User, ";"); ok {
			t.Domain, t.User = domain, name
		}
	case "sftp", "ssh":
		t.Scheme = "sftp"
	}
	return t, nil
}

// Key identifies the session serving t. Records whose URLs differ only in
// the path below the share share a session.
func (t Target) Key() string {
	k := t.Scheme + "://"
	if t.Scheme == "sftp" && t.User != "" {
		k += t.User + "@"
	}
	k += t.Host
	if t.Port != "" {
		k += ":" + t.Port
	}
	if t.Share != "" {
		k += "/" + t.Share
	}
	return k
}

// Name is the display name of the session.
func (t Target) Name() string {
	switch {
	case t.Share != "":
		return t.Share + " on " + t.Host
	case t.User != "":
		return t.User + " on " + t.Host
	default:
		return t.Host
	}
}

// Addr returns host:port, using defaultPort when the URL names none.
func (t Target) Addr(defaultPort string) string {
	port := t.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, port)
}
