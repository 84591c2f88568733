// Package gvfs mounts resources through the GVFS daemon of the desktop
// session, over D-Bus.
package gvfs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/adrg/xdg"
	"github.com/godbus/dbus/v5"

	"vfspanel/internal/panel"
)

const (
	daemonService = "org.gtk.vfs.Daemon"
	trackerPath   = dbus.ObjectPath("/org/gtk/vfs/mounttracker")
	trackerIface  = "org.gtk.vfs.MountTracker"
	mountIface    = "org.gtk.vfs.Mount"
	mountOpIface  = "org.gtk.vfs.MountOperation"

	mountOpPathPrefix = "/io/vfspanel/mountop/"

	// ErrorDomain tags BackendErrors raised from daemon replies.
	ErrorDomain = "g-io-error-quark"
)

// mountInfo is the tracker's description of a live mount,
// (sossssssbay(aya{sv})ay) on the wire.
type mountInfo struct {
	DBusID           string
	ObjectPath       dbus.ObjectPath
	DisplayName      string
	StableName       string
	XContentTypes    string
	Icon             string
	SymbolicIcon     string
	FilenameEncoding string
	UserVisible      bool
	FuseMountpoint   []byte
	Spec             wireSpec
	DefaultLocation  []byte
}

// busConn is the part of *dbus.Conn the client uses.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v any, path dbus.ObjectPath, iface string) error
	Names() []string
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Client is a panel.Backend talking to the GVFS mount tracker. Each call
// exports its own mount operation object, so prompts the daemon raises reach
// the Operation that asked for the mount.
type Client struct {
	conn     busConn
	fuseRoot string
	logger   panel.Logger
	seq      atomic.Uint64
}

var _ panel.Backend = (*Client)(nil)

// DefaultFuseRoot is where gvfsd-fuse exposes mounts for the current user.
func DefaultFuseRoot() string {
	return filepath.Join(xdg.RuntimeDir, "gvfs")
}

// NewClient connects to the session bus. An empty fuseRoot selects
// DefaultFuseRoot.
func NewClient(fuseRoot string, logger panel.Logger) (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session D-Bus: %w", err)
	}
	return newClient(conn, fuseRoot, logger), nil
}

func newClient(conn busConn, fuseRoot string, logger panel.Logger) *Client {
	if fuseRoot == "" {
		fuseRoot = DefaultFuseRoot()
	}
	if logger == nil {
		logger = panel.NewNopLogger()
	}
	return &Client{conn: conn, fuseRoot: fuseRoot, logger: logger}
}

// Close releases the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// FuseRoot returns the directory gvfsd-fuse mounts into.
func (c *Client) FuseRoot() string { return c.fuseRoot }

func (c *Client) Mount(ctx context.Context, req panel.MountRequest) *panel.Operation {
	return panel.StartOperation(func(op *panel.Operation) (panel.MountInfo, error) {
		spec, err := SpecFromURL(req.URL)
		if err != nil {
			return panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotSupported, err, "%v", err)
		}

		source, release, err := c.exportOperation(ctx, op)
		if err != nil {
			return panel.MountInfo{}, err
		}
		defer release()

		c.logger.Debug("mounting", "url", req.URL, "spec", spec.String())
		tracker := c.conn.Object(daemonService, trackerPath)
		if _, err := c.call(ctx, tracker, trackerIface+".MountLocation", spec.wire(), source); err != nil {
			return panel.MountInfo{}, err
		}

		info, err := c.find(ctx, spec)
		if err != nil {
			return panel.MountInfo{}, err
		}
		return c.toPanel(info), nil
	})
}

func (c *Client) Unmount(ctx context.Context, url string) *panel.Operation {
	return panel.StartOperation(func(op *panel.Operation) (panel.MountInfo, error) {
		spec, err := SpecFromURL(url)
		if err != nil {
			return panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotSupported, err, "%v", err)
		}
		info, err := c.find(ctx, spec)
		if err != nil {
			return panel.MountInfo{}, err
		}

		source, release, err := c.exportOperation(ctx, op)
		if err != nil {
			return panel.MountInfo{}, err
		}
		defer release()

		mount := c.conn.Object(info.DBusID, info.ObjectPath)
		if _, err := c.call(ctx, mount, mountIface+".Unmount", source.Name, source.Path, uint32(0)); err != nil {
			return panel.MountInfo{}, err
		}
		return c.toPanel(info), nil
	})
}

func (c *Client) FindMount(ctx context.Context, url string) *panel.Operation {
	return panel.StartOperation(func(*panel.Operation) (panel.MountInfo, error) {
		spec, err := SpecFromURL(url)
		if err != nil {
			return panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotSupported, err, "%v", err)
		}
		info, err := c.find(ctx, spec)
		if err != nil {
			return panel.MountInfo{}, err
		}
		return c.toPanel(info), nil
	})
}

// find returns the live mount serving spec.
func (c *Client) find(ctx context.Context, spec MountSpec) (mountInfo, error) {
	mounts, err := c.listMounts(ctx)
	if err != nil {
		return mountInfo{}, err
	}
	for _, m := range mounts {
		if spec.Matches(specFromWire(m.Spec)) {
			return m, nil
		}
	}
	return mountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotMounted, nil, "%s is not mounted", spec)
}

// MountByFusePath returns the live mount exposed at a FUSE path.
func (c *Client) MountByFusePath(ctx context.Context, path string) (panel.MountInfo, bool) {
	mounts, err := c.listMounts(ctx)
	if err != nil {
		c.logger.Debug("listing mounts", "error", err)
		return panel.MountInfo{}, false
	}
	for _, m := range mounts {
		if info := c.toPanel(m); info.Path == path {
			return info, true
		}
	}
	return panel.MountInfo{}, false
}

func (c *Client) listMounts(ctx context.Context) ([]mountInfo, error) {
	tracker := c.conn.Object(daemonService, trackerPath)
	call, err := c.call(ctx, tracker, trackerIface+".ListMounts2", false)
	if err != nil {
		return nil, err
	}
	var mounts []mountInfo
	if err := call.Store(&mounts); err != nil {
		return nil, fmt.Errorf("decoding mount list: %w", err)
	}
	return mounts, nil
}

func (c *Client) toPanel(m mountInfo) panel.MountInfo {
	spec := specFromWire(m.Spec)
	path := cString(m.FuseMountpoint)
	if path == "" && m.StableName != "" {
		path = filepath.Join(c.fuseRoot, m.StableName)
	}
	return panel.MountInfo{
		Name:   m.DisplayName,
		Path:   path,
		Scheme: spec.Scheme(),
	}
}

// mountSource is the (so) pair naming the object that answers prompts.
type mountSource struct {
	Name string
	Path dbus.ObjectPath
}

// exportOperation publishes a MountOperation object bound to op. release
// withdraws it.
func (c *Client) exportOperation(ctx context.Context, op *panel.Operation) (mountSource, func(), error) {
	names := c.conn.Names()
	if len(names) == 0 {
		return mountSource{}, nil, errors.New("session bus connection has no unique name")
	}
	path := dbus.ObjectPath(mountOpPathPrefix + strconv.FormatUint(c.seq.Add(1), 10))
	if err := c.conn.Export(newMountOperation(ctx, op, c.logger), path, mountOpIface); err != nil {
		return mountSource{}, nil, fmt.Errorf("exporting mount operation: %w", err)
	}
	release := func() {
		if err := c.conn.Export(nil, path, mountOpIface); err != nil {
			c.logger.Debug("withdrawing mount operation", "path", string(path), "error", err)
		}
	}
	return mountSource{Name: names[0], Path: path}, release, nil
}

// call issues an asynchronous method call and waits for its reply or for
// ctx to end. Daemon errors come back as BackendErrors.
func (c *Client) call(ctx context.Context, obj dbus.BusObject, method string, args ...any) (*dbus.Call, error) {
	call := obj.Go(method, 0, make(chan *dbus.Call, 1), args...)
	if call.Err != nil {
		return nil, backendError(call.Err)
	}
	select {
	case done := <-call.Done:
		if done.Err != nil {
			return nil, backendError(done.Err)
		}
		return done, nil
	case <-ctx.Done():
		return nil, panel.NewBackendError(ErrorDomain, panel.CodeCancelled, ctx.Err(), "%s: %v", method, ctx.Err())
	}
}

// GDBus encodes GIO errors it has no registered name for as
// org.gtk.GDBus.UnmappedGError.Quark._g_2dio_2derror_2dquark.Code<N>.
var unmappedCode = regexp.MustCompile(`\.Quark\._g_2dio_2derror_2dquark\.Code(\d+)$`)

// namedCodes covers the GIO errors GDBus does register names for.
var namedCodes = map[string]panel.ErrorCode{
	"org.freedesktop.DBus.Error.ServiceUnknown": panel.CodeNotSupported,
	"org.freedesktop.DBus.Error.NoReply":        panel.CodeTimedOut,
	"org.freedesktop.DBus.Error.Timeout":        panel.CodeTimedOut,
	"org.freedesktop.DBus.Error.AccessDenied":   panel.CodePermissionDenied,
	"org.gtk.GDBus.Error.Cancelled":             panel.CodeCancelled,
}

func backendError(err error) error {
	var de dbus.Error
	if !errors.As(err, &de) {
		var dp *dbus.Error
		if !errors.As(err, &dp) {
			return panel.NewBackendError(ErrorDomain, panel.CodeFailed, err, "%v", err)
		}
		de = *dp
	}

	code := panel.CodeFailed
	if m := unmappedCode.FindStringSubmatch(de.Name); m != nil {
		n, _ := strconv.Atoi(m[1])
		code = panel.ErrorCode(n)
	} else if c, ok := namedCodes[de.Name]; ok {
		code = c
	}
	return panel.NewBackendError(ErrorDomain, code, err, "%s", de.Error())
}
