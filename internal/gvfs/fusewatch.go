package gvfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"vfspanel/internal/panel"
)

const fuseSuperMagic = 0x65735546

// MountResolver looks up the live mount exposed at a FUSE path.
type MountResolver interface {
	MountByFusePath(ctx context.Context, path string) (panel.MountInfo, bool)
}

// FuseWatcher watches the gvfsd-fuse directory, where every GVFS mount
// appears as a subdirectory named after its mount spec. It serves when the
// mount tracker's signals are not delivered to the panel.
type FuseWatcher struct {
	root        string
	resolver    MountResolver
	logger      panel.Logger
	requireFuse bool
}

var _ panel.Watcher = (*FuseWatcher)(nil)

// NewFuseWatcher watches root. resolver may be nil, in which case events
// are described from the directory names alone.
func NewFuseWatcher(root string, resolver MountResolver, logger panel.Logger) *FuseWatcher {
	if logger == nil {
		logger = panel.NewNopLogger()
	}
	return &FuseWatcher{root: root, resolver: resolver, logger: logger, requireFuse: true}
}

func (w *FuseWatcher) Watch(ctx context.Context, handle func(panel.MountEvent)) error {
	if w.requireFuse {
		if err := checkFuseMount(w.root); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fuse watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	// Mounts that exist already are described now so their removal can be
	// reported with a name.
	known := make(map[string]panel.MountInfo)
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("listing %s: %w", w.root, err)
	}
	for _, e := range entries {
		path := filepath.Join(w.root, e.Name())
		known[path] = w.describe(ctx, path)
	}
	w.logger.Debug("watching fuse mounts", "root", w.root, "mounts", len(known))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fuse watcher closed")
			}
			w.logger.Warn("fuse watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fuse watcher closed")
			}
			if filepath.Dir(ev.Name) != filepath.Clean(w.root) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				info := w.describe(ctx, ev.Name)
				known[ev.Name] = info
				handle(panel.MountEvent{Kind: panel.EventAdded, Name: info.Name, Path: info.Path, Scheme: info.Scheme})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				info, ok := known[ev.Name]
				if !ok {
					info = describeFromName(ev.Name)
				}
				delete(known, ev.Name)
				handle(panel.MountEvent{Kind: panel.EventRemoved, Name: info.Name, Path: info.Path, Scheme: info.Scheme})
			default:
				info := known[ev.Name]
				handle(panel.MountEvent{Kind: panel.EventChanged, Name: info.Name, Path: ev.Name, Scheme: info.Scheme})
			}
		}
	}
}

func (w *FuseWatcher) describe(ctx context.Context, path string) panel.MountInfo {
	if w.resolver != nil {
		if info, ok := w.resolver.MountByFusePath(ctx, path); ok {
			return info
		}
	}
	return describeFromName(path)
}

// describeFromName derives what it can from a FUSE directory name. The
// display name is unknown, so the directory name stands in for it.
func describeFromName(path string) panel.MountInfo {
	name := filepath.Base(path)
	info := panel.MountInfo{Name: name, Path: path}
	if spec, ok := ParseStableName(name); ok {
		info.Scheme = spec.Scheme()
	}
	return info
}

func checkFuseMount(root string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return fmt.Errorf("inspecting %s: %w", root, err)
	}
	if int64(st.Type) != fuseSuperMagic {
		return fmt.Errorf("%s is not a gvfsd-fuse mount", root)
	}
	return nil
}
