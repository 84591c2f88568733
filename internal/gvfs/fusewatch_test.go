package gvfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfspanel/internal/panel"
)

type stubResolver struct {
	known map[string]panel.MountInfo
	calls chan string
}

func (r *stubResolver) MountByFusePath(_ context.Context, path string) (panel.MountInfo, bool) {
	r.calls <- path
	info, ok := r.known[path]
	return info, ok
}

func nextEvent(t *testing.T, events <-chan panel.MountEvent) panel.MountEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no mount event")
		return panel.MountEvent{}
	}
}

func TestFuseWatcher(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	existing := filepath.Join(root, "sftp:host=example.com,user=bob")
	require.NoError(t, os.Mkdir(existing, 0o755))

	resolver := &stubResolver{
		known: map[string]panel.MountInfo{
			existing: {Name: "bob on example.com", Path: existing, Scheme: "sftp"},
		},
		calls: make(chan string, 8),
	}
	w := NewFuseWatcher(root, resolver, nil)
	w.requireFuse = false

	events := make(chan panel.MountEvent, 8)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(ev panel.MountEvent) { events <- ev }) }()

	// the existing mount is resolved once the watch is in place
	select {
	case p := <-resolver.calls:
		require.Equal(t, existing, p)
	case <-time.After(5 * time.Second):
		t.Fatal("existing mount not resolved")
	}

	added := filepath.Join(root, "smb-share:server=nas,share=public")
	require.NoError(t, os.Mkdir(added, 0o755))
	ev := nextEvent(t, events)
	assert.Equal(t, panel.EventAdded, ev.Kind)
	assert.Equal(t, "smb-share:server=nas,share=public", ev.Name)
	assert.Equal(t, added, ev.Path)
	assert.Equal(t, "smb", ev.Scheme)

	require.NoError(t, os.Remove(existing))
	for {
		ev = nextEvent(t, events)
		if ev.Kind == panel.EventRemoved {
			break
		}
	}
	assert.Equal(t, "bob on example.com", ev.Name)
	assert.Equal(t, "sftp", ev.Scheme)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFuseWatcher_RequiresFuseMount(t *testing.T) {
	t.Parallel()
	w := NewFuseWatcher(t.TempDir(), nil, nil)
	err := w.Watch(context.Background(), func(panel.MountEvent) {})
	assert.Error(t, err)
}
