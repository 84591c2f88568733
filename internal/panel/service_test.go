package panel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfspanel/internal/panel"
	"vfspanel/internal/testutil"
)

type fixture struct {
	store    *testutil.MemoryStore
	backend  *testutil.FakeBackend
	ui       *testutil.ScriptedUI
	notifier *testutil.RecordingNotifier
	svc      *panel.Service
}

func newFixture(t *testing.T, opts panel.ServiceOptions, records ...*panel.Record) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewMemoryStore(records...),
		backend:  testutil.NewFakeBackend(),
		ui:       testutil.NewScriptedUI(),
		notifier: &testutil.RecordingNotifier{},
	}
	f.svc = panel.NewService(f.store, panel.NewTable(), f.backend, f.ui, f.notifier, nil, opts)
	f.svc.Load(context.Background())
	return f
}

func stored(id, url, user string) *panel.Record {
	rec := newRecord(id, url)
	rec.User = user
	return rec
}

func TestService_Load(t *testing.T) {
	t.Parallel()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""), stored("b", "smb://nas/b", ""))
	assert.Equal(t, 2, f.svc.Table().Len())
}

func TestService_Add(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", "bob"))

	rec := f.svc.NewRecord()
	require.NotEmpty(t, rec.StorageID)
	rec.URL = "sftp://host/"
	rec.Password = "hunter2"
	require.NoError(t, f.svc.Add(ctx, rec))

	got, ok := f.svc.Table().Get("sftp://host/")
	require.True(t, ok)
	assert.Equal(t, "hunter2", got.Password)
	_, ok = f.store.Get(rec.StorageID)
	assert.True(t, ok)

	t.Run("empty URL", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Add(ctx, f.svc.NewRecord()), panel.ErrEmptyURL)
	})
	t.Run("duplicate URL and user", func(t *testing.T) {
		dup := f.svc.NewRecord()
		dup.URL, dup.User = "smb://nas/a", "bob"
		assert.ErrorIs(t, f.svc.Add(ctx, dup), panel.ErrDuplicate)
	})
	t.Run("same URL other user", func(t *testing.T) {
		other := f.svc.NewRecord()
		other.URL, other.User = "smb://nas/a", "alice"
		assert.ErrorIs(t, f.svc.Add(ctx, other), panel.ErrURLInUse)
	})
}

func TestService_AddAskPasswordKeepsNoPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, panel.ServiceOptions{})
	rec := f.svc.NewRecord()
	rec.URL, rec.AskPassword, rec.Password = "smb://nas/a", true, "typed"
	require.NoError(t, f.svc.Add(context.Background(), rec))

	got, _ := f.svc.Table().Get("smb://nas/a")
	assert.Empty(t, got.Password)
	persisted, _ := f.store.Get(rec.StorageID)
	assert.Empty(t, persisted.Password)
}

func TestService_PersistFailureKeepsTable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, panel.ServiceOptions{})
	f.store.FailSave = true

	rec := f.svc.NewRecord()
	rec.URL = "smb://nas/a"
	require.NoError(t, f.svc.Add(context.Background(), rec))

	_, ok := f.svc.Table().Get("smb://nas/a")
	assert.True(t, ok)
	assert.Equal(t, 1, f.store.Saves())
}

func TestService_Edit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", "bob"), stored("b", "smb://nas/b", "bob"))

	t.Run("keeps storage ID", func(t *testing.T) {
		edited := stored("ignored", "smb://nas/a", "carol")
		require.NoError(t, f.svc.Edit(ctx, "smb://nas/a", edited))
		got, ok := f.svc.Table().Get("smb://nas/a")
		require.True(t, ok)
		assert.Equal(t, "a", got.StorageID)
		assert.Equal(t, "carol", got.User)
	})

	t.Run("mounted URL change unmounts", func(t *testing.T) {
		_, err := f.svc.Mount(ctx, "smb://nas/b")
		require.NoError(t, err)

		require.NoError(t, f.svc.Edit(ctx, "smb://nas/b", stored("", "smb://nas/c", "bob")))
		assert.False(t, f.backend.IsMounted("smb://nas/b"))
		_, ok := f.svc.Table().Get("smb://nas/b")
		assert.False(t, ok)
		got, ok := f.svc.Table().Get("smb://nas/c")
		require.True(t, ok)
		assert.False(t, got.IsMounted())
		assert.Equal(t, "b", got.StorageID)
	})

	t.Run("collisions", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Edit(ctx, "smb://nas/c", stored("", "smb://nas/a", "carol")), panel.ErrDuplicate)
		assert.ErrorIs(t, f.svc.Edit(ctx, "smb://nas/c", stored("", "smb://nas/a", "dave")), panel.ErrURLInUse)
		assert.ErrorIs(t, f.svc.Edit(ctx, "smb://nas/zz", stored("", "smb://nas/zz", "")), panel.ErrNotFound)
		assert.ErrorIs(t, f.svc.Edit(ctx, "smb://nas/c", stored("", "", "")), panel.ErrEmptyURL)
	})
}

func TestService_Remove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""))
	_, err := f.svc.Mount(ctx, "smb://nas/a")
	require.NoError(t, err)

	// unmount failures do not block removal
	f.backend.UnmountErr = errors.New("device busy")
	require.NoError(t, f.svc.Remove(ctx, "smb://nas/a"))

	assert.Zero(t, f.svc.Table().Len())
	_, ok := f.store.Get("a")
	assert.False(t, ok)
	assert.ErrorIs(t, f.svc.Remove(ctx, "smb://nas/a"), panel.ErrNotFound)
}

func TestService_MountUnmount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "sftp://host/srv", ""))

	rec, err := f.svc.Mount(ctx, "sftp://host/srv")
	require.NoError(t, err)
	assert.Equal(t, panel.ProtocolSFTP, rec.Protocol)
	got, _ := f.svc.Table().Get("sftp://host/srv")
	assert.Equal(t, "/mnt/host/srv", got.MountedPath)
	assert.Empty(t, f.svc.Table().Processing())

	// mounting again is a no-op
	_, err = f.svc.Mount(ctx, "sftp://host/srv")
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.Calls("mount"))

	require.NoError(t, f.svc.Unmount(ctx, "sftp://host/srv"))
	got, _ = f.svc.Table().Get("sftp://host/srv")
	assert.False(t, got.IsMounted())

	_, err = f.svc.Mount(ctx, "sftp://missing/")
	assert.ErrorIs(t, err, panel.ErrNotFound)
}

func TestService_MountStagedPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := stored("a", "smb://nas/private", "bob")
	rec.AskPassword = true
	f := newFixture(t, panel.ServiceOptions{}, rec)
	f.backend.Passwords["smb://nas/private"] = "hunter2"

	require.NoError(t, f.svc.SetPassword("smb://nas/private", "hunter2"))
	_, err := f.svc.Mount(ctx, "smb://nas/private")
	require.NoError(t, err)

	got, _ := f.svc.Table().Get("smb://nas/private")
	assert.True(t, got.IsMounted())
	assert.Empty(t, got.Password)
	assert.Empty(t, f.ui.Requests)

	assert.ErrorIs(t, f.svc.SetPassword("smb://nas/none", "x"), panel.ErrNotFound)
}

func TestService_MountFailureReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""))
	cause := errors.New("host unreachable")
	f.backend.MountErr = cause

	_, err := f.svc.Mount(context.Background(), "smb://nas/a")
	assert.ErrorIs(t, err, cause)
	got, _ := f.svc.Table().Get("smb://nas/a")
	assert.False(t, got.IsMounted())
}

func TestService_CheckAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""), stored("b", "smb://nas/b", ""))
	f.backend.SetMounted("smb://nas/b")

	assert.Equal(t, 1, f.svc.CheckAll(context.Background()))
	got, _ := f.svc.Table().Get("smb://nas/b")
	assert.True(t, got.IsMounted())
}

func TestService_ReconciliationSkipsProcessingRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("x", "smb://nas/x", ""), stored("y", "smb://nas/y", ""))
	f.backend.SetMounted("smb://nas/x")
	f.backend.Gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Mount(ctx, "smb://nas/x")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.svc.Table().Processing() == "x" }, time.Second, time.Millisecond)

	f.svc.RecordsMounted(ctx)
	assert.Equal(t, 1, f.backend.Calls("find"), "only y is status-checked")
	got, _ := f.svc.Table().Get("smb://nas/x")
	assert.False(t, got.IsMounted())
	mounted, _ := f.notifier.Counts()
	assert.Equal(t, 1, mounted)

	close(f.backend.Gate)
	require.NoError(t, <-done)
	got, _ = f.svc.Table().Get("smb://nas/x")
	assert.True(t, got.IsMounted())
}

func TestService_RecordUnmounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{},
		stored("a", "smb://nas/a", ""),
		stored("b", "sftp://nas/b", ""),
		stored("c", "smb://other/c", ""),
	)
	for _, url := range []string{"smb://nas/a", "sftp://nas/b", "smb://other/c"} {
		_, err := f.svc.Mount(ctx, url)
		require.NoError(t, err)
	}

	// another program unmounted the smb share on nas
	f.backend.DropMount("smb://nas/a")
	f.svc.RecordUnmounted(ctx, "nas", "/mnt/nas", "smb")

	a, _ := f.svc.Table().Get("smb://nas/a")
	b, _ := f.svc.Table().Get("sftp://nas/b")
	c, _ := f.svc.Table().Get("smb://other/c")
	assert.False(t, a.IsMounted())
	assert.True(t, b.IsMounted(), "other protocol")
	assert.True(t, c.IsMounted(), "other name")
	_, unmounted := f.notifier.Counts()
	assert.Equal(t, 1, unmounted)
}

func TestService_RecordUnmountedPromptsAreAborted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""))
	_, err := f.svc.Mount(ctx, "smb://nas/a")
	require.NoError(t, err)

	f.backend.UnmountQuestion = "Volume is busy"
	f.ui.Choose(0)
	f.svc.RecordUnmounted(ctx, "nas", "", "smb")

	assert.Empty(t, f.ui.Questions, "background work never reaches the operator")
	a, _ := f.svc.Table().Get("smb://nas/a")
	assert.True(t, a.IsMounted(), "still mounted after the aborted unmount")
}

func TestService_Shutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sweep", func(t *testing.T) {
		f := newFixture(t, panel.ServiceOptions{UnmountAllAtExit: true, SweepConcurrency: 2},
			stored("a", "smb://nas/a", ""), stored("b", "smb://nas/b", ""), stored("c", "smb://nas/c", ""))
		for _, url := range []string{"smb://nas/a", "smb://nas/b"} {
			_, err := f.svc.Mount(ctx, url)
			require.NoError(t, err)
		}
		stopper := &countingStopper{}
		f.svc.AttachMonitor(stopper)

		require.NoError(t, f.svc.Shutdown(ctx))
		assert.Equal(t, 1, stopper.stops)
		assert.False(t, f.backend.IsMounted("smb://nas/a"))
		assert.False(t, f.backend.IsMounted("smb://nas/b"))
		assert.Equal(t, 2, f.backend.Calls("unmount"))
	})

	t.Run("failures are joined", func(t *testing.T) {
		f := newFixture(t, panel.ServiceOptions{UnmountAllAtExit: true}, stored("a", "smb://nas/a", ""))
		_, err := f.svc.Mount(ctx, "smb://nas/a")
		require.NoError(t, err)
		cause := errors.New("device busy")
		f.backend.UnmountErr = cause

		assert.ErrorIs(t, f.svc.Shutdown(ctx), cause)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", ""))
		_, err := f.svc.Mount(ctx, "smb://nas/a")
		require.NoError(t, err)

		require.NoError(t, f.svc.Shutdown(ctx))
		assert.True(t, f.backend.IsMounted("smb://nas/a"))
	})
}

func TestService_FindDuplicateSeesStore(t *testing.T) {
	t.Parallel()
	// two stored records share a URL; the table only holds one of them
	f := newFixture(t, panel.ServiceOptions{}, stored("a", "smb://nas/a", "bob"), stored("b", "smb://nas/a", "alice"))
	require.Equal(t, 1, f.svc.Table().Len())

	assert.True(t, f.svc.FindDuplicate(context.Background(), "smb://nas/a", "bob", "new"))
	assert.True(t, f.svc.FindDuplicate(context.Background(), "smb://nas/a", "alice", "new"))
	assert.False(t, f.svc.FindDuplicate(context.Background(), "smb://nas/a", "alice", "b"))
}

type countingStopper struct{ stops int }

func (s *countingStopper) Stop() { s.stops++ }
