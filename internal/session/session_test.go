package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfspanel/internal/panel"
)

type fakeConn struct {
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.drop()
	return nil
}

func (c *fakeConn) Wait() error {
	<-c.done
	return nil
}

func (c *fakeConn) drop() { c.once.Do(func() { close(c.done) }) }

type fakeDialer struct {
	password string
	failWith error

	mu    sync.Mutex
	dials []Target
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, t Target, _ *panel.Operation) (io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, t)
	if d.failWith != nil {
		return nil, d.failWith
	}
	if d.password != "" && t.Password != d.password {
		return nil, ErrAuthFailed
	}
	c := &fakeConn{done: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Prompt(t Target) (string, panel.AskPasswordFlags) {
	return "password for " + t.Name(), panel.NeedPassword | panel.NeedUsername
}

func (d *fakeDialer) attempts() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Target(nil), d.dials...)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type promptUI struct {
	cancel   bool
	password string
	asked    int
}

func (u *promptUI) ChooseOption(string, []string, int) int { return 0 }

func (u *promptUI) EnterCredentials(req panel.CredentialRequest) (panel.Credentials, bool) {
	u.asked++
	if u.cancel {
		return panel.Credentials{}, false
	}
	return panel.Credentials{User: req.User, Password: u.password}, true
}

func newTestBackend(t *testing.T, d *fakeDialer) *Backend {
	t.Helper()
	b := New(map[string]Dialer{"smb": d, "sftp": d}, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_MountFindUnmount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := &fakeDialer{}
	b := newTestBackend(t, d)
	tr := panel.NewTransport(b, nil, nil)

	info, err := tr.Mount(ctx, "smb://NAS/Public/docs", "", "")
	require.NoError(t, err)
	assert.Equal(t, panel.MountInfo{Name: "public on nas", Path: "smb://nas/public", Scheme: "smb"}, info)

	found, ok := tr.CheckMounted(ctx, "smb://nas/public/other")
	require.True(t, ok)
	assert.Equal(t, info, found)

	require.NoError(t, tr.Unmount(ctx, "smb://nas/public"))
	assert.True(t, d.conn(0).closed.Load())

	_, ok = tr.CheckMounted(ctx, "smb://nas/public")
	assert.False(t, ok)
	assert.True(t, panel.IsNotMounted(tr.Unmount(ctx, "smb://nas/public")))
}

func TestBackend_AlreadyMounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := &fakeDialer{}
	tr := panel.NewTransport(newTestBackend(t, d), nil, nil)

	first, err := tr.Mount(ctx, "sftp://bob@host/home/bob", "", "")
	require.NoError(t, err)
	again, err := tr.Mount(ctx, "sftp://bob@host/srv", "", "")
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.Len(t, d.attempts(), 1)
}

func TestBackend_FindSFTPWithoutUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := panel.NewTransport(newTestBackend(t, &fakeDialer{}), nil, nil)

	info, err := tr.Mount(ctx, "sftp://host/", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "sftp://bob@host", info.Path)

	found, ok := tr.CheckMounted(ctx, "sftp://host/")
	require.True(t, ok)
	assert.Equal(t, info, found)
}

func TestBackend_UnmountSFTPRecordUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := &fakeDialer{}
	b := newTestBackend(t, d)

	rec := panel.NewRecord("id-1")
	rec.URL = "sftp://host/home/bob"
	rec.User = "bob"
	require.NoError(t, rec.Mount(ctx, panel.NewTransport(b, nil, nil)))
	require.True(t, rec.IsMounted())
	assert.Equal(t, "sftp://bob@host", rec.MountedPath)

	require.NoError(t, rec.Unmount(ctx, panel.NewTransport(b, nil, nil)))
	assert.False(t, rec.IsMounted())
	assert.True(t, d.conn(0).closed.Load(), "session closed")
	assert.Nil(t, b.lookup("sftp://bob@host"))
}

func TestBackend_UnmountSFTPOtherUserIsNotMounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := &fakeDialer{}
	tr := panel.NewTransport(newTestBackend(t, d), nil, nil)

	_, err := tr.Mount(ctx, "sftp://host/", "bob", "")
	require.NoError(t, err)

	assert.True(t, panel.IsNotMounted(tr.Unmount(ctx, "sftp://alice@host/")))
	assert.False(t, d.conn(0).closed.Load())
}

func TestBackend_PasswordPrompt(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{password: "hunter2"}
	tr := panel.NewTransport(newTestBackend(t, d), nil, nil)

	_, err := tr.Mount(context.Background(), "smb://nas/public", "bob", "hunter2")
	require.NoError(t, err)

	dials := d.attempts()
	require.Len(t, dials, 2)
	assert.Empty(t, dials[0].Password)
	assert.Equal(t, "bob", dials[1].User)
	assert.Equal(t, "hunter2", dials[1].Password)
}

func TestBackend_PromptCancelled(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{password: "hunter2"}
	ui := &promptUI{cancel: true}
	tr := panel.NewTransport(newTestBackend(t, d), ui, nil)

	_, err := tr.Mount(context.Background(), "smb://nas/public", "bob", "")
	code, ok := panel.ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, panel.CodeFailedHandled, code)
	assert.Equal(t, 1, ui.asked)
}

func TestBackend_RejectedCredentials(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{password: "hunter2"}
	ui := &promptUI{password: "still wrong"}
	tr := panel.NewTransport(newTestBackend(t, d), ui, nil)

	_, err := tr.Mount(context.Background(), "smb://nas/public", "bob", "wrong")
	code, ok := panel.ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, panel.CodePermissionDenied, code)
	assert.Len(t, d.attempts(), maxAuthAttempts)
	assert.Equal(t, 1, ui.asked)
}

func TestBackend_DialFailure(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	tr := panel.NewTransport(newTestBackend(t, &fakeDialer{failWith: cause}), nil, nil)

	_, err := tr.Mount(context.Background(), "smb://nas/public", "", "")
	assert.ErrorIs(t, err, cause)
	code, _ := panel.ErrorCodeOf(err)
	assert.Equal(t, panel.CodeFailed, code)
}

func TestBackend_UnsupportedScheme(t *testing.T) {
	t.Parallel()
	tr := panel.NewTransport(newTestBackend(t, &fakeDialer{}), nil, nil)

	_, err := tr.Mount(context.Background(), "ftp://host/", "", "")
	code, ok := panel.ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, panel.CodeNotSupported, code)
}

func TestBackend_WatchReportsSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &fakeDialer{}
	b := newTestBackend(t, d)

	events := make(chan panel.MountEvent, 4)
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx, func(ev panel.MountEvent) { events <- ev }) }()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs) == 1
	}, time.Second, 5*time.Millisecond)

	tr := panel.NewTransport(b, nil, nil)
	_, err := tr.Mount(ctx, "sftp://bob@host/", "", "")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, panel.EventAdded, ev.Kind)
	assert.Equal(t, "bob on host", ev.Name)

	// a dropped connection is reported as an external unmount
	d.conn(0).drop()
	select {
	case ev = <-events:
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
	assert.Equal(t, panel.EventRemoved, ev.Kind)
	assert.Equal(t, "sftp://bob@host", ev.Path)
	assert.Equal(t, "sftp", ev.Scheme)

	_, ok := tr.CheckMounted(ctx, "sftp://bob@host/")
	assert.False(t, ok)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
