package panel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfspanel/internal/panel"
	"vfspanel/internal/testutil"
)

// choiceOnlyUI answers choice prompts and cannot collect credentials.
type choiceOnlyUI struct{ choice int }

func (u choiceOnlyUI) ChooseOption(string, []string, int) int { return u.choice }

func TestTransport_BusyWhileInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.Gate = make(chan struct{})
	tr := panel.NewTransport(backend, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Mount(ctx, "smb://nas/public", "", "")
		done <- err
	}()
	require.Eventually(t, func() bool { return backend.Calls("mount") == 1 }, time.Second, time.Millisecond)

	_, err := tr.Mount(ctx, "smb://nas/other", "", "")
	assert.ErrorIs(t, err, panel.ErrBusy)
	assert.ErrorIs(t, tr.Unmount(ctx, "smb://nas/public"), panel.ErrBusy)
	_, ok := tr.CheckMounted(ctx, "smb://nas/public")
	assert.False(t, ok)
	assert.Equal(t, 1, backend.Calls("mount"))
	assert.Zero(t, backend.Calls("unmount"))
	assert.Zero(t, backend.Calls("find"))

	close(backend.Gate)
	require.NoError(t, <-done)
	assert.False(t, backend.IsMounted("smb://nas/other"))

	// free again once the first call returned
	_, err = tr.Mount(ctx, "smb://nas/other", "", "")
	assert.NoError(t, err)
}

func TestTransport_AlreadyMountedResolvesLiveMount(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.SetMounted("sftp://host/srv")

	info, err := panel.NewTransport(backend, nil, nil).Mount(context.Background(), "sftp://host/srv", "", "")
	require.NoError(t, err)
	assert.Equal(t, testutil.InfoFor("sftp://host/srv"), info)
	assert.Equal(t, 1, backend.Calls("find"))
}

func TestTransport_CancelledContext(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.Gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := panel.NewTransport(backend, nil, nil).Mount(ctx, "smb://nas/public", "", "")
	code, ok := panel.ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, panel.CodeCancelled, code)
}

func TestTransport_PasswordPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const url = "smb://nas/private"

	newBackend := func() *testutil.FakeBackend {
		b := testutil.NewFakeBackend()
		b.Passwords[url] = "hunter2"
		return b
	}

	t.Run("supplied password answers first prompt", func(t *testing.T) {
		ui := testutil.NewScriptedUI()
		_, err := panel.NewTransport(newBackend(), ui, nil).Mount(ctx, url, "bob", "hunter2")
		require.NoError(t, err)
		assert.Empty(t, ui.Requests)
	})

	t.Run("prompter collects missing password", func(t *testing.T) {
		ui := testutil.NewScriptedUI().Enter(&panel.Credentials{User: "bob", Password: "hunter2"})
		_, err := panel.NewTransport(newBackend(), ui, nil).Mount(ctx, url, "bob", "")
		require.NoError(t, err)
		require.Len(t, ui.Requests, 1)
		assert.Equal(t, "bob", ui.Requests[0].User)
		assert.True(t, ui.Requests[0].Flags.Has(panel.NeedPassword))
	})

	t.Run("cancelled prompt", func(t *testing.T) {
		ui := testutil.NewScriptedUI().Enter(nil)
		_, err := panel.NewTransport(newBackend(), ui, nil).Mount(ctx, url, "bob", "")
		code, ok := panel.ErrorCodeOf(err)
		require.True(t, ok)
		assert.Equal(t, panel.CodeFailedHandled, code)
	})

	t.Run("no prompter replies with what was supplied", func(t *testing.T) {
		_, err := panel.NewTransport(newBackend(), choiceOnlyUI{}, nil).Mount(ctx, url, "bob", "")
		code, ok := panel.ErrorCodeOf(err)
		require.True(t, ok)
		assert.Equal(t, panel.CodePermissionDenied, code)
	})
}

func TestTransport_UnmountQuestion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := testutil.NewFakeBackend()
	backend.UnmountQuestion = "Volume is busy"
	backend.SetMounted("smb://nas/public")

	// no UI: the question is aborted
	err := panel.NewTransport(backend, nil, nil).Unmount(ctx, "smb://nas/public")
	code, _ := panel.ErrorCodeOf(err)
	assert.Equal(t, panel.CodeFailedHandled, code)
	assert.True(t, backend.IsMounted("smb://nas/public"))

	ui := testutil.NewScriptedUI().Choose(0)
	require.NoError(t, panel.NewTransport(backend, ui, nil).Unmount(ctx, "smb://nas/public"))
	assert.Equal(t, []string{"Volume is busy"}, ui.Questions)
	assert.False(t, backend.IsMounted("smb://nas/public"))
}

func TestTransport_OutOfRangeChoiceAborts(t *testing.T) {
	t.Parallel()
	backend := testutil.NewFakeBackend()
	backend.UnmountQuestion = "Volume is busy"
	backend.SetMounted("smb://nas/public")

	err := panel.NewTransport(backend, choiceOnlyUI{choice: 7}, nil).Unmount(context.Background(), "smb://nas/public")
	assert.Error(t, err)
	assert.True(t, backend.IsMounted("smb://nas/public"))
}
