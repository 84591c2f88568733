package gvfs

import (
	"context"

	"github.com/godbus/dbus/v5"

	"vfspanel/internal/panel"
)

// mountOperation is the org.gtk.vfs.MountOperation object the daemon calls
// back while it mounts or unmounts. Every prompt is forwarded to the
// Operation the client call returned, whose owner answers it.
type mountOperation struct {
	ctx    context.Context
	op     *panel.Operation
	logger panel.Logger
}

func newMountOperation(ctx context.Context, op *panel.Operation, logger panel.Logger) *mountOperation {
	return &mountOperation{ctx: ctx, op: op, logger: logger}
}

// AskPassword replies (handled, aborted, password, username, domain,
// anonymous, password_save).
func (m *mountOperation) AskPassword(message, defaultUser, defaultDomain string, flags uint32) (bool, bool, string, string, string, bool, uint32, *dbus.Error) {
	reply, err := m.op.AskPassword(m.ctx, panel.PasswordRequest{
		Message:       message,
		DefaultUser:   defaultUser,
		DefaultDomain: defaultDomain,
		Flags:         panel.AskPasswordFlags(flags),
	})
	if err != nil || reply.Aborted {
		return true, true, "", "", "", false, 0, nil
	}
	return true, false, reply.Password, reply.User, reply.Domain, reply.Anonymous, 0, nil
}

// AskQuestion replies (handled, aborted, choice).
func (m *mountOperation) AskQuestion(message string, choices []string) (bool, bool, uint32, *dbus.Error) {
	choice, err := m.op.Ask(m.ctx, message, choices, 0)
	if err != nil || choice < 0 || choice >= len(choices) {
		return true, true, 0, nil
	}
	return true, false, uint32(choice), nil
}

// ShowProcesses is raised when an unmount is blocked by open files. The
// listed choices are offered like a question.
func (m *mountOperation) ShowProcesses(message string, pids []int32, choices []string) (bool, bool, uint32, *dbus.Error) {
	m.logger.Info("mount busy", "message", message, "processes", len(pids))
	return m.AskQuestion(message, choices)
}

func (m *mountOperation) ShowUnmountProgress(message string, timeLeft, bytesLeft int64) *dbus.Error {
	m.logger.Debug("unmount progress", "message", message, "time_left_us", timeLeft, "bytes_left", bytesLeft)
	return nil
}

func (m *mountOperation) Aborted() *dbus.Error {
	m.logger.Debug("mount operation aborted by daemon")
	return nil
}
