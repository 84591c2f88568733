// Package session mounts resources as network sessions held by the panel
// process itself. It serves hosts without a GVFS daemon: SMB shares are
// opened with go-smb2 and SFTP hosts with pkg/sftp.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"vfspanel/internal/panel"
	"vfspanel/internal/syncutil"
)

// ErrorDomain is the domain of the BackendErrors this package reports.
const ErrorDomain = "vfspanel-session"

const maxAuthAttempts = 3

// ErrAuthFailed is returned by a Dialer when the server rejected the
// credentials.
var ErrAuthFailed = errors.New("authentication failed")

// Dialer opens a session to a target. op lets the dialer raise prompts,
// such as an unknown host key question.
type Dialer interface {
	Dial(ctx context.Context, t Target, op *panel.Operation) (io.Closer, error)

	// Prompt describes the credential prompt for t.
	Prompt(t Target) (string, panel.AskPasswordFlags)
}

// waiter is implemented by sessions that can report their connection
// going away.
type waiter interface {
	Wait() error
}

type mount struct {
	info panel.MountInfo
	conn io.Closer
}

// Backend is a panel.Backend keeping one session per mounted target. It is
// also the panel.Watcher for its own sessions.
type Backend struct {
	dialers map[string]Dialer
	logger  panel.Logger

	mu     syncutil.Mutex
	mounts map[string]*mount
	subs   map[chan panel.MountEvent]struct{}
}

var (
	_ panel.Backend = (*Backend)(nil)
	_ panel.Watcher = (*Backend)(nil)
)

// New creates a Backend serving the schemes in dialers.
func New(dialers map[string]Dialer, logger panel.Logger) *Backend {
	if logger == nil {
		logger = panel.NewNopLogger()
	}
	return &Backend{
		dialers: dialers,
		logger:  logger,
		mounts:  make(map[string]*mount),
		subs:    make(map[chan panel.MountEvent]struct{}),
	}
}

func (b *Backend) Mount(ctx context.Context, req panel.MountRequest) *panel.Operation {
	return panel.StartOperation(func(op *panel.Operation) (panel.MountInfo, error) {
		t, dialer, err := b.resolve(req.URL, req.User)
		if err != nil {
			return panel.MountInfo{}, err
		}
		key := t.Key()
		if b.lookup(key) != nil {
			return panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeAlreadyMounted, nil, "%s is already mounted", key)
		}

		conn, err := b.dial(ctx, t, dialer, op)
		if err != nil {
			return panel.MountInfo{}, err
		}

		m := &mount{
			info: panel.MountInfo{Name: t.Name(), Path: key, Scheme: t.Scheme},
			conn: conn,
		}
		b.mu.Lock()
		if _, exists := b.mounts[key]; exists {
			b.mu.Unlock()
			_ = conn.Close()
			return panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeAlreadyMounted, nil, "%s is already mounted", key)
		}
		b.mounts[key] = m
		b.mu.Unlock()

		if w, ok := conn.(waiter); ok {
			go b.watchConn(key, m, w)
		}
		b.logger.Debug("session opened", "key", key)
		b.publish(panel.MountEvent{Kind: panel.EventAdded, Name: m.info.Name, Path: m.info.Path, Scheme: m.info.Scheme})
		return m.info, nil
	})
}

// dial connects with the target's user alone and prompts for credentials
// each time the server rejects what it was given.
func (b *Backend) dial(ctx context.Context, t Target, dialer Dialer, op *panel.Operation) (io.Closer, error) {
	for attempt := 1; ; attempt++ {
		conn, err := dialer.Dial(ctx, t, op)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, panel.NewBackendError(ErrorDomain, panel.CodeCancelled, ctx.Err(), "mount of %s cancelled", t.Key())
		}
		if !errors.Is(err, ErrAuthFailed) {
			var be *panel.BackendError
			if errors.As(err, &be) {
				return nil, err
			}
			return nil, panel.NewBackendError(ErrorDomain, panel.CodeFailed, err, "connecting to %s: %v", t.Key(), err)
		}
		if attempt == maxAuthAttempts {
			return nil, panel.NewBackendError(ErrorDomain, panel.CodePermissionDenied, err, "%s rejected the credentials", t.Key())
		}

		message, flags := dialer.Prompt(t)
		reply, err := op.AskPassword(ctx, panel.PasswordRequest{
			Message:       message,
			DefaultUser:   t.User,
			DefaultDomain: t.Domain,
			Flags:         flags,
		})
		if err != nil {
			return nil, panel.NewBackendError(ErrorDomain, panel.CodeCancelled, err, "mount of %s cancelled", t.Key())
		}
		if reply.Aborted {
			return nil, panel.NewBackendError(ErrorDomain, panel.CodeFailedHandled, nil, "password dialog cancelled")
		}
		if reply.Anonymous {
			t.User, t.Domain, t.Password = "", "", ""
			continue
		}
		if reply.User != "" {
			t.User = reply.User
		}
		t.Domain = reply.Domain
		t.Password = reply.Password
	}
}

func (b *Backend) Unmount(ctx context.Context, url string) *panel.Operation {
	t, _, err := b.resolve(url, "")
	if err != nil {
		return panel.FinishedOperation(panel.MountInfo{}, err)
	}

	b.mu.Lock()
	key, m := b.locate(t)
	if m != nil {
		delete(b.mounts, key)
	}
	b.mu.Unlock()
	if m == nil {
		return panel.FinishedOperation(panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotMounted, nil, "%s is not mounted", key))
	}

	if err := m.conn.Close(); err != nil {
		b.logger.Warn("closing session", "key", key, "error", err)
	}
	b.publish(panel.MountEvent{Kind: panel.EventRemoved, Name: m.info.Name, Path: m.info.Path, Scheme: m.info.Scheme})
	return panel.FinishedOperation(m.info, nil)
}

func (b *Backend) FindMount(ctx context.Context, url string) *panel.Operation {
	t, _, err := b.resolve(url, "")
	if err != nil {
		return panel.FinishedOperation(panel.MountInfo{}, err)
	}
	b.mu.Lock()
	_, m := b.locate(t)
	b.mu.Unlock()
	if m == nil {
		return panel.FinishedOperation(panel.MountInfo{}, panel.NewBackendError(ErrorDomain, panel.CodeNotMounted, nil, "%s is not mounted", t.Key()))
	}
	return panel.FinishedOperation(m.info, nil)
}

// Watch reports the sessions this backend opens and loses until ctx is
// done.
func (b *Backend) Watch(ctx context.Context, handle func(panel.MountEvent)) error {
	events := make(chan panel.MountEvent, 16)
	b.mu.Lock()
	b.subs[events] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.subs, events)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			handle(ev)
		}
	}
}

// Close ends every open session.
func (b *Backend) Close() error {
	b.mu.Lock()
	mounts := b.mounts
	b.mounts = make(map[string]*mount)
	b.mu.Unlock()

	var errs []error
	for key, m := range mounts {
		if err := m.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) resolve(url, user string) (Target, Dialer, error) {
	t, err := ParseTarget(url, user)
	if err != nil {
		return Target{}, nil, panel.NewBackendError(ErrorDomain, panel.CodeNotSupported, err, "%v", err)
	}
	dialer, ok := b.dialers[t.Scheme]
	if !ok {
		return Target{}, nil, panel.NewBackendError(ErrorDomain, panel.CodeNotSupported, nil, "scheme %q is not supported", t.Scheme)
	}
	return t, dialer, nil
}

func (b *Backend) lookup(key string) *mount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mounts[key]
}

// locate returns the session serving t and the key it is held under. sftp
// sessions are keyed with the user, so a URL without one matches on the
// host alone. b.mu must be held.
func (b *Backend) locate(t Target) (string, *mount) {
	key := t.Key()
	if m, ok := b.mounts[key]; ok {
		return key, m
	}
	if t.User != "" {
		return key, nil
	}
	for k, m := range b.mounts {
		mt, err := ParseTarget(m.info.Path, "")
		if err == nil && mt.Scheme == t.Scheme && mt.Host == t.Host && mt.Port == t.Port && mt.Share == t.Share {
			return k, m
		}
	}
	return key, nil
}

// watchConn reports a session whose connection drops as an external
// unmount.
func (b *Backend) watchConn(key string, m *mount, w waiter) {
	err := w.Wait()

	b.mu.Lock()
	current, ok := b.mounts[key]
	if ok && current == m {
		delete(b.mounts, key)
	}
	b.mu.Unlock()
	if !ok || current != m {
		return
	}

	b.logger.Warn("session lost", "key", key, "error", err)
	b.publish(panel.MountEvent{Kind: panel.EventRemoved, Name: m.info.Name, Path: m.info.Path, Scheme: m.info.Scheme})
}

func (b *Backend) publish(ev panel.MountEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("mount event dropped, watcher is behind", "kind", ev.Kind.String(), "path", ev.Path)
		}
	}
}
