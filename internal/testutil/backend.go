package testutil

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"vfspanel/internal/panel"
)

const fakeDomain = "fake-backend"

// FakeBackend is a scriptable in-memory panel.Backend and panel.Watcher.
// Mounts are keyed by URL. Every mount, unmount and status check is counted.
type FakeBackend struct {
	mu     sync.Mutex
	mounts map[string]panel.MountInfo
	subs   map[chan panel.MountEvent]struct{}
	calls  map[string]int

	// Passwords maps a URL to the password its mount requires. A mount
	// without it raises a password prompt.
	Passwords map[string]string
	// MountErr and UnmountErr fail every mount or unmount when set.
	MountErr   error
	UnmountErr error
	// UnmountQuestion, when set, is asked before every unmount; only the
	// first choice proceeds.
	UnmountQuestion string
	// Gate, when set, holds every mount until it is closed or receives.
	Gate chan struct{}
}

var (
	_ panel.Backend = (*FakeBackend)(nil)
	_ panel.Watcher = (*FakeBackend)(nil)
)

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		mounts:    make(map[string]panel.MountInfo),
		subs:      make(map[chan panel.MountEvent]struct{}),
		calls:     make(map[string]int),
		Passwords: make(map[string]string),
	}
}

// InfoFor returns the mount FakeBackend reports for rawURL: named after the
// host, at /mnt/<host><path>.
func InfoFor(rawURL string) panel.MountInfo {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return panel.MountInfo{Name: rawURL, Path: "/mnt/" + rawURL, Scheme: "file"}
	}
	return panel.MountInfo{
		Name:   u.Hostname(),
		Path:   "/mnt/" + u.Hostname() + strings.TrimSuffix(u.Path, "/"),
		Scheme: u.Scheme,
	}
}

func (b *FakeBackend) Mount(ctx context.Context, req panel.MountRequest) *panel.Operation {
	b.count("mount")
	return panel.StartOperation(func(op *panel.Operation) (panel.MountInfo, error) {
		if err := b.wait(ctx); err != nil {
			return panel.MountInfo{}, err
		}
		if b.MountErr != nil {
			return panel.MountInfo{}, b.MountErr
		}
		if b.isMounted(req.URL) {
			return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodeAlreadyMounted, nil, "%s is already mounted", req.URL)
		}

		b.mu.Lock()
		want, locked := b.Passwords[req.URL]
		b.mu.Unlock()
		if locked {
			reply, err := op.AskPassword(ctx, panel.PasswordRequest{
				Message:     "Password required for " + req.URL,
				DefaultUser: req.User,
				Flags:       panel.NeedPassword | panel.NeedUsername,
			})
			if err != nil || reply.Aborted {
				return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodeFailedHandled, err, "password dialog cancelled")
			}
			if reply.Password != want {
				return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodePermissionDenied, nil, "wrong password for %s", req.URL)
			}
		}

		info := InfoFor(req.URL)
		b.SetMounted(req.URL)
		b.publish(panel.MountEvent{Kind: panel.EventAdded, Name: info.Name, Path: info.Path, Scheme: info.Scheme})
		return info, nil
	})
}

func (b *FakeBackend) Unmount(ctx context.Context, rawURL string) *panel.Operation {
	b.count("unmount")
	return panel.StartOperation(func(op *panel.Operation) (panel.MountInfo, error) {
		if !b.isMounted(rawURL) {
			return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodeNotMounted, nil, "%s is not mounted", rawURL)
		}
		if b.UnmountQuestion != "" {
			choice, err := op.Ask(ctx, b.UnmountQuestion, []string{"Unmount Anyway", "Cancel"}, 1)
			if err != nil || choice != 0 {
				return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodeFailedHandled, err, "unmount cancelled")
			}
		}
		if b.UnmountErr != nil {
			return panel.MountInfo{}, b.UnmountErr
		}

		info := InfoFor(rawURL)
		b.DropMount(rawURL)
		b.publish(panel.MountEvent{Kind: panel.EventRemoved, Name: info.Name, Path: info.Path, Scheme: info.Scheme})
		return info, nil
	})
}

func (b *FakeBackend) FindMount(_ context.Context, rawURL string) *panel.Operation {
	b.count("find")
	return panel.StartOperation(func(*panel.Operation) (panel.MountInfo, error) {
		if !b.isMounted(rawURL) {
			return panel.MountInfo{}, panel.NewBackendError(fakeDomain, panel.CodeNotMounted, nil, "%s is not mounted", rawURL)
		}
		return InfoFor(rawURL), nil
	})
}

// Watch delivers the events passed to Emit, and those of mounts and
// unmounts made through the backend, until ctx is done.
func (b *FakeBackend) Watch(ctx context.Context, handle func(panel.MountEvent)) error {
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

// Watching reports whether a Watch loop is subscribed.
func (b *FakeBackend) Watching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

// Emit publishes ev to every watcher.
func (b *FakeBackend) Emit(ev panel.MountEvent) { b.publish(ev) }

// SetMounted marks rawURL as mounted without an event, as if another
// program had mounted it.
func (b *FakeBackend) SetMounted(rawURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mounts[rawURL] = InfoFor(rawURL)
}

// DropMount marks rawURL as unmounted without an event.
func (b *FakeBackend) DropMount(rawURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.mounts, rawURL)
}

// IsMounted reports whether rawURL is mounted.
func (b *FakeBackend) IsMounted(rawURL string) bool { return b.isMounted(rawURL) }

// Calls returns how often the operation kind ("mount", "unmount", "find")
// was started.
func (b *FakeBackend) Calls(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[kind]
}

func (b *FakeBackend) isMounted(rawURL string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.mounts[rawURL]
	return ok
}

func (b *FakeBackend) count(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[kind]++
}

func (b *FakeBackend) wait(ctx context.Context) error {
	if b.Gate == nil {
		return nil
	}
	select {
	case <-b.Gate:
		return nil
	case <-ctx.Done():
		return panel.NewBackendError(fakeDomain, panel.CodeCancelled, ctx.Err(), "operation cancelled")
	}
}

func (b *FakeBackend) publish(ev panel.MountEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
