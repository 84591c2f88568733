// Package monitor reconciles mount changes made outside the panel, such as
// another application mounting a share or a server dropping a connection,
// into the resource table.
//
// Two goroutines run while the monitor is started: one runs the Watcher's
// event loop and queues a job per event, the other drains the queue and
// calls the Reconciler. Reconciliation never blocks event delivery.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"vfspanel/internal/panel"
	"vfspanel/internal/syncutil"
)

// DefaultPollInterval bounds how long the worker waits on an empty queue
// before checking for shutdown.
const DefaultPollInterval = 500 * time.Millisecond

var ErrStopped = errors.New("monitor already stopped")

// Options configures a Monitor.
type Options struct {
	PollInterval time.Duration
	Clock        clockwork.Clock
	Logger       panel.Logger
}

// Monitor feeds external mount events to a Reconciler.
type Monitor struct {
	watcher    panel.Watcher
	reconciler panel.Reconciler
	queue      *JobQueue
	poll       time.Duration
	logger     panel.Logger

	mu      syncutil.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ panel.Stopper = (*Monitor)(nil)

// New creates a stopped Monitor.
func New(w panel.Watcher, r panel.Reconciler, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = panel.NewNopLogger()
	}
	return &Monitor{
		watcher:    w,
		reconciler: r,
		queue:      NewJobQueue(opts.Clock),
		poll:       opts.PollInterval,
		logger:     opts.Logger,
	}
}

// Start spawns the watcher and worker goroutines. Calling Start on a running
// monitor does nothing; a stopped monitor cannot be restarted.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	m.wg.Add(2)
	go m.watch(ctx)
	go m.work(ctx)
	m.logger.Info("mount monitor started", "poll_interval", m.poll)
	return nil
}

// Stop shuts both goroutines down and waits for them. It is safe to call
// more than once and before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		cancel := m.cancel
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.wg.Wait()
		if cancel != nil {
			m.logger.Info("mount monitor stopped", "dropped_jobs", m.queue.Len())
		}
	})
}

func (m *Monitor) watch(ctx context.Context) {
	defer m.wg.Done()
	if err := m.watcher.Watch(ctx, m.handle); err != nil && ctx.Err() == nil {
		m.logger.Error("mount event source failed", "error", err)
	}
}

func (m *Monitor) handle(ev panel.MountEvent) {
	switch ev.Kind {
	case panel.EventAdded:
		m.logger.Debug("mount added", "name", ev.Name, "path", ev.Path, "scheme", ev.Scheme)
		m.queue.Push(Job{Kind: JobMount})
	case panel.EventRemoved:
		m.logger.Debug("mount removed", "name", ev.Name, "path", ev.Path, "scheme", ev.Scheme)
		m.queue.Push(Job{Kind: JobUnmount, Name: ev.Name, Path: ev.Path, Scheme: ev.Scheme})
	default:
		m.logger.Debug("mount event", "kind", ev.Kind, "name", ev.Name, "path", ev.Path)
	}
}

func (m *Monitor) work(ctx context.Context) {
	defer m.wg.Done()
	for {
		jobs := m.queue.Drain(ctx, m.poll)
		if ctx.Err() != nil {
			return
		}
		for _, job := range jobs {
			m.run(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Monitor) run(ctx context.Context, job Job) {
	m.logger.Debug("reconciling", "job", job.Kind, "name", job.Name)
	switch job.Kind {
	case JobMount:
		m.reconciler.RecordsMounted(ctx)
	case JobUnmount:
		m.reconciler.RecordUnmounted(ctx, job.Name, job.Path, job.Scheme)
	}
}
