package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"vfspanel/internal/config"
	"vfspanel/internal/gvfs"
	"vfspanel/internal/monitor"
	"vfspanel/internal/panel"
	"vfspanel/internal/registry"
	"vfspanel/internal/session"
	"vfspanel/internal/store"
	"vfspanel/internal/vault"
)

// Options adjusts how an App is wired.
type Options struct {
	// Command names the CLI command being run, for the log.
	Command string

	UI       panel.UI
	Notifier panel.Notifier

	// Session marks a long-running panel session: the event monitor runs
	// and Close performs the exit sweep. One-shot commands leave mounts in
	// place.
	Session bool

	// Backend replaces the configured mount backend. Watcher is its event
	// source and is only consulted when Backend is set.
	Backend panel.Backend
	Watcher panel.Watcher
}

// App is the application layer between the CLI and the panel Service.
// It constructs all dependencies from config and releases them on Close.
type App struct {
	cfg     *config.Config
	opts    Options
	run     *Run
	logger  panel.Logger
	store   *store.Store
	service *panel.Service
	monitor *monitor.Monitor

	// closers are released in reverse order.
	closers []io.Closer
}

// New creates a fully wired App from cfg and loads the persisted resources.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	run := NewRun(opts.Command, time.Now())
	logger, logCloser, err := newLogger(cfg.Log, run.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{cfg: cfg, opts: opts, run: run, logger: logger, closers: []io.Closer{logCloser}}

	reg, err := registry.NewRegistryFromConfig(cfg.Registry)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	a.closers = append(a.closers, reg)

	// The vault is opened even when secrets stay in the store, so deleting a
	// resource can clean up what an earlier configuration vaulted.
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault, logger)
	if err != nil {
		if cfg.UseVaultForSecrets {
			a.release()
			return nil, fmt.Errorf("opening credential vault: %w", err)
		}
		logger.Warn("credential vault unavailable", "type", cfg.Vault.Type, "error", err)
		v = nil
	}
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.store = store.New(reg, store.Options{
		UseVaultForSecrets: cfg.UseVaultForSecrets,
		Vault:              v,
		Logger:             logger,
	})

	backend, watcher := opts.Backend, opts.Watcher
	if backend == nil {
		var closer io.Closer
		backend, watcher, closer, err = newBackendFromConfig(cfg, logger)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("creating mount backend: %w", err)
		}
		a.closers = append(a.closers, closer)
	}

	a.service = panel.NewService(a.store, panel.NewTable(), backend, opts.UI, opts.Notifier, logger, panel.ServiceOptions{
		UnmountAllAtExit: cfg.UnmountAllAtExit,
	})
	logger.Info("session started", "command", opts.Command, "backend", cfg.Backend.Type)
	a.service.Load(ctx)

	if opts.Session && cfg.Monitor.Enabled && watcher != nil {
		a.monitor = monitor.New(watcher, a.service, monitor.Options{
			PollInterval: time.Duration(cfg.Monitor.PollIntervalMS) * time.Millisecond,
			Logger:       logger,
		})
		if err := a.monitor.Start(ctx); err != nil {
			a.release()
			return nil, fmt.Errorf("starting mount monitor: %w", err)
		}
		a.service.AttachMonitor(a.monitor)
	}
	return a, nil
}

// newBackendFromConfig creates the mount backend named by the config and the
// watcher that reports its external mount changes.
func newBackendFromConfig(cfg *config.Config, logger panel.Logger) (panel.Backend, panel.Watcher, io.Closer, error) {
	switch cfg.Backend.Type {
	case "gvfs":
		root := cfg.Backend.FuseRoot
		if root == "" {
			root = gvfs.DefaultFuseRoot()
		}
		client, err := gvfs.NewClient(root, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Monitor.Source == "fuse" {
			return client, gvfs.NewFuseWatcher(client.FuseRoot(), client, logger), client, nil
		}
		return client, client.Watcher(), client, nil
	case "session":
		sftp := session.NewSFTPDialer()
		if cfg.Backend.KnownHostsPath != "" {
			sftp.KnownHosts = cfg.Backend.KnownHostsPath
		}
		if cfg.Backend.DialTimeoutMS > 0 {
			sftp.Timeout = time.Duration(cfg.Backend.DialTimeoutMS) * time.Millisecond
		}
		b := session.New(map[string]session.Dialer{
			"smb":  session.SMBDialer{},
			"sftp": sftp,
		}, logger)
		return b, b, b, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend type: %s", cfg.Backend.Type)
	}
}

// Service returns the panel service.
func (a *App) Service() *panel.Service { return a.service }

// Store returns the record store.
func (a *App) Store() *store.Store { return a.store }

// Logger returns the application logger.
func (a *App) Logger() panel.Logger { return a.logger }

// Fail marks the current run as failed for the closing log line.
func (a *App) Fail() { a.run.Fail() }

// Close shuts the session down and releases every resource. In a panel
// session the monitor is stopped and, if configured, every mounted resource
// unmounted first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.opts.Session {
		if err := a.service.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("exit sweep: %w", err))
		}
	}
	if len(errs) > 0 {
		a.run.Fail()
	}
	a.logger.Info("session finished", "command", a.run.Command, "status", a.run.Status,
		"elapsed", time.Since(a.run.Started).Round(time.Millisecond).String())

	errs = append(errs, a.release())
	return errors.Join(errs...)
}

func (a *App) release() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
