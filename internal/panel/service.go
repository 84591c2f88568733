package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound  = errors.New("resource not found")
	ErrDuplicate = errors.New("a resource with the same URL and user already exists")
	ErrURLInUse  = errors.New("another resource already uses this URL")
	ErrEmptyURL  = errors.New("resource URL is empty")
)

// Stopper is implemented by background components stopped at shutdown.
type Stopper interface {
	Stop()
}

// ServiceOptions holds the configuration the service consults at runtime.
type ServiceOptions struct {
	UnmountAllAtExit bool
	// SweepConcurrency bounds parallel unmounts during Shutdown.
	SweepConcurrency int
}

// Service is the entry point the shell drives: it owns the resource table,
// runs operator mount actions and reconciles external mount changes.
//
// Operator actions run one at a time. The table lock is only held while a
// record is copied out or a result committed back, never across backend I/O.
type Service struct {
	store    RecordStore
	table    *Table
	backend  Backend
	ui       UI
	notifier Notifier
	logger   Logger
	opts     ServiceOptions

	opMu    sync.Mutex
	monitor Stopper
}

// NewService wires a Service. notifier may be nil.
func NewService(store RecordStore, table *Table, backend Backend, ui UI, notifier Notifier, logger Logger, opts ServiceOptions) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 4
	}
	return &Service{
		store:    store,
		table:    table,
		backend:  backend,
		ui:       ui,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// AttachMonitor registers the event monitor so Shutdown can stop it first.
func (s *Service) AttachMonitor(m Stopper) {
	s.monitor = m
}

// Table exposes the resource table.
func (s *Service) Table() *Table { return s.table }

// Load reads every persisted record into the table and returns their count.
func (s *Service) Load(ctx context.Context) int {
	records := s.store.LoadAll(ctx)
	s.table.Replace(records)
	s.logger.Info("resources loaded", "count", len(records))
	return len(records)
}

// NewRecord returns a fresh unsaved record.
func (s *Service) NewRecord() *Record {
	return s.store.Factory()
}

// FindDuplicate reports whether a record other than excludingID already has
// url and user, looking at both the table and everything persisted.
func (s *Service) FindDuplicate(ctx context.Context, url, user, excludingID string) bool {
	if s.table.FindDuplicate(url, user, excludingID) {
		return true
	}
	return s.store.FindDuplicate(ctx, url, user, excludingID)
}

// Add persists a new record and inserts it into the table.
func (s *Service) Add(ctx context.Context, rec *Record) error {
	if rec.URL == "" {
		return ErrEmptyURL
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.FindDuplicate(ctx, rec.URL, rec.User, rec.StorageID) {
		return ErrDuplicate
	}
	if _, taken := s.table.Get(rec.URL); taken {
		return ErrURLInUse
	}

	rec = rec.Clone()
	rec.clearMounted()
	s.persist(ctx, rec)
	if rec.AskPassword {
		rec.Password = ""
	}
	s.table.Put(rec)
	s.logger.Info("resource added", "url", rec.URL, "id", rec.StorageID)
	return nil
}

// Edit replaces the definition of the record stored under oldURL. The
// storage ID is kept. Changing the URL of a mounted record unmounts it first.
func (s *Service) Edit(ctx context.Context, oldURL string, rec *Record) error {
	if rec.URL == "" {
		return ErrEmptyURL
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur, ok := s.table.Get(oldURL)
	if !ok {
		return fmt.Errorf("editing %s: %w", oldURL, ErrNotFound)
	}
	rec = rec.Clone()
	rec.StorageID = cur.StorageID

	if s.FindDuplicate(ctx, rec.URL, rec.User, rec.StorageID) {
		return ErrDuplicate
	}
	if rec.URL != oldURL {
		if _, taken := s.table.Get(rec.URL); taken {
			return ErrURLInUse
		}
	}

	rec.clearMounted()
	if cur.IsMounted() {
		if rec.URL == oldURL {
			copyMountState(rec, cur)
		} else {
			s.forceUnmount(ctx, cur)
		}
	}

	s.persist(ctx, rec)
	if rec.AskPassword {
		rec.Password = ""
	}
	s.table.Remove(oldURL)
	s.table.Put(rec)
	s.logger.Info("resource edited", "url", rec.URL, "id", rec.StorageID)
	return nil
}

// Remove unmounts the record stored under url, ignoring failures, and
// deletes it from storage and the table.
func (s *Service) Remove(ctx context.Context, url string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, ok := s.table.Get(url)
	if !ok {
		return fmt.Errorf("removing %s: %w", url, ErrNotFound)
	}
	if rec.IsMounted() {
		s.forceUnmount(ctx, rec)
	}
	s.store.Delete(ctx, rec)
	s.table.Remove(url)
	s.logger.Info("resource removed", "url", url, "id", rec.StorageID)
	return nil
}

// SetPassword stages a password for the next mount of the record under url.
func (s *Service) SetPassword(url, password string) error {
	if !s.updateByURL(url, func(r *Record) { r.Password = password }) {
		return fmt.Errorf("setting password for %s: %w", url, ErrNotFound)
	}
	return nil
}

// Mount mounts the record stored under url and returns its updated copy.
// A record that is already mounted is returned as is.
func (s *Service) Mount(ctx context.Context, url string) (*Record, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, ok := s.table.Get(url)
	if !ok {
		return nil, fmt.Errorf("mounting %s: %w", url, ErrNotFound)
	}
	if rec.IsMounted() {
		return rec, nil
	}

	s.table.BeginProcessing(rec.StorageID)
	defer s.table.EndProcessing()

	err := rec.Mount(ctx, s.operatorTransport())
	s.table.Update(url, rec.StorageID, func(r *Record) {
		copyMountState(r, rec)
		r.Password = rec.Password
	})
	if err != nil {
		return rec, fmt.Errorf("mounting %s: %w", url, err)
	}
	s.persist(ctx, rec)
	return rec, nil
}

// Unmount unmounts the record stored under url. When the backend reports the
// resource as not mounted, the record is cleared and the error returned.
func (s *Service) Unmount(ctx context.Context, url string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, ok := s.table.Get(url)
	if !ok {
		return fmt.Errorf("unmounting %s: %w", url, ErrNotFound)
	}

	s.table.BeginProcessing(rec.StorageID)
	defer s.table.EndProcessing()

	err := rec.Unmount(ctx, s.operatorTransport())
	s.table.Update(url, rec.StorageID, func(r *Record) { copyMountState(r, rec) })
	if err != nil {
		return fmt.Errorf("unmounting %s: %w", url, err)
	}
	return nil
}

// CheckAll refreshes the mount state of every record that is not mounted
// and returns how many turned out to be mounted.
func (s *Service) CheckAll(ctx context.Context) int {
	found := 0
	for _, rec := range s.table.Reconcilable(func(r *Record) bool { return !r.IsMounted() }) {
		if !rec.MountCheck(ctx, s.backgroundTransport()) {
			continue
		}
		if s.table.commitIfIdle(rec.URL, rec.StorageID, func(r *Record) { copyMountState(r, rec) }) {
			found++
			s.logger.Info("resource found mounted", "url", rec.URL, "path", rec.MountedPath)
		}
	}
	return found
}

// RecordsMounted handles an external mount: every record that is not mounted
// and not being processed is status-checked.
func (s *Service) RecordsMounted(ctx context.Context) {
	s.CheckAll(ctx)
	s.notifier.RecordMountedExternally()
}

// RecordUnmounted handles an external unmount: mounted records matching the
// event by name, protocol and path prefix are unmounted. Failures are
// logged and never reach the operator.
func (s *Service) RecordUnmounted(ctx context.Context, name, path, scheme string) {
	matches := s.table.Reconcilable(func(r *Record) bool { return r.sameMount(name, path, scheme) })
	for _, rec := range matches {
		if err := rec.Unmount(ctx, s.backgroundTransport()); err != nil {
			s.logger.Debug("reconciling external unmount", "url", rec.URL, "error", err)
			if rec.IsMounted() {
				rec.MountCheck(ctx, s.backgroundTransport())
			}
		}
		s.table.commitIfIdle(rec.URL, rec.StorageID, func(r *Record) { copyMountState(r, rec) })
		s.logger.Info("resource unmounted externally", "url", rec.URL, "mounted", rec.IsMounted())
	}
	s.notifier.RecordUnmountedExternally(name, path, scheme)
}

// Shutdown stops the monitor and, if configured, unmounts every mounted
// record. Individual failures do not stop the sweep; they are returned
// joined once it is complete.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if !s.opts.UnmountAllAtExit {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.opts.SweepConcurrency)
	for _, rec := range s.table.Snapshot() {
		if !rec.IsMounted() {
			continue
		}
		g.Go(func() error {
			err := rec.Unmount(ctx, s.backgroundTransport())
			s.table.Update(rec.URL, rec.StorageID, func(r *Record) { copyMountState(r, rec) })
			if err != nil {
				s.logger.Warn("unmount at exit failed", "url", rec.URL, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("unmounting %s: %w", rec.URL, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Service) persist(ctx context.Context, rec *Record) {
	if !s.store.Save(ctx, rec) {
		s.logger.Warn("resource not persisted", "url", rec.URL, "id", rec.StorageID)
	}
}

// forceUnmount unmounts rec, logging any failure.
func (s *Service) forceUnmount(ctx context.Context, rec *Record) {
	s.table.BeginProcessing(rec.StorageID)
	defer s.table.EndProcessing()
	if err := rec.Unmount(ctx, s.operatorTransport()); err != nil {
		s.logger.Warn("forced unmount failed", "url", rec.URL, "error", err)
	}
}

func (s *Service) updateByURL(url string, fn func(*Record)) bool {
	rec, ok := s.table.Get(url)
	if !ok {
		return false
	}
	return s.table.Update(url, rec.StorageID, fn)
}

func (s *Service) operatorTransport() *Transport {
	return NewTransport(s.backend, s.ui, s.logger)
}

// backgroundTransport has no UI: prompts raised during reconciliation are
// aborted.
func (s *Service) backgroundTransport() *Transport {
	return NewTransport(s.backend, nil, s.logger)
}

func copyMountState(dst, src *Record) {
	dst.Protocol = src.Protocol
	dst.MountedPath = src.MountedPath
	dst.MountedName = src.MountedName
}
