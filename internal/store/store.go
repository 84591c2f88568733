// Package store persists resource records in a settings registry and
// migrates older record layouts to the current one.
package store

import (
	"context"
	"errors"
	"fmt"

	"vfspanel/internal/encryption"
	"vfspanel/internal/panel"
	"vfspanel/internal/registry"
	"vfspanel/internal/syncutil"
)

// CurrentVersion is the record layout written by Save.
const CurrentVersion = encryption.LatestVersion

// Layout history:
//
//	v1  URL in "Path", legacy packed password
//	v2  adds AskPassword
//	v3  passwords encrypted with AES keyed by storage ID
//	v4  passwords may live in the credential vault
//	v5  URL moves to "URL"
//
// Records written since v5 also carry their own Version value. A record
// rewritten by an interrupted migration is read by that value while the
// store version still names the old layout.
const (
	firstAskPasswordVersion = 2
	firstURLValueVersion    = 5
)

const (
	resourcesKey = "Resources"
	versionName  = "Version"

	urlName         = "URL"
	legacyURLName   = "Path"
	userName        = "User"
	passwordName    = "Password"
	askPasswordName = "AskPassword"
)

// Store is the registry-backed panel.RecordStore. Record I/O failures are
// logged and reported as false; they never abort a whole load.
type Store struct {
	reg      registry.Registry
	vault    panel.CredentialVault // nil disables vault storage
	useVault bool
	idgen    panel.IDGenerator
	logger   panel.Logger

	mu     syncutil.Mutex
	loaded bool
}

var _ panel.RecordStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// UseVaultForSecrets keeps passwords in Vault instead of the registry.
	// Ignored when Vault is nil. Delete clears Vault either way.
	UseVaultForSecrets bool
	Vault              panel.CredentialVault
	IDGenerator        panel.IDGenerator
	Logger             panel.Logger
}

// New creates a Store over reg.
func New(reg registry.Registry, opts Options) *Store {
	s := &Store{
		reg:      reg,
		vault:    opts.Vault,
		useVault: opts.UseVaultForSecrets && opts.Vault != nil,
		idgen:    opts.IDGenerator,
		logger:   opts.Logger,
	}
	if s.idgen == nil {
		s.idgen = panel.UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = panel.NewNopLogger()
	}
	return s
}

// Version returns the persisted layout version. A store without a version
// value is version 1, unless it holds no records at all, in which case it is
// stamped with CurrentVersion.
func (s *Store) Version(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version()
}

func (s *Store) version() (int, error) {
	v, err := registry.GetDWord(s.reg, "", versionName)
	if err == nil {
		return int(v), nil
	}
	if !errors.Is(err, registry.ErrValueNotFound) {
		return 0, fmt.Errorf("reading store version: %w", err)
	}

	exists, err := s.reg.KeyExists(resourcesKey)
	if err != nil {
		return 0, fmt.Errorf("checking for records: %w", err)
	}
	if exists {
		return 1, nil
	}

	if err := s.reg.CreateKey(resourcesKey); err != nil {
		return 0, fmt.Errorf("creating record root: %w", err)
	}
	if err := registry.SetDWord(s.reg, "", versionName, CurrentVersion); err != nil {
		return 0, fmt.Errorf("stamping store version: %w", err)
	}
	return CurrentVersion, nil
}

// LoadAll loads every persisted record keyed by URL. When two records share
// a URL, the one enumerated last wins. A store older than CurrentVersion is
// rewritten in the current layout before LoadAll returns.
func (s *Store) LoadAll(ctx context.Context) map[string]*panel.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAll(ctx)
}

func (s *Store) loadAll(ctx context.Context) map[string]*panel.Record {
	records := make(map[string]*panel.Record)

	version, err := s.version()
	if err != nil {
		s.logger.Warn("cannot load records", "error", err)
		return records
	}
	s.loaded = true

	ids, err := s.storageIDs()
	if err != nil {
		s.logger.Warn("cannot list records", "error", err)
		return records
	}

	var loaded []*panel.Record
	for _, id := range ids {
		rec := panel.NewRecord(id)
		if err := s.load(ctx, rec, version); err != nil {
			s.logger.Warn("skipping record", "id", id, "error", err)
			continue
		}
		records[rec.URL] = rec
		loaded = append(loaded, rec)
	}
	s.logger.Debug("records loaded", "count", len(loaded), "version", version)

	if version < CurrentVersion {
		s.migrate(ctx, loaded, version)
	}
	return records
}

// migrate rewrites recs in place in the current layout. The version is only
// bumped when every rewrite succeeded, so a failed migration is retried on
// the next load.
func (s *Store) migrate(ctx context.Context, recs []*panel.Record, from int) {
	failed := 0
	for _, rec := range recs {
		err := s.write(ctx, rec)
		if err == nil {
			err = s.reg.DeleteValue(recordKey(rec.StorageID), legacyURLName)
			if errors.Is(err, registry.ErrValueNotFound) {
				err = nil
			}
		}
		if err != nil {
			s.logger.Warn("migrating record", "id", rec.StorageID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		s.logger.Error("store migration incomplete", "from", from, "failed", failed)
		return
	}
	if err := registry.SetDWord(s.reg, "", versionName, CurrentVersion); err != nil {
		s.logger.Error("bumping store version", "error", err)
		return
	}
	s.logger.Info("store migrated", "from", from, "to", CurrentVersion, "records", len(recs))
}

// Load reads rec's persisted fields by its storage ID.
func (s *Store) Load(ctx context.Context, rec *panel.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.version()
	if err == nil {
		err = s.load(ctx, rec, version)
	}
	if err != nil {
		s.logger.Warn("loading record", "id", rec.StorageID, "error", err)
		return false
	}
	return true
}

func (s *Store) load(ctx context.Context, rec *panel.Record, storeVersion int) error {
	key := recordKey(rec.StorageID)

	version, err := s.recordVersion(key, storeVersion)
	if err != nil {
		return err
	}
	url, err := s.readURL(key, version)
	if err != nil {
		return err
	}
	user, err := optionalString(s.reg, key, userName)
	if err != nil {
		return err
	}

	ask := false
	if version >= firstAskPasswordVersion {
		v, err := registry.GetDWord(s.reg, key, askPasswordName)
		if err != nil && !errors.Is(err, registry.ErrValueNotFound) {
			return fmt.Errorf("reading %s: %w", askPasswordName, err)
		}
		ask = v != 0
	}

	rec.URL = url
	rec.User = user
	rec.AskPassword = ask
	rec.Password = ""
	if !ask {
		rec.Password = s.readPassword(ctx, key, rec.StorageID, version)
	}
	return nil
}

// recordVersion returns the layout rec was written in: its own Version value
// if present, otherwise the store's.
func (s *Store) recordVersion(key string, storeVersion int) (int, error) {
	v, err := registry.GetDWord(s.reg, key, versionName)
	if errors.Is(err, registry.ErrValueNotFound) {
		return storeVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading record %s: %w", versionName, err)
	}
	return int(v), nil
}

// readURL reads the URL under the value name of the given version, falling
// back to the other name for records left behind by a partial migration.
func (s *Store) readURL(key string, version int) (string, error) {
	names := []string{legacyURLName, urlName}
	if version >= firstURLValueVersion {
		names = []string{urlName, legacyURLName}
	}
	for _, name := range names {
		url, err := registry.GetString(s.reg, key, name)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, registry.ErrValueNotFound) {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("record %s has no URL", key)
}

// readPassword never fails the load: a lost password is recovered by asking
// the operator again, so every problem degrades to an empty password.
// A stored blob is decrypted with the version's cipher; an empty one means
// the password, if any, is in the vault.
func (s *Store) readPassword(ctx context.Context, key, id string, version int) string {
	blob, err := registry.GetBinary(s.reg, key, passwordName)
	if err != nil && !errors.Is(err, registry.ErrValueNotFound) {
		s.logger.Warn("reading password", "id", id, "error", err)
		return ""
	}
	if len(blob) == 0 {
		return s.readVaulted(ctx, id)
	}

	c, err := encryption.NewCipherForVersion(version, id)
	if err != nil {
		s.logger.Warn("password cipher", "id", id, "error", err)
		return ""
	}
	plain, err := c.Decrypt(blob)
	if err != nil {
		s.logger.Warn("decrypting password", "id", id, "error", err)
		return ""
	}
	return string(plain)
}

func (s *Store) readVaulted(ctx context.Context, id string) string {
	if !s.useVault {
		return ""
	}
	pw, found, err := s.vault.Load(ctx, id)
	if err != nil {
		s.logger.Warn("reading vaulted password", "id", id, "error", err)
		return ""
	}
	if !found {
		s.logger.Debug("no vaulted password", "id", id)
	}
	return pw
}

// Save writes rec in the current layout. A stale store is migrated first if
// LoadAll has not run yet.
func (s *Store) Save(ctx context.Context, rec *panel.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		version, err := s.version()
		if err != nil {
			s.logger.Warn("saving record", "id", rec.StorageID, "error", err)
			return false
		}
		if version < CurrentVersion {
			s.loadAll(ctx)
		}
	}

	if err := s.write(ctx, rec); err != nil {
		s.logger.Warn("saving record", "id", rec.StorageID, "error", err)
		return false
	}
	s.logger.Debug("record saved", "id", rec.StorageID)
	return true
}

func (s *Store) write(ctx context.Context, rec *panel.Record) error {
	if rec.StorageID == "" {
		return fmt.Errorf("record has no storage id")
	}
	key := recordKey(rec.StorageID)

	blob, err := s.passwordBlob(ctx, rec)
	if err != nil {
		return err
	}

	if err := s.reg.CreateKey(key); err != nil {
		return fmt.Errorf("creating %s: %w", key, err)
	}
	if err := registry.SetString(s.reg, key, urlName, rec.URL); err != nil {
		return fmt.Errorf("writing %s: %w", urlName, err)
	}
	if err := registry.SetString(s.reg, key, userName, rec.User); err != nil {
		return fmt.Errorf("writing %s: %w", userName, err)
	}
	ask := uint32(0)
	if rec.AskPassword {
		ask = 1
	}
	if err := registry.SetDWord(s.reg, key, askPasswordName, ask); err != nil {
		return fmt.Errorf("writing %s: %w", askPasswordName, err)
	}

	// The password blob and the record version change together: an old blob
	// must never be read as the current layout, nor a new blob as an old one.
	prev, prevErr := registry.GetBinary(s.reg, key, passwordName)
	if prevErr != nil && !errors.Is(prevErr, registry.ErrValueNotFound) {
		return fmt.Errorf("reading %s: %w", passwordName, prevErr)
	}
	if err := registry.SetBinary(s.reg, key, passwordName, blob); err != nil {
		return fmt.Errorf("writing %s: %w", passwordName, err)
	}
	if err := registry.SetDWord(s.reg, key, versionName, CurrentVersion); err != nil {
		s.restorePassword(key, prev, prevErr == nil)
		return fmt.Errorf("writing record %s: %w", versionName, err)
	}
	return nil
}

// restorePassword puts back the blob a failed write replaced.
func (s *Store) restorePassword(key string, prev []byte, existed bool) {
	var err error
	if existed {
		err = registry.SetBinary(s.reg, key, passwordName, prev)
	} else {
		err = s.reg.DeleteValue(key, passwordName)
	}
	if err != nil {
		s.logger.Error("restoring password after failed write", "key", key, "error", err)
	}
}

// passwordBlob returns the bytes to store in the Password value. Vaulted and
// ask-per-mount passwords leave the value empty.
func (s *Store) passwordBlob(ctx context.Context, rec *panel.Record) ([]byte, error) {
	switch {
	case rec.AskPassword:
		if s.useVault {
			if err := s.vault.Remove(ctx, rec.StorageID); err != nil {
				s.logger.Warn("removing vaulted password", "id", rec.StorageID, "error", err)
			}
		}
		return nil, nil
	case s.useVault:
		if err := s.vault.Store(ctx, rec.StorageID, rec.Password); err != nil {
			return nil, fmt.Errorf("vaulting password: %w", err)
		}
		return nil, nil
	case rec.Password == "":
		return nil, nil
	}

	c, err := encryption.NewCipherForVersion(CurrentVersion, rec.StorageID)
	if err != nil {
		return nil, err
	}
	blob, err := c.Encrypt([]byte(rec.Password))
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}
	return blob, nil
}

// Delete removes rec from the registry and drops any vaulted secret for its
// storage ID, whether or not the vault is in use.
func (s *Store) Delete(ctx context.Context, rec *panel.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.DeleteKey(recordKey(rec.StorageID)); err != nil {
		s.logger.Warn("deleting record", "id", rec.StorageID, "error", err)
	}
	if s.vault != nil {
		if err := s.vault.Remove(ctx, rec.StorageID); err != nil {
			s.logger.Debug("removing vaulted password", "id", rec.StorageID, "error", err)
		}
	}
}

// Factory returns a new unsaved record with a fresh storage ID.
func (s *Store) Factory() *panel.Record {
	return panel.NewRecord(s.idgen.New())
}

// FindDuplicate reports whether a persisted record other than excludingID
// has exactly the given URL and user.
func (s *Store) FindDuplicate(ctx context.Context, url, user, excludingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.version()
	if err != nil {
		s.logger.Warn("checking for duplicates", "error", err)
		return false
	}
	ids, err := s.storageIDs()
	if err != nil {
		s.logger.Warn("checking for duplicates", "error", err)
		return false
	}

	for _, id := range ids {
		if id == excludingID {
			continue
		}
		key := recordKey(id)
		u, err := s.readURL(key, version)
		if err != nil || u != url {
			continue
		}
		usr, err := optionalString(s.reg, key, userName)
		if err == nil && usr == user {
			return true
		}
	}
	return false
}

func (s *Store) storageIDs() ([]string, error) {
	ids, err := s.reg.SubKeys(resourcesKey)
	if errors.Is(err, registry.ErrKeyNotFound) {
		return nil, nil
	}
	return ids, err
}

func recordKey(id string) string {
	return registry.JoinKey(resourcesKey, id)
}

func optionalString(r registry.Registry, key, name string) (string, error) {
	s, err := registry.GetString(r, key, name)
	if errors.Is(err, registry.ErrValueNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return s, nil
}
