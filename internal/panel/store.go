package panel

import "context"

// RecordStore persists records across sessions.
type RecordStore interface {
	// LoadAll returns every persisted record keyed by URL, migrating the
	// store to the current schema version on the way.
	LoadAll(ctx context.Context) map[string]*Record

	// Save writes rec in the current schema. It reports false when the
	// write failed.
	Save(ctx context.Context, rec *Record) bool

	// Delete removes rec and any vaulted secret it owns.
	Delete(ctx context.Context, rec *Record)

	// Factory returns a new record with a fresh storage ID.
	Factory() *Record

	// FindDuplicate reports whether a persisted record other than
	// excludingID has the same URL and user.
	FindDuplicate(ctx context.Context, url, user, excludingID string) bool
}
