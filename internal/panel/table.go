package panel

import (
	"sort"

	"vfspanel/internal/syncutil"
)

// Table is the resource table: records keyed by URL behind one lock, plus
// the storage ID of the record the operator is currently working on.
//
// Records handed out by Table are copies. Callers do their I/O on the copy
// and commit the result back with Update or Put.
type Table struct {
	mu         syncutil.Mutex
	records    map[string]*Record
	processing string
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{records: make(map[string]*Record)}
}

// Replace swaps the whole content of the table.
func (t *Table) Replace(records map[string]*Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Record, len(records))
	for url, rec := range records {
		t.records[url] = rec.Clone()
	}
}

// Get returns a copy of the record stored under url.
func (t *Table) Get(url string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[url]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put stores a copy of rec under its URL.
func (t *Table) Put(rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.URL] = rec.Clone()
}

// Remove erases the record stored under url and returns it.
func (t *Table) Remove(url string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[url]
	if ok {
		delete(t.records, url)
	}
	return rec, ok
}

// Update applies fn to the record stored under url if it still has the given
// storage ID. It reports whether fn ran.
func (t *Table) Update(url, storageID string, fn func(*Record)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[url]
	if !ok || rec.StorageID != storageID {
		return false
	}
	fn(rec)
	return true
}

// Snapshot returns copies of all records ordered by URL.
func (t *Table) Snapshot() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(func(*Record) bool { return true })
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Reconcilable returns copies of the records matching keep, skipping the
// record currently being processed by the operator.
func (t *Table) Reconcilable(keep func(*Record) bool) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(func(r *Record) bool {
		return r.StorageID != t.processing && keep(r)
	})
}

// BeginProcessing marks storageID as being worked on by the operator.
func (t *Table) BeginProcessing(storageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = storageID
}

// EndProcessing clears the processing mark.
func (t *Table) EndProcessing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = ""
}

// Processing returns the storage ID currently being processed, if any.
func (t *Table) Processing() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processing
}

// FindDuplicate reports whether a record other than excludingID has the
// same URL and user.
func (t *Table) FindDuplicate(url, user, excludingID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		if rec.StorageID != excludingID && rec.URL == url && rec.User == user {
			return true
		}
	}
	return false
}

// commitIfIdle is Update that also refuses records the operator is busy with.
func (t *Table) commitIfIdle(url, storageID string, fn func(*Record)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[url]
	if !ok || rec.StorageID != storageID || rec.StorageID == t.processing {
		return false
	}
	fn(rec)
	return true
}

// collect must be called with t.mu held.
func (t *Table) collect(keep func(*Record) bool) []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
