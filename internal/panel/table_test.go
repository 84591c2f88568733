package panel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableWith(records ...*Record) *Table {
	m := make(map[string]*Record, len(records))
	for _, r := range records {
		m[r.URL] = r
	}
	t := NewTable()
	t.Replace(m)
	return t
}

func rec(id, url, user string) *Record {
	r := NewRecord(id)
	r.URL, r.User = url, user
	return r
}

func TestTable_HandsOutCopies(t *testing.T) {
	t.Parallel()
	tbl := tableWith(rec("a", "smb://nas/a", ""))

	got, ok := tbl.Get("smb://nas/a")
	require.True(t, ok)
	got.User = "mallory"

	again, _ := tbl.Get("smb://nas/a")
	assert.Empty(t, again.User)
}

func TestTable_UpdateChecksStorageID(t *testing.T) {
	t.Parallel()
	tbl := tableWith(rec("a", "smb://nas/a", ""))

	assert.False(t, tbl.Update("smb://nas/a", "b", func(r *Record) { r.User = "x" }))
	assert.False(t, tbl.Update("smb://nas/missing", "a", func(r *Record) { r.User = "x" }))
	assert.True(t, tbl.Update("smb://nas/a", "a", func(r *Record) { r.User = "bob" }))

	got, _ := tbl.Get("smb://nas/a")
	assert.Equal(t, "bob", got.User)
}

func TestTable_ProcessingRecordIsSkipped(t *testing.T) {
	t.Parallel()
	tbl := tableWith(rec("a", "smb://nas/a", ""), rec("b", "smb://nas/b", ""))
	all := func(*Record) bool { return true }

	tbl.BeginProcessing("a")
	assert.Equal(t, "a", tbl.Processing())

	recs := tbl.Reconcilable(all)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].StorageID)

	assert.False(t, tbl.commitIfIdle("smb://nas/a", "a", func(r *Record) { r.User = "x" }))
	assert.True(t, tbl.commitIfIdle("smb://nas/b", "b", func(r *Record) { r.User = "x" }))

	tbl.EndProcessing()
	assert.Len(t, tbl.Reconcilable(all), 2)
	assert.True(t, tbl.commitIfIdle("smb://nas/a", "a", func(r *Record) { r.User = "x" }))
}

func TestTable_FindDuplicate(t *testing.T) {
	t.Parallel()
	tbl := tableWith(rec("a", "sftp://host/", "bob"))

	assert.True(t, tbl.FindDuplicate("sftp://host/", "bob", "new"))
	assert.False(t, tbl.FindDuplicate("sftp://host/", "bob", "a"))
	assert.False(t, tbl.FindDuplicate("sftp://host/", "alice", "new"))
}

func TestTable_SnapshotIsSorted(t *testing.T) {
	t.Parallel()
	tbl := tableWith(rec("c", "smb://nas/c", ""), rec("a", "ftp://files/", ""), rec("b", "sftp://host/", ""))

	var urls []string
	for _, r := range tbl.Snapshot() {
		urls = append(urls, r.URL)
	}
	assert.Equal(t, []string{"ftp://files/", "sftp://host/", "smb://nas/c"}, urls)

	removed, ok := tbl.Remove("ftp://files/")
	require.True(t, ok)
	assert.Equal(t, "a", removed.StorageID)
	assert.Equal(t, 2, tbl.Len())
}
